package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/strata/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), false)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
database: data/graph.db
schema: schema/
max_undo: 10
cascade: delete
log_level: debug
`)
	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "data/graph.db", cfg.Database)
	assert.Equal(t, "schema/", cfg.Schema)
	assert.Equal(t, 10, cfg.MaxUndo)
	assert.Equal(t, graph.CascadeDelete, cfg.CascadePolicy())
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "cascade: reject\n"), false)
	require.NoError(t, err)
	assert.Equal(t, "strata.db", cfg.Database)
	assert.Equal(t, 100, cfg.MaxUndo)
	assert.Equal(t, graph.CascadeReject, cfg.CascadePolicy())
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "databse: typo.db\n"), false)
	assert.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.MaxUndo = -1
	cfg.Cascade = "explode"
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_undo")
	assert.Contains(t, err.Error(), "cascade")
	assert.Contains(t, err.Error(), "log_level")
}

func TestMerge(t *testing.T) {
	cfg := Default()
	cfg.Merge(Config{Database: "other.db"})
	assert.Equal(t, "other.db", cfg.Database)
	assert.Equal(t, "info", cfg.LogLevel)
}
