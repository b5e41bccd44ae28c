package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "strata", cmd.Use)
	assert.Contains(t, cmd.Long, "event-sourced graph store")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "replay", "diff", "test", "log", "find"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestDatabaseFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"replay", "log", "find", "diff"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			dbFlag := sub.Flags().Lookup("db")
			require.NotNil(t, dbFlag)
			assert.Equal(t, "", dbFlag.DefValue)
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	_, err := execute(cmd, "--format", "xml", "log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestExplicitConfigMustExist(t *testing.T) {
	cmd := NewRootCommand()
	_, err := execute(cmd, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "log")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestConfigSuppliesDatabase(t *testing.T) {
	db := seedDatabase(t)
	cfg := writeFile(t, t.TempDir(), "strata.yaml", "database: "+db+"\nlog_level: warn\n")

	cmd := NewRootCommand()
	out, err := execute(cmd, "--config", cfg, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "version v-1 (main)")
}

func TestFlagOverridesConfig(t *testing.T) {
	opts := testRootOptions("text")
	opts.Settings.Database = "from-config.db"
	opts.Settings.Schema = "config-schema"

	assert.Equal(t, "from-config.db", opts.database(""))
	assert.Equal(t, "flag.db", opts.database("flag.db"))
	assert.Equal(t, "config-schema", opts.schemaPath(""))
	assert.Equal(t, "flag-schema", opts.schemaPath("flag-schema"))
}

func TestLoggerLevel(t *testing.T) {
	opts := testRootOptions("text")
	opts.Settings.LogLevel = "warn"

	logger := opts.Logger(os.Stderr)
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, logger.Enabled(t.Context(), slog.LevelWarn))

	opts.Verbose = true
	logger = opts.Logger(os.Stderr)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}
