package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/store"
)

// snapshotFile is the YAML shape of a snapshot file.
type snapshotFile struct {
	Entities  []map[string]any `yaml:"entities"`
	Relations []map[string]any `yaml:"relations"`
}

// LoadSnapshot reads a snapshot from a JSON or YAML file. Files ending in
// .yaml or .yml are read as YAML, anything else as JSON.
func LoadSnapshot(path string) (ir.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLSnapshot(data)
	default:
		var snap ir.Snapshot
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&snap); err != nil {
			return ir.Snapshot{}, fmt.Errorf("parse snapshot %s: %w", path, err)
		}
		return snap.Clone(), nil
	}
}

func parseYAMLSnapshot(data []byte) (ir.Snapshot, error) {
	var file snapshotFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return ir.Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}

	snap := ir.Snapshot{
		Entities:  make([]ir.Record, 0, len(file.Entities)),
		Relations: make([]ir.Record, 0, len(file.Relations)),
	}
	for i, m := range file.Entities {
		rec, err := ir.NormalizeRecord(m)
		if err != nil {
			return ir.Snapshot{}, fmt.Errorf("entities[%d]: %w", i, err)
		}
		snap.Entities = append(snap.Entities, rec)
	}
	for i, m := range file.Relations {
		rec, err := ir.NormalizeRecord(m)
		if err != nil {
			return ir.Snapshot{}, fmt.Errorf("relations[%d]: %w", i, err)
		}
		snap.Relations = append(snap.Relations, rec)
	}
	return snap, nil
}

// loadSchema loads the schema at path. An empty path yields a nil schema,
// which accepts any well-formed record.
func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return nil, nil
	}
	return schema.Load(path)
}

// openExistingStore opens the database at path, refusing to create one.
func openExistingStore(path string, opts ...store.Option) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	return store.Open(path, opts...)
}
