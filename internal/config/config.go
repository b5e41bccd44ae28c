// Package config loads strata settings from an optional YAML file.
//
// Command-line flags override file values; the cli package applies that
// precedence. Zero values mean "use the default".
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/undo"
)

// Config holds every setting a strata session reads.
type Config struct {
	// Database is the SQLite file events and versions are stored in.
	Database string `yaml:"database"`

	// Schema is a CUE file or directory with the type definitions.
	Schema string `yaml:"schema"`

	// MaxUndo bounds the undo stack.
	MaxUndo int `yaml:"max_undo"`

	// Cascade is the relation cascade policy: orphan, delete or reject.
	Cascade string `yaml:"cascade"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database: "strata.db",
		MaxUndo:  undo.DefaultMaxSize,
		Cascade:  string(graph.CascadeOrphan),
		LogLevel: "info",
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file Config
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Merge(file)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge copies the non-zero fields of other into c.
func (c *Config) Merge(other Config) {
	if other.Database != "" {
		c.Database = other.Database
	}
	if other.Schema != "" {
		c.Schema = other.Schema
	}
	if other.MaxUndo != 0 {
		c.MaxUndo = other.MaxUndo
	}
	if other.Cascade != "" {
		c.Cascade = other.Cascade
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.MaxUndo < 0 {
		errs = append(errs, fmt.Errorf("max_undo must not be negative, got %d", c.MaxUndo))
	}
	if _, err := graph.ParseCascadePolicy(c.Cascade); err != nil {
		errs = append(errs, fmt.Errorf("cascade: %w", err))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// CascadePolicy returns the parsed cascade policy.
func (c Config) CascadePolicy() graph.CascadePolicy {
	p, err := graph.ParseCascadePolicy(c.Cascade)
	if err != nil {
		return graph.CascadeOrphan
	}
	return p
}

// Level returns the parsed log level, or info when it does not parse.
func (c Config) Level() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel parses a log level name. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
}

// UndoOptions returns the undo manager options the settings imply.
func (c Config) UndoOptions() []undo.Option {
	return []undo.Option{undo.WithMaxSize(c.MaxUndo)}
}

// GraphOptions returns the graph options the settings imply.
func (c Config) GraphOptions() []graph.Option {
	return []graph.Option{graph.WithCascade(c.CascadePolicy())}
}
