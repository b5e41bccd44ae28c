package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Settings is the configuration file merged over the defaults. It is
	// loaded before any subcommand runs; subcommand flags override it.
	Settings config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultConfigPath is read when --config is not given. It may be absent.
const DefaultConfigPath = "strata.yaml"

// NewRootCommand creates the root command for the strata CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Settings: config.Default()}

	cmd := &cobra.Command{
		Use:   "strata",
		Short: "strata - event-sourced graph store",
		Long: `An embedded, schema-validated, event-sourced graph store with
immutable versions, structural diffs and deterministic replay.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.loadSettings()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./"+DefaultConfigPath+" if present)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))

	return cmd
}

// loadSettings reads the config file. An explicit --config must exist; the
// default path is optional.
func (o *RootOptions) loadSettings() error {
	path, optional := o.ConfigPath, false
	if path == "" {
		path, optional = DefaultConfigPath, true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	o.Settings = cfg
	return nil
}

// Logger returns a logger writing text records to w at the configured
// level, or at debug level with --verbose.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	level := o.Settings.Level()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// database returns flag if set, else the configured database.
func (o *RootOptions) database(flag string) string {
	if flag != "" {
		return flag
	}
	return o.Settings.Database
}

// schemaPath returns flag if set, else the configured schema.
func (o *RootOptions) schemaPath(flag string) string {
	if flag != "" {
		return flag
	}
	return o.Settings.Schema
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
