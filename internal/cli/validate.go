package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Data string // snapshot file to check against the schema
}

// TypeSummary lists the type names a schema declares.
type TypeSummary struct {
	Entities  []string `json:"entities"`
	Relations []string `json:"relations"`
}

// RecordViolation is one snapshot record that failed validation.
type RecordViolation struct {
	Kind       ir.Kind        `json:"kind"`
	ID         string         `json:"id"`
	Violations []ir.Violation `json:"violations"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Schema  string            `json:"schema"`
	Types   TypeSummary       `json:"types"`
	Checked int               `json:"checked,omitempty"`
	Invalid []RecordViolation `json:"invalid,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [schema]",
		Short: "Validate a schema and optionally a snapshot",
		Long: `Load a CUE schema (a file or a directory of .cue files) and report the
entity and relation types it declares.

With --data, every record of the snapshot file is validated against the
schema and each failing record is listed with its violations.

Exit codes:
  0 - Schema (and snapshot) valid
  1 - One or more snapshot records invalid
  2 - Schema or snapshot could not be loaded

Examples:
  strata validate ./schema
  strata validate ./schema --data snapshot.json
  strata validate --data snapshot.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(opts, opts.schemaPath(path), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "snapshot file (.json, .yaml) to validate")

	return cmd
}

func runValidate(opts *ValidateOptions, schemaPath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if schemaPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "no schema given",
			fmt.Errorf("pass a schema path or set schema in the config file"))
	}

	sch, err := schema.Load(schemaPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load schema", err)
	}
	formatter.VerboseLog("Loaded schema from %s", schemaPath)

	result := ValidationResult{
		Valid:  true,
		Schema: schemaPath,
		Types: TypeSummary{
			Entities:  typeNames(sch, ir.KindEntity),
			Relations: typeNames(sch, ir.KindRelation),
		},
	}

	if opts.Data != "" {
		snap, err := LoadSnapshot(opts.Data)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load snapshot", err)
		}
		result.Invalid = checkSnapshot(sch, snap)
		result.Checked = len(snap.Entities) + len(snap.Relations)
		result.Valid = len(result.Invalid) == 0
	}

	if err := outputValidate(formatter, result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed for %d record(s)", len(result.Invalid)))
	}
	return nil
}

// checkSnapshot validates every record in snap, entities first.
func checkSnapshot(sch *schema.Schema, snap ir.Snapshot) []RecordViolation {
	var out []RecordViolation
	check := func(kind ir.Kind, records []ir.Record) {
		for _, rec := range records {
			if v := sch.Violations(kind, rec); len(v) > 0 {
				out = append(out, RecordViolation{Kind: kind, ID: rec.ID(), Violations: v})
			}
		}
	}
	check(ir.KindEntity, snap.Entities)
	check(ir.KindRelation, snap.Relations)
	return out
}

func typeNames(sch *schema.Schema, kind ir.Kind) []string {
	defs := sch.Types(kind)
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

func outputValidate(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.IsJSON() {
		if result.Valid {
			return formatter.Success(result)
		}
		return formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    string(ir.CodeValidation),
				Message: fmt.Sprintf("%d of %d record(s) invalid", len(result.Invalid), result.Checked),
			},
		})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Schema %s: %d entity type(s), %d relation type(s)\n",
		result.Schema, len(result.Types.Entities), len(result.Types.Relations))
	for _, name := range result.Types.Entities {
		fmt.Fprintf(w, "  entity   %s\n", name)
	}
	for _, name := range result.Types.Relations {
		fmt.Fprintf(w, "  relation %s\n", name)
	}

	if result.Checked == 0 && result.Valid {
		return nil
	}
	if result.Valid {
		fmt.Fprintf(w, "✓ %d record(s) valid\n", result.Checked)
		return nil
	}

	fmt.Fprintf(w, "✗ %d of %d record(s) invalid\n", len(result.Invalid), result.Checked)
	for _, rv := range result.Invalid {
		fmt.Fprintf(w, "  %s %s\n", rv.Kind, rv.ID)
		for _, v := range rv.Violations {
			fmt.Fprintf(w, "    %s\n", v)
		}
	}
	return nil
}
