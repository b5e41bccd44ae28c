package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/diff"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Database  string // when set, arguments are version ids
	Canonical bool   // print the canonical JSON encoding
	ExitCode  bool   // exit 1 when the snapshots differ
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Compute the structural diff between two snapshots",
		Long: `Compute the structural diff between two snapshots.

Arguments are snapshot files (.json, or .yaml/.yml) unless --db is given,
in which case they are version ids in the database.

Examples:
  strata diff before.json after.json
  strata diff --db ./strata.db v-1 v-4
  strata diff before.yaml after.yaml --canonical
  strata diff before.json after.json --exit-code`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "read versions from this SQLite database")
	cmd.Flags().BoolVar(&opts.Canonical, "canonical", false, "print the diff as canonical JSON")
	cmd.Flags().BoolVar(&opts.ExitCode, "exit-code", false, "exit with 1 when the snapshots differ")

	return cmd
}

func runDiff(opts *DiffOptions, oldRef, newRef string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	oldSnap, newSnap, err := opts.snapshots(oldRef, newRef, cmd)
	if err != nil {
		code := ErrCodeLoadFailed
		if ir.IsNotFound(err) {
			code = ErrCodeNotFound
		}
		return formatter.Fail(ExitCommandError, code, "failed to load snapshots", err)
	}

	d := diff.Compute(oldSnap, newSnap)

	switch {
	case opts.Canonical:
		data, err := d.CanonicalJSON()
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to encode diff", err)
		}
		fmt.Fprintln(formatter.Writer, string(data))
	case formatter.IsJSON():
		if err := formatter.Success(d); err != nil {
			return err
		}
	default:
		writeDiffText(formatter, d)
	}

	if opts.ExitCode && !d.IsEmpty() {
		return NewExitError(ExitFailure, "snapshots differ")
	}
	return nil
}

func (o *DiffOptions) snapshots(oldRef, newRef string, cmd *cobra.Command) (ir.Snapshot, ir.Snapshot, error) {
	if o.Database == "" {
		oldSnap, err := LoadSnapshot(oldRef)
		if err != nil {
			return ir.Snapshot{}, ir.Snapshot{}, err
		}
		newSnap, err := LoadSnapshot(newRef)
		if err != nil {
			return ir.Snapshot{}, ir.Snapshot{}, err
		}
		return oldSnap, newSnap, nil
	}

	ctx := context.Background()
	st, err := openExistingStore(o.Database, store.WithLogger(o.Logger(cmd.ErrOrStderr())))
	if err != nil {
		return ir.Snapshot{}, ir.Snapshot{}, err
	}
	defer st.Close()

	oldVersion, err := st.ReadVersion(ctx, oldRef)
	if err != nil {
		return ir.Snapshot{}, ir.Snapshot{}, err
	}
	newVersion, err := st.ReadVersion(ctx, newRef)
	if err != nil {
		return ir.Snapshot{}, ir.Snapshot{}, err
	}
	return oldVersion.Snapshot(), newVersion.Snapshot(), nil
}

func writeDiffText(formatter *OutputFormatter, d diff.Diff) {
	w := formatter.Writer
	if d.IsEmpty() {
		fmt.Fprintln(w, "No differences")
		return
	}

	fmt.Fprintf(w, "%d added, %d removed, %d modified\n",
		d.Summary.TotalAdded, d.Summary.TotalRemoved, d.Summary.TotalModified)
	writeChangeSet(formatter, "entity", d.Entities)
	writeChangeSet(formatter, "relation", d.Relations)
}

func writeChangeSet(formatter *OutputFormatter, label string, cs diff.ChangeSet) {
	w := formatter.Writer
	for _, rec := range cs.Added {
		fmt.Fprintf(w, "+ %s %s (%s)\n", label, rec.ID(), rec.Type())
	}
	for _, rec := range cs.Removed {
		fmt.Fprintf(w, "- %s %s (%s)\n", label, rec.ID(), rec.Type())
	}
	for _, u := range cs.Updated {
		fmt.Fprintf(w, "~ %s %s [%s]\n", label, u.ID, strings.Join(u.ChangedFields, ", "))
		if formatter.Verbose {
			for _, field := range u.ChangedFields {
				before, _ := u.Before.Get(field)
				after, _ := u.After.Get(field)
				fmt.Fprintf(w, "    %s: %v -> %v\n", field, before, after)
			}
		}
	}
}
