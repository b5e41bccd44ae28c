package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/replay"
	"github.com/roach88/strata/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Schema   string
	UntilSeq int64 // 0 replays the whole log
}

// ReplayError describes one event that failed to apply.
type ReplayError struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Seq       int64  `json:"seq"`
	Message   string `json:"message"`
}

// ReplayResult holds the outcome of a determinism check.
type ReplayResult struct {
	Events        int           `json:"events"`
	Applied       int           `json:"applied"`
	Skipped       int           `json:"skipped"`
	Entities      int           `json:"entities"`
	Relations     int           `json:"relations"`
	Fingerprint   string        `json:"fingerprint"`
	Deterministic bool          `json:"deterministic"`
	Errors        []ReplayError `json:"errors,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log and verify determinism",
		Long: `Replay the stored event log into an empty graph twice and compare the
resulting state fingerprints.

Events that fail to apply are reported; they do not stop the replay.

Exit codes:
  0 - Replay deterministic and every event applied
  1 - Fingerprints differ or some events failed to apply
  2 - Command error (database not found, etc.)

Examples:
  strata replay --db ./strata.db
  strata replay --db ./strata.db --schema ./schema
  strata replay --db ./strata.db --until-seq 120 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "schema to validate replayed records (default from config)")
	cmd.Flags().Int64Var(&opts.UntilSeq, "until-seq", 0, "replay only events up to this log position")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)
	logger := opts.Logger(cmd.ErrOrStderr())

	sch, err := loadSchema(opts.schemaPath(opts.Schema))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, "failed to load schema", err)
	}

	st, err := openExistingStore(opts.database(opts.Database), store.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open database", err)
	}
	defer st.Close()

	events, err := readLog(ctx, st, opts.UntilSeq)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to read events", err)
	}
	formatter.VerboseLog("Read %d event(s)", len(events))

	engine := replay.New(sch,
		replay.WithGraphOptions(opts.Settings.GraphOptions()...),
		replay.WithLogger(logger))

	first, err := engine.FromStart(events)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeReplay, "replay failed", err)
	}
	second, err := engine.FromStart(events)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeReplay, "replay failed", err)
	}

	fp1, err := first.Fingerprint()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeReplay, "fingerprint failed", err)
	}
	fp2, err := second.Fingerprint()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeReplay, "fingerprint failed", err)
	}

	entities, relations := first.Graph.Counts()
	result := ReplayResult{
		Events:        len(events),
		Applied:       first.Applied,
		Skipped:       first.Skipped,
		Entities:      entities,
		Relations:     relations,
		Fingerprint:   fp1,
		Deterministic: fp1 == fp2,
	}
	for _, appErr := range first.Errors {
		result.Errors = append(result.Errors, ReplayError{
			EventID:   appErr.EventID,
			EventType: appErr.EventType,
			Seq:       appErr.Seq,
			Message:   appErr.Err.Error(),
		})
	}

	if !result.Deterministic {
		_ = formatter.Error(ErrCodeDeterminism, "replays reached different states", map[string]string{
			"first":  fp1,
			"second": fp2,
		})
		return NewExitError(ExitFailure, "replay is not deterministic")
	}

	if err := outputReplay(formatter, result); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) failed to apply", len(result.Errors)))
	}
	return nil
}

func readLog(ctx context.Context, st *store.Store, until int64) ([]ir.Event, error) {
	if until > 0 {
		return st.ReadEventsUntil(ctx, until)
	}
	return st.ReadEvents(ctx)
}

func outputReplay(formatter *OutputFormatter, result ReplayResult) error {
	if formatter.IsJSON() {
		if len(result.Errors) == 0 {
			return formatter.Success(result)
		}
		return formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    string(ir.CodeReplayApplication),
				Message: fmt.Sprintf("%d event(s) failed to apply", len(result.Errors)),
			},
		})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Replayed %d event(s): %d applied, %d skipped, %d failed\n",
		result.Events, result.Applied, result.Skipped, len(result.Errors))
	fmt.Fprintf(w, "State: %d entities, %d relations\n", result.Entities, result.Relations)
	fmt.Fprintf(w, "Fingerprint: %s\n", result.Fingerprint)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  ✗ seq %d %s (%s): %s\n", e.Seq, e.EventType, e.EventID, e.Message)
	}
	if len(result.Errors) == 0 {
		fmt.Fprintln(w, "✓ Replay deterministic")
	}
	return nil
}
