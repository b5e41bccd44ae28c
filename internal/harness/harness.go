package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ident"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/testutil"
	"github.com/roach88/strata/internal/undo"
	"github.com/roach88/strata/internal/versioning"
)

// Error codes reported for undo failures. Graph and versioning failures
// report their ir.ErrorCode.
const (
	CodeNothingToUndo = "NOTHING_TO_UNDO"
	CodeNothingToRedo = "NOTHING_TO_REDO"
	CodeNoBatch       = "NO_BATCH"
	CodeBatchOpen     = "BATCH_OPEN"
)

// session is one isolated strata instance built for a scenario.
type session struct {
	ctx      context.Context
	store    *store.Store
	schema   *schema.Schema
	bus      *eventbus.Bus
	graph    *graph.Graph
	undo     *undo.Manager
	versions *versioning.Engine
	recorder *store.Recorder
	archive  *store.Archive
	cascade  graph.CascadePolicy
	logger   *slog.Logger

	// aliases maps create_version "as" names to version ids.
	aliases map[string]string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Event ids, version ids and timestamps come from deterministic
// generators, so two runs of one scenario produce identical traces.
//
// Execution flow:
// 1. Load the schema, if any
// 2. Build the session: bus, graph, undo, versioning, event recorder
// 3. Execute flow steps, checking expect_error on each
// 4. Evaluate assertions
//
// A non-nil error means the scenario could not be set up; step and
// assertion failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return run(context.Background(), scenario, testutil.DiscardLogger())
}

func run(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	s, err := newSession(ctx, scenario, logger)
	if err != nil {
		return nil, err
	}
	defer s.close()

	result := NewResult()
	for i, step := range scenario.Flow {
		err := s.execute(step)
		if msg := checkOutcome(i, step, err); msg != "" {
			result.AddError(msg)
		}
		logger.Debug("flow step completed", "step", i, "op", step.Op, "error", err)
	}

	for _, ev := range s.bus.History() {
		result.AddTrace(ev)
	}
	result.State = s.graph.Serialize()

	if err := s.recorder.Err(); err != nil {
		result.AddError(fmt.Sprintf("event log: %v", err))
	}
	if err := s.archive.Err(); err != nil {
		result.AddError(fmt.Sprintf("version archive: %v", err))
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Store:    s.store,
		Schema:   s.schema,
		Graph:    s.graph,
		Versions: s.versions,
		Cascade:  s.cascade,
		Logger:   logger,
		Aliases:  s.aliases,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newSession(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*session, error) {
	var sch *schema.Schema
	if scenario.Schema != "" {
		loaded, err := schema.Load(scenario.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		sch = loaded
	}

	cascade, err := graph.ParseCascadePolicy(scenario.Cascade)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:", store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	clock := testutil.NewDeterministicClock()
	bus := eventbus.New(
		eventbus.WithIDGenerator(ident.NewSequence("ev")),
		eventbus.WithNow(clock.Now),
		eventbus.WithSource("harness"),
		eventbus.WithLogger(logger),
	)
	g := graph.New(sch, bus, graph.WithCascade(cascade), graph.WithLogger(logger))

	undoOpts := []undo.Option{undo.WithLogger(logger)}
	if scenario.MaxUndo > 0 {
		undoOpts = append(undoOpts, undo.WithMaxSize(scenario.MaxUndo))
	}
	versions := versioning.New(g, bus,
		versioning.WithIDGenerator(ident.NewSequence("v")),
		versioning.WithNow(clock.Now),
		versioning.WithLogger(logger),
	)

	return &session{
		ctx:      ctx,
		store:    st,
		schema:   sch,
		bus:      bus,
		graph:    g,
		undo:     undo.New(g, bus, undoOpts...),
		versions: versions,
		recorder: store.NewRecorder(ctx, st, bus),
		archive:  store.NewArchive(ctx, st, versions, bus),
		cascade:  cascade,
		logger:   logger,
		aliases:  make(map[string]string),
	}, nil
}

func (s *session) close() {
	s.archive.Close()
	s.recorder.Close()
	s.versions.Close()
	s.undo.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close store", "error", err)
	}
}

// execute runs one flow step.
func (s *session) execute(st Step) error {
	var err error
	switch st.Op {
	case OpAddEntity:
		_, err = s.graph.AddEntity(st.Data)
	case OpUpdateEntity:
		_, err = s.graph.UpdateEntity(st.ID, st.Patch)
	case OpRemoveEntity:
		_, err = s.graph.RemoveEntity(st.ID)
	case OpAddRelation:
		_, err = s.graph.AddRelation(st.Data)
	case OpUpdateRelation:
		_, err = s.graph.UpdateRelation(st.ID, st.Patch)
	case OpRemoveRelation:
		_, err = s.graph.RemoveRelation(st.ID)
	case OpReset:
		s.graph.Reset()
	case OpUndo:
		err = s.undo.Undo()
	case OpRedo:
		err = s.undo.Redo()
	case OpBeginBatch:
		s.undo.BeginBatch(st.Label)
	case OpEndBatch:
		err = s.undo.EndBatch()
	case OpCreateVersion:
		var v ir.Version
		v, err = s.versions.CreateVersion(ir.VersionMetadata{
			Author:  st.Author,
			Message: st.Message,
			Tags:    st.Tags,
		})
		if err == nil && st.As != "" {
			s.aliases[st.As] = v.ID
		}
	case OpSwitchVersion:
		err = s.versions.SwitchToVersion(s.resolve(st.Version))
	case OpCreateBranch:
		_, err = s.versions.CreateBranch(st.Branch, s.resolve(st.Version))
	case OpSwitchBranch:
		err = s.versions.SwitchBranch(st.Branch)
	default:
		err = fmt.Errorf("unknown op %q", st.Op)
	}
	return err
}

// resolve maps a version alias to its id. Unknown names pass through as ids.
func (s *session) resolve(name string) string {
	if id, ok := s.aliases[name]; ok {
		return id
	}
	return name
}

// checkOutcome compares a step's error with its expect_error and returns a
// failure message, or "" when the step behaved as expected.
func checkOutcome(index int, st Step, err error) string {
	code := ErrorCode(err)
	switch {
	case st.ExpectError == "" && err != nil:
		return fmt.Sprintf("flow[%d] %s: unexpected error: %v", index, st.Op, err)
	case st.ExpectError != "" && err == nil:
		return fmt.Sprintf("flow[%d] %s: expected error %s, got success", index, st.Op, st.ExpectError)
	case st.ExpectError != "" && code != st.ExpectError:
		return fmt.Sprintf("flow[%d] %s: expected error %s, got %s (%v)", index, st.Op, st.ExpectError, code, err)
	}
	return ""
}

// ErrorCode returns the code a scenario uses to name err: the ir error
// code for store failures, or one of the Code constants for undo failures.
// It returns "" for nil and "ERROR" for anything else.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, undo.ErrNothingToUndo):
		return CodeNothingToUndo
	case errors.Is(err, undo.ErrNothingToRedo):
		return CodeNothingToRedo
	case errors.Is(err, undo.ErrNoBatch):
		return CodeNoBatch
	case errors.Is(err, undo.ErrBatchOpen):
		return CodeBatchOpen
	}
	if code := ir.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}
