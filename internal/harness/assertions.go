package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/replay"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/versioning"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Type)
		}
	}

	return buf.String()
}

// AssertionContext provides the session state assertions inspect.
type AssertionContext struct {
	Ctx      context.Context
	Store    *store.Store
	Schema   *schema.Schema
	Graph    *graph.Graph
	Versions *versioning.Engine
	Cascade  graph.CascadePolicy
	Logger   *slog.Logger

	// Aliases maps create_version "as" names to version ids.
	Aliases map[string]string
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertEntity:
		rec, ok := actx.Graph.GetEntity(a.ID)
		return assertRecord(ir.KindEntity, rec, ok, a)
	case AssertRelation:
		rec, ok := actx.Graph.GetRelation(a.ID)
		return assertRecord(ir.KindRelation, rec, ok, a)
	case AssertCount:
		return assertCount(actx.Graph, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertQuery:
		return assertQuery(actx.Graph, a)
	case AssertFind:
		return assertFind(actx, a)
	case AssertReplay:
		return assertReplay(actx, result.Trace)
	case AssertDirty:
		return assertDirty(actx.Versions, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertRecord checks presence and, with subset semantics, the expected
// fields of one record. Extra fields in the record are ignored.
func assertRecord(kind ir.Kind, rec ir.Record, ok bool, a Assertion) error {
	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("no %s %q", kind, a.ID),
				Actual:   fmt.Sprintf("%s %q exists: %v", kind, a.ID, rec),
			}
		}
		return nil
	}
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %q to exist", kind, a.ID),
			Actual:   "not found",
		}
	}
	for _, key := range ir.SortedKeys(a.Expect) {
		want := a.Expect[key]
		got, present := rec.Get(key)
		if want == nil {
			if present {
				return &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("field %q to be absent", key),
					Actual:   fmt.Sprintf("field %q = %v", key, got),
				}
			}
			continue
		}
		if !present {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("field %q = %v", key, want),
				Actual:   fmt.Sprintf("field %q not present", key),
			}
		}
		if !valuesEqual(want, got) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// valuesEqual compares a YAML-decoded expected value with a stored value.
func valuesEqual(want, got any) bool {
	normalized, err := ir.Normalize(want)
	if err != nil {
		return false
	}
	return ir.Equal(normalized, got)
}

func assertCount(g *graph.Graph, a Assertion) error {
	entities, relations := g.Counts()
	if a.Entities != nil && *a.Entities != entities {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d entities", *a.Entities),
			Actual:   fmt.Sprintf("%d entities", entities),
		}
	}
	if a.Relations != nil && *a.Relations != relations {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d relations", *a.Relations),
			Actual:   fmt.Sprintf("%d relations", relations),
		}
	}
	return nil
}

// assertTraceOrder checks that event types appear in the specified order.
// Events don't need to be consecutive (intervening events are allowed), and
// a repeated type matches a later occurrence.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		found := false
		for pos < len(trace) {
			typ := trace[pos].Type
			pos++
			if typ == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%s not found after the preceding events", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the event type appears exactly the specified
// number of times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// wherePredicate builds the conjunction of equality checks for a where map.
// Keys are sorted so the predicate is deterministic.
func wherePredicate(where map[string]any) query.Predicate {
	if len(where) == 0 {
		return nil
	}
	preds := make([]query.Predicate, 0, len(where))
	for _, key := range ir.SortedKeys(where) {
		preds = append(preds, query.FieldEQ(key, where[key]))
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return query.AllOf(preds...)
}

func assertQuery(g *graph.Graph, a Assertion) error {
	q := query.New(g)
	if pred := wherePredicate(a.Where); pred != nil {
		q = q.Where(pred)
	}
	res, err := q.Execute()
	if err != nil {
		return err
	}
	return compareIDs(AssertQuery, a.IDs, res.IDs())
}

func assertFind(actx *AssertionContext, a Assertion) error {
	versionID := a.Version
	if id, ok := actx.Aliases[a.Version]; ok {
		versionID = id
	}
	records, err := actx.Store.FindEntities(actx.Ctx, versionID, wherePredicate(a.Where))
	if err != nil {
		return err
	}
	got := make([]string, len(records))
	for i, r := range records {
		got[i] = r.ID()
	}
	return compareIDs(AssertFind, a.IDs, got)
}

func compareIDs(typ string, want, got []string) error {
	if slices.Equal(want, got) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("ids %v", want),
		Actual:   fmt.Sprintf("ids %v", got),
	}
}

// assertReplay replays the persisted event log into a fresh graph and
// compares its fingerprint with the live graph's.
func assertReplay(actx *AssertionContext, trace []TraceEvent) error {
	events, err := actx.Store.ReadEvents(actx.Ctx)
	if err != nil {
		return err
	}
	engine := replay.New(actx.Schema,
		replay.WithGraphOptions(graph.WithCascade(actx.Cascade)),
		replay.WithLogger(actx.Logger),
	)
	res, err := engine.FromStart(events)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &AssertionError{
			Type:     AssertReplay,
			Expected: "every event applies",
			Actual:   fmt.Sprintf("%d events failed, first: %v", len(res.Errors), res.Errors[0]),
			Trace:    trace,
		}
	}
	got, err := res.Fingerprint()
	if err != nil {
		return err
	}
	want, err := ir.SnapshotChecksum(actx.Graph.Serialize())
	if err != nil {
		return err
	}
	if got != want {
		return &AssertionError{
			Type:     AssertReplay,
			Expected: fmt.Sprintf("replayed fingerprint %s", want),
			Actual:   fmt.Sprintf("replayed fingerprint %s", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertDirty(v *versioning.Engine, a Assertion) error {
	if got := v.IsDirty(); got != *a.Dirty {
		return &AssertionError{
			Type:     AssertDirty,
			Expected: fmt.Sprintf("dirty=%t", *a.Dirty),
			Actual:   fmt.Sprintf("dirty=%t", got),
		}
	}
	return nil
}
