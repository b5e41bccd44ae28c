package replay

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ident"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// Option configures an Engine.
type Option func(*Engine)

// WithGraphOptions sets the options the replay graph is built with, for
// example its cascade policy.
func WithGraphOptions(opts ...graph.Option) Option {
	return func(e *Engine) { e.graphOpts = append(e.graphOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine replays event logs into fresh graphs validated by one schema.
type Engine struct {
	schema    *schema.Schema
	graphOpts []graph.Option
	logger    *slog.Logger
}

// New creates a replay engine. A nil schema accepts any well-formed record.
func New(s *schema.Schema, opts ...Option) *Engine {
	e := &Engine{schema: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a replay.
type Result struct {
	// Graph is the state reached. Its bus holds the events replay emitted,
	// not the input events.
	Graph *graph.Graph

	// Applied counts events applied successfully.
	Applied int

	// Skipped counts input events that took no part: filtered out, or of
	// an unmapped graph.* type.
	Skipped int

	// Errors lists the events that failed, in order.
	Errors []*ApplicationError
}

// Fingerprint returns the checksum of the replayed graph's serialized
// state. Two replays reached the same state iff their fingerprints match.
func (r Result) Fingerprint() (string, error) {
	return ir.SnapshotChecksum(r.Graph.Serialize())
}

// OK reports whether every event applied.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Filter keeps the graph.* events whose replayable flag is not explicitly
// false, in their original order.
func Filter(events []ir.Event) []ir.Event {
	out := make([]ir.Event, 0, len(events))
	for _, ev := range events {
		if strings.HasPrefix(ev.Type, "graph.") && ev.IsReplayable() {
			out = append(out, ev)
		}
	}
	return out
}

// FromStart replays events into an empty graph.
func (e *Engine) FromStart(events []ir.Event) (Result, error) {
	return e.FromSnapshot(ir.Snapshot{}, events)
}

// FromSnapshot loads snapshot into a fresh graph and replays events on top.
// The snapshot is validated; an invalid snapshot is an error, while
// failing events are collected in Result.Errors.
func (e *Engine) FromSnapshot(snapshot ir.Snapshot, events []ir.Event) (Result, error) {
	g := e.newGraph()
	if len(snapshot.Entities) > 0 || len(snapshot.Relations) > 0 {
		if err := g.Load(snapshot); err != nil {
			return Result{}, fmt.Errorf("replay base snapshot: %w", err)
		}
	}

	filtered := Filter(events)
	res := Result{Graph: g, Skipped: len(events) - len(filtered)}
	for i, ev := range filtered {
		mapped, err := apply(g, ev)
		switch {
		case err != nil:
			appErr := &ApplicationError{Index: i, EventID: ev.ID, EventType: ev.Type, Seq: ev.Meta.Seq, Err: err}
			e.logger.Warn("replay event failed", "event_id", ev.ID, "event_type", ev.Type, "seq", ev.Meta.Seq, "error", err)
			res.Errors = append(res.Errors, appErr)
		case !mapped:
			res.Skipped++
		default:
			res.Applied++
		}
	}
	e.logger.Info("replay complete",
		"events", len(events),
		"applied", res.Applied,
		"skipped", res.Skipped,
		"failed", len(res.Errors))
	return res, nil
}

// Until replays, from an empty graph, the events stamped at or before
// cutoff.
func (e *Engine) Until(events []ir.Event, cutoff time.Time) (Result, error) {
	return e.FromStart(Before(events, cutoff))
}

// Before returns the events whose timestamp is not after cutoff.
func Before(events []ir.Event, cutoff time.Time) []ir.Event {
	out := make([]ir.Event, 0, len(events))
	for _, ev := range events {
		if !ev.Meta.Timestamp.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// newGraph builds the target graph on a private bus with deterministic ids
// and a frozen clock, so the replay's own events are reproducible too.
func (e *Engine) newGraph() *graph.Graph {
	bus := eventbus.New(
		eventbus.WithIDGenerator(ident.NewSequence("replay")),
		eventbus.WithNow(func() time.Time { return time.Unix(0, 0).UTC() }),
		eventbus.WithSource("replay"),
		eventbus.WithLogger(e.logger),
	)
	opts := append([]graph.Option{graph.WithLogger(e.logger)}, e.graphOpts...)
	return graph.New(e.schema, bus, opts...)
}

// apply performs the graph operation for one event. mapped is false for
// event types without an operation.
func apply(g *graph.Graph, ev ir.Event) (mapped bool, err error) {
	d := ev.Data
	switch ev.Type {
	case graph.EventEntityAdded:
		rec, ok := d.Record("entity")
		if !ok {
			return true, malformed("entity")
		}
		_, err = g.AddEntity(rec)

	case graph.EventEntityUpdated:
		_, err = g.UpdateEntity(d.String("id"), patchOf(d))

	case graph.EventEntityRemoved:
		for _, rel := range d.Records("cascade") {
			if _, ok := g.GetRelation(rel.ID()); ok {
				if _, err := g.RemoveRelation(rel.ID()); err != nil {
					return true, err
				}
			}
		}
		_, err = g.RemoveEntity(d.String("id"))

	case graph.EventRelationAdded:
		rec, ok := d.Record("relation")
		if !ok {
			return true, malformed("relation")
		}
		if reinstated, _ := d["reinstated"].(bool); reinstated {
			_, err = g.ReinstateRelation(rec)
		} else {
			_, err = g.AddRelation(rec)
		}

	case graph.EventRelationUpdated:
		_, err = g.UpdateRelation(d.String("id"), patchOf(d))

	case graph.EventRelationRemoved:
		_, err = g.RemoveRelation(d.String("id"))

	case graph.EventReset:
		g.Reset()

	case graph.EventLoaded:
		snap, ok := loadedSnapshot(d)
		if !ok {
			return true, malformed("entities/relations list")
		}
		g.Restore(snap)

	default:
		return false, nil
	}
	return true, err
}

// patchOf returns the recorded patch, or derives one from before/after for
// events written without it.
func patchOf(d ir.Payload) map[string]any {
	if p, ok := d.Record("patch"); ok {
		return p
	}
	before, _ := d.Record("before")
	after, _ := d.Record("after")
	patch := make(map[string]any)
	for k, v := range after {
		if k == ir.FieldID || k == ir.FieldType {
			continue
		}
		if old, ok := before[k]; !ok || !ir.Equal(old, v) {
			patch[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			patch[k] = nil
		}
	}
	return patch
}

// loadedSnapshot rebuilds the state a graph.loaded event carries. Both
// lists must be present; an empty list is a valid empty table.
func loadedSnapshot(d ir.Payload) (ir.Snapshot, bool) {
	if _, ok := d["entities"].([]any); !ok {
		return ir.Snapshot{}, false
	}
	if _, ok := d["relations"].([]any); !ok {
		return ir.Snapshot{}, false
	}
	return ir.Snapshot{Entities: d.Records("entities"), Relations: d.Records("relations")}, true
}

func malformed(field string) error {
	return fmt.Errorf("event data has no %s object", field)
}
