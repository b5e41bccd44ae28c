package replay

import (
	"testing"
	"time"

	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ident"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/testutil"
	"github.com/roach88/strata/internal/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLiveGraph(t *testing.T, opts ...graph.Option) *graph.Graph {
	t.Helper()
	bus := eventbus.New(
		eventbus.WithIDGenerator(ident.NewSequence("ev")),
		eventbus.WithNow(testutil.NewDeterministicClock().Now),
		eventbus.WithLogger(testutil.DiscardLogger()),
	)
	return graph.New(nil, bus, append([]graph.Option{graph.WithLogger(testutil.DiscardLogger())}, opts...)...)
}

func newEngine(opts ...Option) *Engine {
	return New(nil, append([]Option{WithLogger(testutil.DiscardLogger())}, opts...)...)
}

// buildHistory runs a representative session and returns the graph.
func buildHistory(t *testing.T, g *graph.Graph) {
	t.Helper()
	must := func(_ ir.Record, err error) { require.NoError(t, err) }
	must(g.AddEntity(map[string]any{"id": "u1", "type": "user", "name": "Ada"}))
	must(g.AddEntity(map[string]any{"id": "u2", "type": "user", "name": "Bob"}))
	must(g.AddEntity(map[string]any{"id": "p1", "type": "project", "tags": []any{"a"}}))
	must(g.AddRelation(map[string]any{"id": "r1", "type": "OWNS", "from": "u1", "to": "p1"}))
	must(g.AddRelation(map[string]any{"id": "r2", "type": "OWNS", "from": "u2", "to": "p1"}))
	must(g.UpdateEntity("u1", map[string]any{"name": "Ada L", "age": 36}))
	must(g.UpdateEntity("p1", map[string]any{"tags": nil}))
	must(g.UpdateRelation("r1", map[string]any{"weight": 0.5}))
	must(g.RemoveRelation("r2"))
	must(g.RemoveEntity("u2"))
}

func fingerprint(t *testing.T, s ir.Snapshot) string {
	t.Helper()
	sum, err := ir.SnapshotChecksum(s)
	require.NoError(t, err)
	return sum
}

func TestReplayReproducesLiveState(t *testing.T) {
	g := newLiveGraph(t)
	buildHistory(t, g)
	events := g.Bus().History()

	res, err := newEngine().FromStart(events)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, len(events), res.Applied)
	assert.Zero(t, res.Skipped)

	fp, err := res.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fingerprint(t, g.Serialize()), fp)
}

func TestReplayIsDeterministic(t *testing.T) {
	g := newLiveGraph(t)
	buildHistory(t, g)
	events := g.Bus().History()

	first, err := newEngine().FromStart(events)
	require.NoError(t, err)
	second, err := newEngine().FromStart(events)
	require.NoError(t, err)

	a, err := first.Fingerprint()
	require.NoError(t, err)
	b, err := second.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, first.Graph.Bus().History(), second.Graph.Bus().History(),
		"replay's own events are reproducible too")
}

func TestFilter(t *testing.T) {
	events := []ir.Event{
		{ID: "1", Type: graph.EventEntityAdded},
		{ID: "2", Type: "version.created", Replayable: ir.Bool(false)},
		{ID: "3", Type: graph.EventEntityUpdated, Replayable: ir.Bool(false)},
		{ID: "4", Type: "app.custom"},
		{ID: "5", Type: graph.EventReset, Replayable: ir.Bool(true)},
	}
	var got []string
	for _, ev := range Filter(events) {
		got = append(got, ev.ID)
	}
	assert.Equal(t, []string{"1", "5"}, got)
}

func TestReplaySkipsUnmappedGraphEvents(t *testing.T) {
	g := newLiveGraph(t)
	_, err := g.AddEntity(map[string]any{"id": "a", "type": "node"})
	require.NoError(t, err)
	events := g.Bus().History()
	events = append(events,
		ir.Event{ID: "x1", Type: "graph.compacted", Data: ir.Payload{"entities": int64(0)}},
		ir.Event{ID: "x2", Type: "other.thing"},
	)

	res, err := newEngine().FromStart(events)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 2, res.Skipped)
	assert.True(t, res.OK())
}

func TestReplayThroughVersionSwitch(t *testing.T) {
	g := newLiveGraph(t)
	engine := versioning.New(g, g.Bus(),
		versioning.WithIDGenerator(ident.NewSequence("v")),
		versioning.WithLogger(testutil.DiscardLogger()),
	)
	defer engine.Close()

	v1, err := engine.CreateVersion(ir.VersionMetadata{})
	require.NoError(t, err)
	_, err = g.AddEntity(map[string]any{"id": "e1", "type": "repo"})
	require.NoError(t, err)
	_, err = engine.CreateVersion(ir.VersionMetadata{})
	require.NoError(t, err)
	require.NoError(t, engine.SwitchToVersion(v1.ID))
	_, err = g.AddEntity(map[string]any{"id": "e1", "type": "repo", "name": "again"})
	require.NoError(t, err)

	res, err := newEngine().FromStart(g.Bus().History())
	require.NoError(t, err)
	require.True(t, res.OK(), "errors: %v", res.Errors)
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, fingerprint(t, g.Serialize()), fingerprint(t, res.Graph.Serialize()))

	e1, ok := res.Graph.GetEntity("e1")
	require.True(t, ok)
	assert.Equal(t, "again", e1["name"])
}

func TestReplayLoadedEvent(t *testing.T) {
	g := newLiveGraph(t)
	require.NoError(t, g.Load(ir.Snapshot{
		Entities:  []ir.Record{{"id": "a", "type": "node"}, {"id": "b", "type": "node"}},
		Relations: []ir.Record{{"id": "r", "type": "LINK", "from": "a", "to": "b"}},
	}))
	_, err := g.RemoveEntity("b")
	require.NoError(t, err)

	res, err := newEngine().FromStart(g.Bus().History())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, g.Serialize(), res.Graph.Serialize())

	// A loaded event without its record lists cannot be reproduced.
	res, err = newEngine().FromStart([]ir.Event{
		{ID: "l1", Type: graph.EventLoaded, Data: ir.Payload{"entities": int64(2), "relations": int64(1)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "l1", res.Errors[0].EventID)
}

func TestReplayCollectsErrorsAndContinues(t *testing.T) {
	events := []ir.Event{
		{ID: "e1", Type: graph.EventEntityAdded, Data: ir.Payload{"entity": map[string]any{"id": "a", "type": "node"}}},
		{ID: "e2", Type: graph.EventEntityUpdated, Meta: ir.EventMeta{Seq: 2}, Data: ir.Payload{"id": "ghost", "patch": map[string]any{"x": int64(1)}}},
		{ID: "e3", Type: graph.EventEntityAdded, Data: ir.Payload{"entity": map[string]any{"id": "a", "type": "node"}}},
		{ID: "e4", Type: graph.EventRelationAdded, Data: ir.Payload{}},
		{ID: "e5", Type: graph.EventEntityAdded, Data: ir.Payload{"entity": map[string]any{"id": "b", "type": "node"}}},
	}

	res, err := newEngine().FromStart(events)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, 2, res.Applied)
	require.Len(t, res.Errors, 3)

	first := res.Errors[0]
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "e2", first.EventID)
	assert.Equal(t, int64(2), first.Seq)
	assert.True(t, ir.IsReplayApplicationError(first))
	assert.True(t, ir.IsNotFound(first.Err))

	assert.True(t, ir.IsDuplicateID(res.Errors[1].Err))
	assert.Equal(t, "e4", res.Errors[2].EventID)

	var ids []string
	for _, e := range res.Graph.Entities() {
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestReplayCascadeIsIndependentOfPolicy(t *testing.T) {
	g := newLiveGraph(t, graph.WithCascade(graph.CascadeDelete))
	buildHistory(t, g)
	_, err := g.RemoveEntity("p1")
	require.NoError(t, err)
	require.Empty(t, g.Relations())

	res, err := newEngine().FromStart(g.Bus().History())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Empty(t, res.Graph.Relations(), "cascaded relations are removed under the default orphan policy")

	fp, err := res.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fingerprint(t, g.Serialize()), fp)
}

func TestReplayReinstatedRelation(t *testing.T) {
	g := newLiveGraph(t)
	_, err := g.AddEntity(map[string]any{"id": "a", "type": "node"})
	require.NoError(t, err)
	_, err = g.ReinstateRelation(map[string]any{"id": "r1", "type": "LINK", "from": "a", "to": "gone"})
	require.NoError(t, err)

	res, err := newEngine().FromStart(g.Bus().History())
	require.NoError(t, err)
	require.True(t, res.OK())
	_, ok := res.Graph.GetRelation("r1")
	assert.True(t, ok)
}

func TestReplayDerivesPatchWhenAbsent(t *testing.T) {
	events := []ir.Event{
		{Type: graph.EventEntityAdded, Data: ir.Payload{"entity": map[string]any{"id": "a", "type": "node", "old": "x", "keep": int64(1)}}},
		{Type: graph.EventEntityUpdated, Data: ir.Payload{
			"id":     "a",
			"before": map[string]any{"id": "a", "type": "node", "old": "x", "keep": int64(1)},
			"after":  map[string]any{"id": "a", "type": "node", "keep": int64(1), "new": true},
		}},
	}
	res, err := newEngine().FromStart(events)
	require.NoError(t, err)
	require.True(t, res.OK())
	a, _ := res.Graph.GetEntity("a")
	assert.Equal(t, ir.Record{"id": "a", "type": "node", "keep": int64(1), "new": true}, a)
}

func TestReplayFromSnapshot(t *testing.T) {
	base := ir.Snapshot{
		Entities:  []ir.Record{{"id": "a", "type": "node"}, {"id": "b", "type": "node"}},
		Relations: []ir.Record{{"id": "r1", "type": "LINK", "from": "a", "to": "b"}},
	}
	events := []ir.Event{
		{Type: graph.EventRelationRemoved, Data: ir.Payload{"id": "r1"}},
		{Type: graph.EventEntityRemoved, Data: ir.Payload{"id": "b"}},
	}

	res, err := newEngine().FromSnapshot(base, events)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, ir.Snapshot{Entities: []ir.Record{{"id": "a", "type": "node"}}, Relations: []ir.Record{}},
		res.Graph.Serialize())

	_, err = newEngine().FromSnapshot(ir.Snapshot{Entities: []ir.Record{{"id": "x"}}}, nil)
	assert.True(t, ir.IsValidationError(err))
}

func TestReplayResetEvent(t *testing.T) {
	g := newLiveGraph(t)
	buildHistory(t, g)
	g.Reset()
	_, err := g.AddEntity(map[string]any{"id": "z", "type": "node"})
	require.NoError(t, err)

	res, err := newEngine().FromStart(g.Bus().History())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, g.Serialize(), res.Graph.Serialize())
}

func TestUntil(t *testing.T) {
	g := newLiveGraph(t)
	buildHistory(t, g)
	events := g.Bus().History()
	require.Greater(t, len(events), 3)

	cutoff := events[2].Meta.Timestamp
	res, err := newEngine().Until(events, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.Len(t, res.Graph.Entities(), 3)
	assert.Empty(t, res.Graph.Relations())

	res, err = newEngine().Until(events, testutil.Epoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
}

func TestWithGraphOptions(t *testing.T) {
	events := []ir.Event{
		{Type: graph.EventEntityAdded, Data: ir.Payload{"entity": map[string]any{"id": "a", "type": "node"}}},
		{Type: graph.EventEntityAdded, Data: ir.Payload{"entity": map[string]any{"id": "b", "type": "node"}}},
		{Type: graph.EventRelationAdded, Data: ir.Payload{"relation": map[string]any{"id": "r", "type": "L", "from": "a", "to": "b"}}},
		{Type: graph.EventEntityRemoved, Data: ir.Payload{"id": "a"}},
	}
	res, err := newEngine(WithGraphOptions(graph.WithCascade(graph.CascadeReject))).FromStart(events)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.True(t, ir.IsHasRelations(res.Errors[0].Err))
}
