package graph

import (
	"testing"

	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/ident"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	s := schema.New().MustRegister(schema.TypeDef{
		Name: "repo",
		Kind: ir.KindEntity,
		Fields: []schema.Field{
			{Name: "name", Required: true, Constraints: []schema.Constraint{schema.TypeOf{Type: schema.TypeString}}},
		},
	})
	bus := eventbus.New(
		eventbus.WithIDGenerator(ident.NewSequence("ev")),
		eventbus.WithNow(testutil.NewDeterministicClock().Now),
		eventbus.WithLogger(testutil.DiscardLogger()),
	)
	return New(s, bus, append([]Option{WithLogger(testutil.DiscardLogger())}, opts...)...)
}

func eventTypes(g *Graph) []string {
	var out []string
	for _, ev := range g.Bus().History() {
		out = append(out, ev.Type)
	}
	return out
}

func seed(t *testing.T, g *Graph) {
	t.Helper()
	_, err := g.AddEntity(map[string]any{"id": "u1", "type": "user"})
	require.NoError(t, err)
	_, err = g.AddEntity(map[string]any{"id": "p1", "type": "repo", "name": "strata"})
	require.NoError(t, err)
	_, err = g.AddRelation(map[string]any{"id": "r1", "type": "OWNS", "from": "u1", "to": "p1"})
	require.NoError(t, err)
}

func TestAddEntity(t *testing.T) {
	g := newTestGraph(t)

	rec, err := g.AddEntity(map[string]any{"id": "e1", "type": "repo", "name": "x", "stars": 3, "gone": nil})
	require.NoError(t, err)
	assert.Equal(t, ir.Record{"id": "e1", "type": "repo", "name": "x", "stars": int64(3)}, rec)

	got, ok := g.GetEntity("e1")
	require.True(t, ok)
	assert.Equal(t, rec, got)

	history := g.Bus().History()
	require.Len(t, history, 1)
	assert.Equal(t, EventEntityAdded, history[0].Type)
	assert.Equal(t, Source, history[0].Meta.Source)
	entity, _ := history[0].Data.Record("entity")
	assert.Equal(t, "e1", entity.ID())
}

func TestAddEntityErrors(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.AddEntity(map[string]any{"id": "e1", "type": "user"})
	require.NoError(t, err)

	_, err = g.AddEntity(map[string]any{"id": "e1", "type": "user"})
	assert.True(t, ir.IsDuplicateID(err))

	_, err = g.AddEntity(map[string]any{"id": "e2", "type": "repo"})
	assert.True(t, ir.IsValidationError(err), "repo requires name")

	_, err = g.AddEntity(map[string]any{"id": "e3", "type": "user", "bad": make(chan int)})
	assert.True(t, ir.IsValidationError(err))

	_, ok := g.GetEntity("e2")
	assert.False(t, ok)
	assert.Equal(t, []string{EventEntityAdded}, eventTypes(g), "failed calls emit nothing")
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	g := newTestGraph(t)
	input := map[string]any{"id": "e1", "type": "user", "tags": []any{"a"}}
	rec, err := g.AddEntity(input)
	require.NoError(t, err)

	rec["type"] = "mutated"
	input["tags"].([]any)[0] = "mutated"
	got, _ := g.GetEntity("e1")
	got["tags"] = nil

	again, _ := g.GetEntity("e1")
	assert.Equal(t, "user", again.Type())
	assert.Equal(t, []any{"a"}, again["tags"])
}

func TestUpdateEntity(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)

	after, err := g.UpdateEntity("p1", map[string]any{"stars": 5, "name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, ir.Record{"id": "p1", "type": "repo", "name": "renamed", "stars": int64(5)}, after)

	history := g.Bus().History()
	last := history[len(history)-1]
	assert.Equal(t, EventEntityUpdated, last.Type)
	assert.Equal(t, "p1", last.Data.String("id"))
	before, _ := last.Data.Record("before")
	assert.Equal(t, "strata", before["name"])
	patch, _ := last.Data.Record("patch")
	assert.Equal(t, ir.Record{"stars": int64(5), "name": "renamed"}, patch)
}

func TestUpdateEntityNilRemovesField(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)
	_, err := g.UpdateEntity("p1", map[string]any{"stars": 1})
	require.NoError(t, err)

	after, err := g.UpdateEntity("p1", map[string]any{"stars": nil})
	require.NoError(t, err)
	_, present := after["stars"]
	assert.False(t, present)
}

func TestUpdateEntityErrors(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)

	_, err := g.UpdateEntity("missing", map[string]any{"a": 1})
	assert.True(t, ir.IsNotFound(err))

	_, err = g.UpdateEntity("p1", map[string]any{"type": "user"})
	assert.True(t, ir.IsValidationError(err))
	assert.Contains(t, err.Error(), "type: cannot be changed")

	_, err = g.UpdateEntity("p1", map[string]any{"id": "p2"})
	assert.True(t, ir.IsValidationError(err))

	_, err = g.UpdateEntity("p1", map[string]any{"name": nil})
	assert.True(t, ir.IsValidationError(err), "merged record must still validate")

	got, _ := g.GetEntity("p1")
	assert.Equal(t, "strata", got["name"])

	_, err = g.UpdateEntity("p1", map[string]any{"id": "p1", "x": 1})
	assert.NoError(t, err, "repeating the same id is not a change")
}

func TestAddRelationRequiresEndpoints(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)

	_, err := g.AddRelation(map[string]any{"id": "r2", "type": "OWNS", "from": "u1", "to": "ghost"})
	assert.True(t, ir.IsNotFound(err))

	_, err = g.AddRelation(map[string]any{"id": "r1", "type": "OWNS", "from": "u1", "to": "p1"})
	assert.True(t, ir.IsDuplicateID(err))

	_, err = g.AddRelation(map[string]any{"id": "r3", "type": "OWNS", "from": "u1"})
	assert.True(t, ir.IsValidationError(err))
}

func TestUpdateRelationEndpoint(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)

	_, err := g.UpdateRelation("r1", map[string]any{"to": "ghost"})
	assert.True(t, ir.IsNotFound(err))

	_, err = g.AddEntity(map[string]any{"id": "p2", "type": "repo", "name": "other"})
	require.NoError(t, err)
	rel, err := g.UpdateRelation("r1", map[string]any{"to": "p2", "weight": 0.5})
	require.NoError(t, err)
	assert.Equal(t, "p2", rel.To())
	assert.Equal(t, EventRelationUpdated, eventTypes(g)[len(eventTypes(g))-1])
}

func TestRemoveEntityOrphansByDefault(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)

	removed, err := g.RemoveEntity("p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", removed.ID())

	_, ok := g.GetRelation("r1")
	assert.True(t, ok, "orphaned relation remains")

	history := g.Bus().History()
	last := history[len(history)-1]
	assert.Equal(t, EventEntityRemoved, last.Type)
	_, hasCascade := last.Data["cascade"]
	assert.False(t, hasCascade)

	_, err = g.RemoveEntity("p1")
	assert.True(t, ir.IsNotFound(err))
}

func TestRemoveEntityCascadeDelete(t *testing.T) {
	g := newTestGraph(t, WithCascade(CascadeDelete))
	seed(t, g)

	_, err := g.RemoveEntity("p1")
	require.NoError(t, err)

	_, ok := g.GetRelation("r1")
	assert.False(t, ok)
	types := eventTypes(g)
	assert.Equal(t, EventEntityRemoved, types[len(types)-1])
	assert.Len(t, types, 4, "cascade happens inside the single removal event")

	last := g.Bus().History()[3]
	cascade := last.Data.Records("cascade")
	require.Len(t, cascade, 1)
	assert.Equal(t, "r1", cascade[0].ID())
}

func TestRemoveEntityCascadeReject(t *testing.T) {
	g := newTestGraph(t, WithCascade(CascadeReject))
	seed(t, g)

	_, err := g.RemoveEntity("p1")
	assert.True(t, ir.IsHasRelations(err))
	_, ok := g.GetEntity("p1")
	assert.True(t, ok)

	_, err = g.RemoveRelation("r1")
	require.NoError(t, err)
	_, err = g.RemoveEntity("p1")
	assert.NoError(t, err)
}

func TestRemoveRelation(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)

	_, err := g.RemoveRelation("r1")
	require.NoError(t, err)
	_, err = g.RemoveRelation("r1")
	assert.True(t, ir.IsNotFound(err))
	assert.Empty(t, g.Relations())
}

func TestReinstateRelationSkipsEndpointCheck(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)
	_, err := g.RemoveEntity("u1")
	require.NoError(t, err)
	rel, err := g.RemoveRelation("r1")
	require.NoError(t, err)

	_, err = g.AddRelation(rel)
	assert.True(t, ir.IsNotFound(err), "u1 is gone")

	_, err = g.ReinstateRelation(rel)
	require.NoError(t, err)
	_, ok := g.GetRelation("r1")
	assert.True(t, ok)

	history := g.Bus().History()
	last := history[len(history)-1]
	assert.Equal(t, EventRelationAdded, last.Type)
	assert.Equal(t, true, last.Data["reinstated"])

	_, err = g.ReinstateRelation(rel)
	assert.True(t, ir.IsDuplicateID(err))
}

func TestRelationsOf(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)

	assert.Len(t, g.RelationsOf("u1"), 1)
	assert.Len(t, g.RelationsOf("p1"), 1)
	assert.Empty(t, g.RelationsOf("nobody"))
}

func TestSerializeKeepsInsertionOrder(t *testing.T) {
	g := newTestGraph(t)
	for _, id := range []string{"c", "a", "b"} {
		_, err := g.AddEntity(map[string]any{"id": id, "type": "t"})
		require.NoError(t, err)
	}
	_, err := g.UpdateEntity("a", map[string]any{"x": 1})
	require.NoError(t, err)

	snap := g.Serialize()
	ids := []string{snap.Entities[0].ID(), snap.Entities[1].ID(), snap.Entities[2].ID()}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
	assert.Empty(t, snap.Relations)
	assert.NotNil(t, snap.Relations)
}

func TestLoad(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)
	snap := g.Serialize()

	other := newTestGraph(t)
	require.NoError(t, other.Load(snap))
	assert.Equal(t, snap, other.Serialize())
	assert.Equal(t, []string{EventLoaded}, eventTypes(other))
	ents, rels := other.Counts()
	assert.Equal(t, 2, ents)
	assert.Equal(t, 1, rels)
}

func TestLoadIsAtomic(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)
	before := g.Serialize()

	err := g.Load(ir.Snapshot{Entities: []ir.Record{
		{"id": "x", "type": "user"},
		{"id": "y", "type": "repo"},
	}})
	assert.True(t, ir.IsValidationError(err))
	assert.Equal(t, before, g.Serialize())

	err = g.Load(ir.Snapshot{Entities: []ir.Record{{"id": "x", "type": "t"}, {"id": "x", "type": "t"}}})
	assert.True(t, ir.IsDuplicateID(err))
}

func TestRestoreSkipsValidation(t *testing.T) {
	g := newTestGraph(t)

	g.Restore(ir.Snapshot{Entities: []ir.Record{{"id": "p9", "type": "repo"}}})
	_, ok := g.GetEntity("p9")
	assert.True(t, ok)
	ev := g.Bus().History()[0]
	assert.Equal(t, EventLoaded, ev.Type)
	assert.Equal(t, true, ev.Data["restored"])
	require.Len(t, ev.Data.Records("entities"), 1)
	assert.Equal(t, "p9", ev.Data.Records("entities")[0].ID())
	assert.Empty(t, ev.Data.Records("relations"))
}

func TestReset(t *testing.T) {
	g := newTestGraph(t)
	seed(t, g)

	g.Reset()
	ents, rels := g.Counts()
	assert.Zero(t, ents)
	assert.Zero(t, rels)
	assert.Equal(t, EventReset, eventTypes(g)[3])
}

func TestListenerMayReadGraph(t *testing.T) {
	g := newTestGraph(t)
	var seen int
	g.Bus().Subscribe(EventEntityAdded, func(ir.Event) error {
		seen, _ = g.Counts()
		return nil
	})

	_, err := g.AddEntity(map[string]any{"id": "e1", "type": "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, seen, "state is committed before listeners run")
}

func TestParseCascadePolicy(t *testing.T) {
	p, err := ParseCascadePolicy("")
	require.NoError(t, err)
	assert.Equal(t, CascadeOrphan, p)

	p, err = ParseCascadePolicy("delete")
	require.NoError(t, err)
	assert.Equal(t, CascadeDelete, p)

	_, err = ParseCascadePolicy("explode")
	assert.Error(t, err)
}
