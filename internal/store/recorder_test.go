package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ident"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/replay"
	"github.com/roach88/strata/internal/testutil"
	"github.com/roach88/strata/internal/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type session struct {
	bus      *eventbus.Bus
	graph    *graph.Graph
	versions *versioning.Engine
}

func newSession(t *testing.T) session {
	t.Helper()
	bus := eventbus.New(
		eventbus.WithIDGenerator(ident.NewSequence("ev")),
		eventbus.WithNow(testutil.NewDeterministicClock().Now),
		eventbus.WithLogger(testutil.DiscardLogger()),
	)
	g := graph.New(nil, bus, graph.WithLogger(testutil.DiscardLogger()))
	v := versioning.New(g, bus,
		versioning.WithIDGenerator(ident.NewSequence("v")),
		versioning.WithNow(testutil.NewDeterministicClock().Now),
		versioning.WithLogger(testutil.DiscardLogger()),
	)
	t.Cleanup(v.Close)
	return session{bus: bus, graph: g, versions: v}
}

func TestRecorderAndArchive(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "strata.db")
	s, err := Open(path, WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)

	sess := newSession(t)
	rec := NewRecorder(ctx, s, sess.bus)
	arc := NewArchive(ctx, s, sess.versions, sess.bus)

	_, err = sess.graph.AddEntity(map[string]any{"id": "u1", "type": "user", "name": "Ada"})
	require.NoError(t, err)
	_, err = sess.graph.AddEntity(map[string]any{"id": "p1", "type": "project"})
	require.NoError(t, err)
	v1, err := sess.versions.CreateVersion(ir.VersionMetadata{Message: "first"})
	require.NoError(t, err)
	_, err = sess.graph.AddRelation(map[string]any{"id": "r1", "type": "OWNS", "from": "u1", "to": "p1"})
	require.NoError(t, err)
	_, err = sess.graph.UpdateEntity("u1", map[string]any{"name": "Ada L"})
	require.NoError(t, err)
	v2, err := sess.versions.CreateVersion(ir.VersionMetadata{Message: "second"})
	require.NoError(t, err)
	_, err = sess.versions.CreateBranch("feature", v1.ID)
	require.NoError(t, err)

	require.NoError(t, rec.Err())
	require.NoError(t, arc.Err())
	assert.Equal(t, sess.bus.Len(), rec.Written())
	rec.Close()
	arc.Close()
	require.NoError(t, s.Close())

	// A later session reads everything back.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	events, err := s.ReadEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.bus.History(), events)

	res, err := replay.New(nil, replay.WithLogger(testutil.DiscardLogger())).FromStart(events)
	require.NoError(t, err)
	require.True(t, res.OK())
	fp, err := res.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, ir.MustSnapshotChecksum(sess.graph.Serialize()), fp)

	versions, err := s.ReadVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, v1.Checksum(), versions[0].Checksum())
	assert.Equal(t, v2.Checksum(), versions[1].Checksum())

	branches, err := s.ReadBranches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, v1.ID, branches[0].FromVersionID, "main was anchored at the first version")

	restored := newSession(t)
	require.NoError(t, restored.versions.Import(versions, branches))
	require.NoError(t, restored.versions.SwitchToVersion(v2.ID))
	assert.Equal(t, sess.graph.Serialize(), restored.graph.Serialize())

	owners, err := s.FindEntities(ctx, v2.ID, query.FieldEQ("name", "Ada L"))
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "u1", owners[0].ID())
}

func TestRecorderReportsFailures(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	sess := newSession(t)
	rec := NewRecorder(ctx, s, sess.bus)
	defer rec.Close()

	_, err := s.WriteEvent(ctx, testEvent("ev-1", "other", 1, ir.Payload{"taken": true}))
	require.NoError(t, err)

	_, err = sess.graph.AddEntity(map[string]any{"id": "a", "type": "node"})
	require.NoError(t, err, "a failed write does not fail the mutation")
	assert.True(t, ir.IsDuplicateID(rec.Err()))
	assert.Zero(t, rec.Written())
}

func TestRecorderClose(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	sess := newSession(t)
	rec := NewRecorder(ctx, s, sess.bus)
	rec.Close()

	_, err := sess.graph.AddEntity(map[string]any{"id": "a", "type": "node"})
	require.NoError(t, err)

	events, err := s.ReadEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}
