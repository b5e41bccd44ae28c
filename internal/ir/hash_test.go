package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotChecksumDeterminism(t *testing.T) {
	a := Snapshot{
		Entities: []Record{{"id": "e1", "type": "repo", "stars": int64(3)}},
	}
	b := Snapshot{
		Entities:  []Record{{"stars": 3.0, "type": "repo", "id": "e1"}},
		Relations: []Record{},
	}

	sumA, err := SnapshotChecksum(a)
	require.NoError(t, err)
	sumB, err := SnapshotChecksum(b)
	require.NoError(t, err)

	assert.Equal(t, sumA, sumB, "equal state must produce equal checksums")
	assert.Len(t, sumA, 64, "SHA-256 hex is 64 characters")
}

func TestSnapshotChecksumChangesWithContent(t *testing.T) {
	base := Snapshot{Entities: []Record{{"id": "e1", "type": "repo"}}}
	other := Snapshot{Entities: []Record{{"id": "e1", "type": "user"}}}

	assert.NotEqual(t, MustSnapshotChecksum(base), MustSnapshotChecksum(other))
}

func TestSnapshotChecksumOrderSensitive(t *testing.T) {
	e1 := Record{"id": "e1", "type": "t"}
	e2 := Record{"id": "e2", "type": "t"}

	assert.NotEqual(t,
		MustSnapshotChecksum(Snapshot{Entities: []Record{e1, e2}}),
		MustSnapshotChecksum(Snapshot{Entities: []Record{e2, e1}}),
	)
}

func TestEventDigest(t *testing.T) {
	ev := Event{
		SpecVersion: SpecVersion,
		ID:          "ev-1",
		Type:        "graph.entity.added",
		Meta:        EventMeta{Timestamp: time.Unix(0, 0).UTC(), Source: "graph", Seq: 1},
		Actor:       SystemActor,
		Data:        Payload{"entity": map[string]any{"id": "e1"}},
	}

	d1, err := EventDigest(ev)
	require.NoError(t, err)
	d2, err := EventDigest(ev.Clone())
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	ev.Replayable = Bool(false)
	d3, err := EventDigest(ev)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}
