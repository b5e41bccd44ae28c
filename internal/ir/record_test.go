package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccessors(t *testing.T) {
	rel := Record{"id": "r1", "type": "OWNS", "from": "u1", "to": "p1", "metadata": map[string]any{"w": int64(1)}}

	assert.Equal(t, "r1", rel.ID())
	assert.Equal(t, "OWNS", rel.Type())
	assert.Equal(t, "u1", rel.From())
	assert.Equal(t, "p1", rel.To())
	assert.Equal(t, map[string]any{"w": int64(1)}, rel.Metadata())
	assert.Equal(t, "", Record{"id": 5}.ID())
}

func TestSnapshotMarshalEmptyLists(t *testing.T) {
	data, err := json.Marshal(Snapshot{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"entities":[],"relations":[]}`, string(data))
}

func TestFrozenSnapshotIsolation(t *testing.T) {
	live := Snapshot{Entities: []Record{{"id": "e1", "type": "t", "tags": []any{"a"}}}}
	frozen, err := Freeze(live)
	require.NoError(t, err)

	live.Entities[0]["type"] = "mutated"
	thawed := frozen.Thaw()
	thawed.Entities[0]["tags"].([]any)[0] = "mutated"

	again := frozen.Thaw()
	assert.Equal(t, "t", again.Entities[0]["type"])
	assert.Equal(t, []any{"a"}, again.Entities[0]["tags"])
	assert.Equal(t, MustSnapshotChecksum(again), frozen.Checksum())
}

func TestVersionJSONRoundTrip(t *testing.T) {
	frozen, err := Freeze(Snapshot{Entities: []Record{{"id": "e1", "type": "t"}}})
	require.NoError(t, err)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	root := NewVersion("v1", "", "main", ts, VersionMetadata{Message: "init"}, frozen)
	data, err := json.Marshal(root)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parentId":null`)
	assert.Contains(t, string(data), `"tags":[]`)

	var decoded Version
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "v1", decoded.ID)
	assert.True(t, decoded.IsRoot())
	assert.Equal(t, root.Checksum(), decoded.Checksum())
	assert.Equal(t, "init", decoded.Metadata.Message)

	child := NewVersion("v2", "v1", "main", ts, VersionMetadata{Tags: []string{"x"}}, frozen)
	data, err = json.Marshal(child)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parentId":"v1"`)
}

func TestEventReplayable(t *testing.T) {
	ev := Event{}
	assert.True(t, ev.IsReplayable())

	ev.Replayable = Bool(true)
	assert.True(t, ev.IsReplayable())

	ev.Replayable = Bool(false)
	assert.False(t, ev.IsReplayable())

	data, err := json.Marshal(Event{ID: "x"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "replayable")
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("add entity: %w", NewDuplicateIDError(KindEntity, "e1"))

	assert.True(t, IsDuplicateID(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, CodeDuplicateID, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))

	verr := NewValidationError(KindEntity, "e2", []Violation{
		{Field: "name", Constraint: "required", Message: "is required"},
		{Field: "stars", Constraint: "range", Message: "must be >= 0"},
	})
	assert.True(t, IsValidationError(verr))
	assert.Contains(t, verr.Error(), "name: is required; stars: must be >= 0")
	assert.Contains(t, verr.Error(), "(entity=e2)")
}
