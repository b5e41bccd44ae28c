package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "types.cue"), []byte("entity: user: {}\n"), 0644))
	path := writeScenario(t, dir, `
name: test_scenario
description: "Test scenario for validation"
schema: types.cue
cascade: delete
max_undo: 5
flow:
  - op: add_entity
    data:
      id: u1
      type: user
      age: 3
  - op: update_entity
    id: u1
    patch: { age: null }
assertions:
  - type: count
    entities: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(dir, "types.cue"), scenario.Schema, "schema is resolved against the scenario file")
	assert.Equal(t, "delete", scenario.Cascade)
	assert.Equal(t, 5, scenario.MaxUndo)
	require.Len(t, scenario.Flow, 2)
	assert.Equal(t, OpAddEntity, scenario.Flow[0].Op)
	assert.Equal(t, "u1", scenario.Flow[0].Data["id"])
	assert.Equal(t, 3, scenario.Flow[0].Data["age"])
	v, present := scenario.Flow[1].Patch["age"]
	assert.True(t, present)
	assert.Nil(t, v, "null in a patch is kept as a removal")
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, 1, *scenario.Assertions[0].Entities)
	assert.Nil(t, scenario.Assertions[0].Relations)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MissingSchema(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: s
description: d
schema: nope.cue
flow:
  - op: reset
assertions:
  - type: replay
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema not found")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nflow: [{op: reset}]\nassertions: [{type: replay}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nflow: [{op: reset}]\nassertions: [{type: replay}]\n",
			want: "description is required",
		},
		{
			name: "empty flow",
			yaml: "name: n\ndescription: d\nflow: []\nassertions: [{type: replay}]\n",
			want: "flow list is required",
		},
		{
			name: "no assertions",
			yaml: "name: n\ndescription: d\nflow: [{op: reset}]\n",
			want: "assertions list is required",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nflwo: []\n",
			want: "field flwo not found",
		},
		{
			name: "unknown op",
			yaml: "name: n\ndescription: d\nflow: [{op: teleport}]\nassertions: [{type: replay}]\n",
			want: `flow[0]: unknown op "teleport"`,
		},
		{
			name: "add without data",
			yaml: "name: n\ndescription: d\nflow: [{op: add_entity}]\nassertions: [{type: replay}]\n",
			want: "flow[0]: data is required for add_entity",
		},
		{
			name: "update without patch",
			yaml: "name: n\ndescription: d\nflow: [{op: update_relation, id: r}]\nassertions: [{type: replay}]\n",
			want: "flow[0]: patch is required for update_relation",
		},
		{
			name: "switch without version",
			yaml: "name: n\ndescription: d\nflow: [{op: switch_version}]\nassertions: [{type: replay}]\n",
			want: "flow[0]: version is required for switch_version",
		},
		{
			name: "bad cascade",
			yaml: "name: n\ndescription: d\ncascade: explode\nflow: [{op: reset}]\nassertions: [{type: replay}]\n",
			want: "explode",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nflow: [{op: reset}]\nassertions: [{type: vibes}]\n",
			want: `assertions[0]: unknown assertion type "vibes"`,
		},
		{
			name: "query without ids",
			yaml: "name: n\ndescription: d\nflow: [{op: reset}]\nassertions: [{type: query, where: {type: x}}]\n",
			want: "ids is required for query",
		},
		{
			name: "find without version",
			yaml: "name: n\ndescription: d\nflow: [{op: reset}]\nassertions: [{type: find, ids: []}]\n",
			want: "version is required for find",
		},
		{
			name: "absent with expect",
			yaml: "name: n\ndescription: d\nflow: [{op: reset}]\nassertions: [{type: entity, id: a, absent: true, expect: {x: 1}}]\n",
			want: "mutually exclusive",
		},
		{
			name: "count without counts",
			yaml: "name: n\ndescription: d\nflow: [{op: reset}]\nassertions: [{type: count}]\n",
			want: "entities or relations is required",
		},
		{
			name: "dirty without value",
			yaml: "name: n\ndescription: d\nflow: [{op: reset}]\nassertions: [{type: dirty}]\n",
			want: "dirty is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_EmptyIDsAllowed(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: n
description: d
flow: [{op: reset}]
assertions:
  - type: find
    version: v1
    ids: []
`))
	require.NoError(t, err)
	assert.NotNil(t, s.Assertions[0].IDs)
	assert.Empty(t, s.Assertions[0].IDs)
}
