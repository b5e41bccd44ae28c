package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: owns
description: user owns a repo
schema: types.cue
flow:
  - op: add_entity
    data: {id: u1, type: user, name: Ada}
  - op: add_entity
    data: {id: p1, type: repo, name: strata}
  - op: add_relation
    data: {id: r1, type: OWNS, from: u1, to: p1}
assertions:
  - type: count
    entities: 2
    relations: 1
`

const failingScenario = `name: broken-count
description: wrong count
schema: types.cue
flow:
  - op: add_entity
    data: {id: u1, type: user, name: Ada}
assertions:
  - type: count
    entities: 5
`

func scenarioDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "types.cue", testSchema)
	writeFile(t, dir, "owns.yaml", passingScenario)
	return dir
}

func TestTestCommand_Pass(t *testing.T) {
	dir := scenarioDir(t)

	out, err := execute(NewTestCommand(testRootOptions("text")), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ owns")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_Fail(t *testing.T) {
	dir := scenarioDir(t)
	writeFile(t, dir, "broken.yaml", failingScenario)

	out, err := execute(NewTestCommand(testRootOptions("json")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)

	// broken.yaml sorts first.
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "broken-count", resp.Data.Scenarios[0].Name)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.Contains(t, resp.Data.Scenarios[0].Errors[0], "5 entities")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := scenarioDir(t)
	writeFile(t, dir, "broken.yaml", failingScenario)

	out, err := execute(NewTestCommand(testRootOptions("text")), dir, "--filter", "own*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	_, err = execute(NewTestCommand(testRootOptions("text")), dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_Golden(t *testing.T) {
	dir := scenarioDir(t)
	goldenPath := filepath.Join(dir, "golden", "owns.golden")

	out, err := execute(NewTestCommand(testRootOptions("text")), dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ owns (golden updated)")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"owns"`)

	out, err = execute(NewTestCommand(testRootOptions("json")), dir)
	require.NoError(t, err)
	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "match", resp.Data.Scenarios[0].Golden)

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"owns","trace":[]}`), 0644))
	out, err = execute(NewTestCommand(testRootOptions("text")), dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "name: x\nunknown_field: 1\n")

	out, err := execute(NewTestCommand(testRootOptions("text")), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ bad.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_MissingPath(t *testing.T) {
	_, err := execute(NewTestCommand(testRootOptions("text")), filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_Empty(t *testing.T) {
	out, err := execute(NewTestCommand(testRootOptions("text")), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
