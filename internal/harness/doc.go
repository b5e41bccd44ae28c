// Package harness provides conformance testing for strata.
//
// The harness runs YAML scenarios against a fresh strata session: an
// in-memory SQLite store, an event bus, a graph, an undo manager and a
// versioning engine, with the event log and version archive recorded to
// the store as the session runs.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: types.cue          # optional, relative to the scenario file
//	cascade: orphan            # orphan | delete | reject
//	max_undo: 100
//	flow:
//	  - op: add_entity
//	    data: { id: u1, type: user, name: Ada }
//	  - op: update_entity
//	    id: u1
//	    patch: { name: Ada L, nickname: null }
//	  - op: create_version
//	    message: first
//	    as: v1
//	  - op: remove_entity
//	    id: missing
//	    expect_error: NOT_FOUND
//	assertions:
//	  - type: entity
//	    id: u1
//	    expect: { name: Ada L }
//	  - type: count
//	    entities: 1
//	    relations: 0
//	  - type: find
//	    version: v1
//	    where: { type: user }
//	    ids: [u1]
//
// # Operations
//
// add_entity, update_entity, remove_entity, add_relation, update_relation,
// remove_relation, reset, undo, redo, begin_batch, end_batch,
// create_version, switch_version, create_branch and switch_branch.
// A step with expect_error must fail with that code; any other step must
// succeed.
//
// # Assertion Types
//
//   - entity, relation: a record exists with the expected fields (subset
//     match; a null field must be absent), or is absent
//   - count: the graph holds exactly N entities and/or relations
//   - trace_order: event types appear in the specified order
//   - trace_count: an event type appears exactly N times
//   - query: the fluent query engine returns exactly these ids
//   - find: the SQL finder returns exactly these ids for an archived version
//   - replay: replaying the persisted log reproduces the final state
//   - dirty: the working state has or has not diverged from its version
//
// # Deterministic Testing
//
// Event ids (ev-1, ev-2, ...), version and branch ids (v-1, ...) and
// timestamps (testutil.DeterministicClock) are deterministic, so traces
// are identical across runs and can be compared against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/versions.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
