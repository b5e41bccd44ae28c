package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/graph"
)

// Scenario defines a conformance test scenario.
// Scenarios drive a fresh strata session through a flow of operations and
// assert on the resulting event trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is an optional path to a CUE file or directory with type
	// definitions. Relative paths are resolved against the scenario file.
	Schema string `yaml:"schema,omitempty"`

	// Cascade is the relation cascade policy: orphan (default), delete or
	// reject.
	Cascade string `yaml:"cascade,omitempty"`

	// MaxUndo bounds the undo stack. Zero keeps the default.
	MaxUndo int `yaml:"max_undo,omitempty"`

	// Flow contains the operations to run, in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation of the flow.
type Step struct {
	// Op names the operation; see the Op constants.
	Op string `yaml:"op"`

	// ID is the record id for update_*, remove_* operations.
	ID string `yaml:"id,omitempty"`

	// Data is the record for add_entity and add_relation.
	Data map[string]any `yaml:"data,omitempty"`

	// Patch is the patch for update_* operations. A null value removes the
	// field.
	Patch map[string]any `yaml:"patch,omitempty"`

	// Label names a batch for begin_batch.
	Label string `yaml:"label,omitempty"`

	// Message, Author and Tags describe a version for create_version.
	Message string   `yaml:"message,omitempty"`
	Author  string   `yaml:"author,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`

	// As names the version created by create_version so later steps and
	// assertions can refer to it.
	As string `yaml:"as,omitempty"`

	// Version is a version name (see As) or id for switch_version, and the
	// anchor for create_branch.
	Version string `yaml:"version,omitempty"`

	// Branch is the branch name for create_branch and switch_branch.
	Branch string `yaml:"branch,omitempty"`

	// ExpectError, when set, is the error code the step must fail with,
	// for example VALIDATION_ERROR or NOTHING_TO_UNDO.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Operation names.
const (
	OpAddEntity      = "add_entity"
	OpUpdateEntity   = "update_entity"
	OpRemoveEntity   = "remove_entity"
	OpAddRelation    = "add_relation"
	OpUpdateRelation = "update_relation"
	OpRemoveRelation = "remove_relation"
	OpReset          = "reset"
	OpUndo           = "undo"
	OpRedo           = "redo"
	OpBeginBatch     = "begin_batch"
	OpEndBatch       = "end_batch"
	OpCreateVersion  = "create_version"
	OpSwitchVersion  = "switch_version"
	OpCreateBranch   = "create_branch"
	OpSwitchBranch   = "switch_branch"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "entity": the entity with ID exists and holds Expect (subset match),
	//   or does not exist when Absent is true
	// - "relation": same for a relation
	// - "count": the graph holds exactly Entities entities and Relations
	//   relations
	// - "trace_order": event types appear in the given order
	// - "trace_count": event type Event appears exactly Count times
	// - "query": entities matching Where (equality on each field) have
	//   exactly the ids in IDs, in order
	// - "find": like query, but evaluated in SQL against the archived
	//   version named Version
	// - "replay": replaying the recorded log reproduces the final state
	// - "dirty": the working state differs from the current version iff
	//   Dirty is true
	Type string `yaml:"type"`

	ID     string         `yaml:"id,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Absent bool           `yaml:"absent,omitempty"`

	Entities  *int `yaml:"entities,omitempty"`
	Relations *int `yaml:"relations,omitempty"`

	Events []string `yaml:"events,omitempty"`
	Event  string   `yaml:"event,omitempty"`
	Count  int      `yaml:"count,omitempty"`

	Where   map[string]any `yaml:"where,omitempty"`
	IDs     []string       `yaml:"ids,omitempty"`
	Version string         `yaml:"version,omitempty"`

	Dirty *bool `yaml:"dirty,omitempty"`
}

// Assertion type constants.
const (
	AssertEntity     = "entity"
	AssertRelation   = "relation"
	AssertCount      = "count"
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertQuery      = "query"
	AssertFind       = "find"
	AssertReplay     = "replay"
	AssertDirty      = "dirty"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative schema path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if scenario.Schema != "" {
		if _, err := os.Stat(scenario.Schema); err != nil {
			return nil, fmt.Errorf("invalid scenario: schema not found: %s", scenario.Schema)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := graph.ParseCascadePolicy(s.Cascade); err != nil {
		return err
	}

	if s.MaxUndo < 0 {
		return fmt.Errorf("max_undo must be non-negative")
	}

	for i := range s.Flow {
		if err := validateStep(i, &s.Flow[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single flow step based on its op.
func validateStep(index int, st *Step) error {
	switch st.Op {
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	case OpAddEntity, OpAddRelation:
		if st.Data == nil {
			return fmt.Errorf("flow[%d]: data is required for %s", index, st.Op)
		}
	case OpUpdateEntity, OpUpdateRelation:
		if st.ID == "" {
			return fmt.Errorf("flow[%d]: id is required for %s", index, st.Op)
		}
		if st.Patch == nil {
			return fmt.Errorf("flow[%d]: patch is required for %s", index, st.Op)
		}
	case OpRemoveEntity, OpRemoveRelation:
		if st.ID == "" {
			return fmt.Errorf("flow[%d]: id is required for %s", index, st.Op)
		}
	case OpSwitchVersion:
		if st.Version == "" {
			return fmt.Errorf("flow[%d]: version is required for %s", index, st.Op)
		}
	case OpCreateBranch, OpSwitchBranch:
		if st.Branch == "" {
			return fmt.Errorf("flow[%d]: branch is required for %s", index, st.Op)
		}
	case OpReset, OpUndo, OpRedo, OpBeginBatch, OpEndBatch, OpCreateVersion:
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, st.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEntity, AssertRelation:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
		if a.Absent && len(a.Expect) > 0 {
			return fmt.Errorf("assertions[%d]: absent and expect are mutually exclusive", index)
		}
	case AssertCount:
		if a.Entities == nil && a.Relations == nil {
			return fmt.Errorf("assertions[%d]: entities or relations is required for count", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertQuery:
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: ids is required for query (use [] for none)", index)
		}
	case AssertFind:
		if a.Version == "" {
			return fmt.Errorf("assertions[%d]: version is required for find", index)
		}
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: ids is required for find (use [] for none)", index)
		}
	case AssertReplay:
	case AssertDirty:
		if a.Dirty == nil {
			return fmt.Errorf("assertions[%d]: dirty is required for dirty", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
