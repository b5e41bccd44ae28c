package harness

import "github.com/roach88/strata/internal/ir"

// TraceEvent is one bus event as it appears in a scenario trace.
type TraceEvent struct {
	Seq    int64      `json:"seq"`
	Type   string     `json:"type"`
	Source string     `json:"source"`
	Data   ir.Payload `json:"data"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event the session emitted, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final graph state.
	State ir.Snapshot `json:"state"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event to the trace.
func (r *Result) AddTrace(ev ir.Event) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    ev.Meta.Seq,
		Type:   ev.Type,
		Source: ev.Meta.Source,
		Data:   ev.Data,
	})
}
