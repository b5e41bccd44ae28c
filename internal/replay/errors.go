package replay

import (
	"fmt"

	"github.com/roach88/strata/internal/ir"
)

// ApplicationError reports one event that could not be applied.
//
// It matches ir.IsReplayApplicationError. The graph error that caused it
// is in Err and is also reachable through errors.Is.
type ApplicationError struct {
	// Index is the position of the event in the filtered sequence.
	Index int

	EventID   string
	EventType string
	Seq       int64

	Err error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s: event %s (%s, seq=%d): %v",
		ir.CodeReplayApplication, e.EventID, e.EventType, e.Seq, e.Err)
}

// Unwrap exposes both the replay error code and the cause.
func (e *ApplicationError) Unwrap() []error {
	return []error{
		&ir.Error{Code: ir.CodeReplayApplication, ID: e.EventID, Message: "event could not be applied"},
		e.Err,
	}
}
