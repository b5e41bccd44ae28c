package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// CodeValidation indicates a record failed schema validation.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeDuplicateID indicates an insert collided with an existing id.
	CodeDuplicateID ErrorCode = "DUPLICATE_ID"

	// CodeNotFound indicates a referenced id does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeReplayApplication indicates an event could not be applied during replay.
	CodeReplayApplication ErrorCode = "REPLAY_APPLICATION_ERROR"

	// CodeHasRelations indicates an entity removal was refused because
	// relations still reference it.
	CodeHasRelations ErrorCode = "HAS_RELATIONS"

	// CodeInvalidQuery indicates a malformed query configuration.
	CodeInvalidQuery ErrorCode = "INVALID_QUERY"
)

// Violation is one failed field check.
type Violation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Error is the typed error returned by every strata component.
type Error struct {
	Code    ErrorCode
	Kind    Kind
	ID      string
	Message string

	// Violations lists every failed check for CodeValidation.
	Violations []Violation

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Kind != "" && e.ID != "" {
		fmt.Fprintf(&b, " (%s=%s)", e.Kind, e.ID)
	}
	if len(e.Violations) > 0 {
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.String()
		}
		fmt.Fprintf(&b, ": %s", strings.Join(parts, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewValidationError reports every violation found for a record.
func NewValidationError(kind Kind, id string, violations []Violation) *Error {
	return &Error{
		Code:       CodeValidation,
		Kind:       kind,
		ID:         id,
		Message:    fmt.Sprintf("%s failed validation", kind),
		Violations: violations,
	}
}

// NewDuplicateIDError reports an insert of an id that already exists.
func NewDuplicateIDError(kind Kind, id string) *Error {
	return &Error{
		Code:    CodeDuplicateID,
		Kind:    kind,
		ID:      id,
		Message: fmt.Sprintf("%s id already exists", kind),
	}
}

// NewNotFoundError reports a reference to an id that does not exist.
func NewNotFoundError(kind Kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Kind:    kind,
		ID:      id,
		Message: fmt.Sprintf("%s not found", kind),
	}
}

// NewHasRelationsError reports a refused removal of a referenced entity.
func NewHasRelationsError(id string, count int) *Error {
	return &Error{
		Code:    CodeHasRelations,
		Kind:    KindEntity,
		ID:      id,
		Message: fmt.Sprintf("entity is referenced by %d relation(s)", count),
	}
}

// NewInvalidQueryError reports a malformed query.
func NewInvalidQueryError(format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidQuery,
		Message: fmt.Sprintf(format, args...),
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidationError reports whether err is a schema validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool { return CodeOf(err) == CodeValidation }

// IsDuplicateID reports whether err is a duplicate id failure.
func IsDuplicateID(err error) bool { return CodeOf(err) == CodeDuplicateID }

// IsNotFound reports whether err is a missing id failure.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsHasRelations reports whether err is a refused entity removal.
func IsHasRelations(err error) bool { return CodeOf(err) == CodeHasRelations }

// IsReplayApplicationError reports whether err is a replay application failure.
func IsReplayApplicationError(err error) bool { return CodeOf(err) == CodeReplayApplication }
