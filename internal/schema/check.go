package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/strata/internal/ir"
)

// Definition error codes (E200-E299).
const (
	ErrTypeNameEmpty    = "E201" // type name is required
	ErrInvalidKind      = "E202" // kind must be entity or relation
	ErrDuplicateField   = "E203" // field declared twice
	ErrInvalidFieldType = "E204" // unknown field type
	ErrInvalidBounds    = "E205" // min greater than max, or negative length
	ErrInvalidPattern   = "E206" // pattern does not compile
	ErrReservedField    = "E207" // reserved field constrained to a non-string type
	ErrFieldNameEmpty   = "E208" // field name is required
	ErrDuplicateType    = "E209" // type already registered
)

// DefinitionError is one problem found in a type definition.
type DefinitionError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e DefinitionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// DefinitionErrors groups every problem found in one definition.
type DefinitionErrors struct {
	Type   string
	Errors []DefinitionError
}

// Error implements the error interface.
func (e *DefinitionErrors) Error() string {
	parts := make([]string, len(e.Errors))
	for i, de := range e.Errors {
		parts[i] = de.Error()
	}
	return fmt.Sprintf("type %q: %s", e.Type, strings.Join(parts, "; "))
}

// reservedStringFields must stay strings for the store to work.
var reservedStringFields = map[string]bool{
	ir.FieldID: true, ir.FieldType: true, ir.FieldFrom: true, ir.FieldTo: true,
}

// CheckTypeDef validates a type definition.
// Returns all errors found (does not fail-fast).
func CheckTypeDef(def TypeDef) []DefinitionError {
	var errs []DefinitionError

	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, DefinitionError{Field: "name", Message: "type name is required", Code: ErrTypeNameEmpty})
	}
	if def.Kind != ir.KindEntity && def.Kind != ir.KindRelation {
		errs = append(errs, DefinitionError{
			Field:   "kind",
			Message: fmt.Sprintf("kind must be %q or %q, got %q", ir.KindEntity, ir.KindRelation, def.Kind),
			Code:    ErrInvalidKind,
		})
	}

	seen := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		path := "fields." + f.Name
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, DefinitionError{Field: "fields", Message: "field name is required", Code: ErrFieldNameEmpty})
			continue
		}
		if seen[f.Name] {
			errs = append(errs, DefinitionError{Field: path, Message: "field declared more than once", Code: ErrDuplicateField})
		}
		seen[f.Name] = true
		errs = append(errs, checkConstraints(path, f)...)
	}
	return errs
}

func checkConstraints(path string, f Field) []DefinitionError {
	var errs []DefinitionError
	for _, c := range f.Constraints {
		switch c := c.(type) {
		case TypeOf:
			if !validFieldTypes[c.Type] {
				errs = append(errs, DefinitionError{
					Field:   path,
					Message: fmt.Sprintf("invalid field type %q (valid: string, number, integer, boolean, object, array, any)", c.Type),
					Code:    ErrInvalidFieldType,
				})
				continue
			}
			if reservedStringFields[f.Name] && c.Type != TypeString && c.Type != TypeAny {
				errs = append(errs, DefinitionError{
					Field:   path,
					Message: fmt.Sprintf("reserved field %q must be a string", f.Name),
					Code:    ErrReservedField,
				})
			}
		case Range:
			if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
				errs = append(errs, DefinitionError{Field: path, Message: "min must not exceed max", Code: ErrInvalidBounds})
			}
		case Length:
			if (c.Min != nil && *c.Min < 0) || (c.Max != nil && *c.Max < 0) {
				errs = append(errs, DefinitionError{Field: path, Message: "length bounds must be non-negative", Code: ErrInvalidBounds})
			}
			if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
				errs = append(errs, DefinitionError{Field: path, Message: "minLength must not exceed maxLength", Code: ErrInvalidBounds})
			}
		case Pattern:
			if _, err := regexp.Compile(c.Expr); err != nil {
				errs = append(errs, DefinitionError{Field: path, Message: err.Error(), Code: ErrInvalidPattern})
			}
		}
	}
	return errs
}
