package schema

import (
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/roach88/strata/internal/ir"
)

// FieldType names the JSON kind a field must hold.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

// validFieldTypes is the closed set accepted by CheckTypeDef.
var validFieldTypes = map[FieldType]bool{
	TypeString: true, TypeNumber: true, TypeInteger: true, TypeBoolean: true,
	TypeObject: true, TypeArray: true, TypeAny: true,
}

// Constraint is a sealed interface over the closed set of field checks:
// TypeOf, Range, Length and Pattern. Every variant is evaluated by check.
type Constraint interface {
	constraint()
	String() string
}

// TypeOf requires the value to be of the given JSON kind.
type TypeOf struct {
	Type FieldType
}

// Range bounds a numeric value, inclusive. Nil bounds are open.
type Range struct {
	Min *float64
	Max *float64
}

// Length bounds a string's length in characters (or an array's length),
// inclusive. Nil bounds are open.
type Length struct {
	Min *int
	Max *int
}

// Pattern requires a string value to match a regular expression.
type Pattern struct {
	Expr string
	re   *regexp.Regexp
}

func (TypeOf) constraint()  {}
func (Range) constraint()   {}
func (Length) constraint()  {}
func (Pattern) constraint() {}

func (TypeOf) String() string  { return "type" }
func (Range) String() string   { return "range" }
func (Length) String() string  { return "length" }
func (Pattern) String() string { return "pattern" }

// NewPattern compiles expr into a Pattern constraint.
func NewPattern(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return Pattern{Expr: expr, re: re}, nil
}

// MustPattern is like NewPattern but panics on an invalid expression.
func MustPattern(expr string) Pattern {
	p, err := NewPattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Between returns a Range with both bounds set.
func Between(min, max float64) Range { return Range{Min: &min, Max: &max} }

// AtLeast returns a Range with only a lower bound.
func AtLeast(min float64) Range { return Range{Min: &min} }

// AtMost returns a Range with only an upper bound.
func AtMost(max float64) Range { return Range{Max: &max} }

// LengthBetween returns a Length with both bounds set.
func LengthBetween(min, max int) Length { return Length{Min: &min, Max: &max} }

// MinLength returns a Length with only a lower bound.
func MinLength(min int) Length { return Length{Min: &min} }

// check evaluates one constraint against a present value. It returns a
// human-readable failure message, or "" when the value satisfies c.
func check(c Constraint, v any) string {
	switch c := c.(type) {
	case TypeOf:
		if !hasType(v, c.Type) {
			return fmt.Sprintf("must be of type %s", c.Type)
		}
	case Range:
		f, ok := ir.AsFloat(v)
		if !ok {
			return "must be a number"
		}
		if c.Min != nil && f < *c.Min {
			return fmt.Sprintf("must be >= %s", formatBound(*c.Min))
		}
		if c.Max != nil && f > *c.Max {
			return fmt.Sprintf("must be <= %s", formatBound(*c.Max))
		}
	case Length:
		var n int
		switch val := v.(type) {
		case string:
			n = utf8.RuneCountInString(val)
		case []any:
			n = len(val)
		default:
			return "must be a string or array"
		}
		if c.Min != nil && n < *c.Min {
			return fmt.Sprintf("length must be >= %d", *c.Min)
		}
		if c.Max != nil && n > *c.Max {
			return fmt.Sprintf("length must be <= %d", *c.Max)
		}
	case Pattern:
		s, ok := v.(string)
		if !ok {
			return "must be a string"
		}
		re := c.re
		if re == nil {
			compiled, err := regexp.Compile(c.Expr)
			if err != nil {
				return fmt.Sprintf("has invalid pattern %q", c.Expr)
			}
			re = compiled
		}
		if !re.MatchString(s) {
			return fmt.Sprintf("must match pattern %q", c.Expr)
		}
	default:
		return fmt.Sprintf("unsupported constraint %T", c)
	}
	return ""
}

func hasType(v any, t FieldType) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := ir.AsFloat(v)
		return ok
	case TypeInteger:
		f, ok := ir.AsFloat(v)
		return ok && f == math.Trunc(f)
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func formatBound(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
