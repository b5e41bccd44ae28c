package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/strata/internal/ir"
)

// Predicate is a filter condition over a record.
//
// This is a sealed interface: only types in this package implement it, so
// backends such as querysql can switch over every variant exhaustively.
//
// Field names are dotted paths. When a path does not resolve, because a
// segment is missing or an intermediate value is not an object, field
// predicates do not match (including != and not in). Not inverts that.
type Predicate interface {
	predicateNode()

	// Eval reports whether the record satisfies the predicate.
	Eval(r ir.Record) bool

	// String renders the predicate as a readable expression.
	String() string
}

// Op is a comparison operator.
type Op string

const (
	OpEQ  Op = "=="
	OpNEQ Op = "!="
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
)

// Compare is <field> <op> <value>.
//
// Equality uses deep, numeric-aware comparison. Ordering operators only
// hold between two numbers or two strings; anything else is false.
type Compare struct {
	Field string
	Op    Op
	Value any
}

// In is <field> in [values], or not in when Negate is set.
type In struct {
	Field  string
	Values []any
	Negate bool
}

// Exists holds when the field is present and not null.
type Exists struct {
	Field string
}

// Contains holds when a string field contains Value as a substring, or an
// array field has an element equal to Value.
type Contains struct {
	Field string
	Value any
}

// Match holds when a string field matches a regular expression.
type Match struct {
	Field   string
	Pattern string
	re      *regexp.Regexp
}

// And holds when every predicate holds. An empty And is true.
type And struct {
	Predicates []Predicate
}

// Or holds when at least one predicate holds. An empty Or is false.
type Or struct {
	Predicates []Predicate
}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

// Func wraps an arbitrary Go function. It cannot be compiled to SQL.
type Func struct {
	Name string
	Fn   func(ir.Record) bool
}

func (Compare) predicateNode()  {}
func (In) predicateNode()       {}
func (Exists) predicateNode()   {}
func (Contains) predicateNode() {}
func (Match) predicateNode()    {}
func (And) predicateNode()      {}
func (Or) predicateNode()       {}
func (Not) predicateNode()      {}
func (Func) predicateNode()     {}

// FieldEQ returns field == v.
func FieldEQ(field string, v any) Predicate { return Compare{Field: field, Op: OpEQ, Value: norm(v)} }

// FieldNEQ returns field != v.
func FieldNEQ(field string, v any) Predicate { return Compare{Field: field, Op: OpNEQ, Value: norm(v)} }

// FieldGT returns field > v.
func FieldGT(field string, v any) Predicate { return Compare{Field: field, Op: OpGT, Value: norm(v)} }

// FieldGTE returns field >= v.
func FieldGTE(field string, v any) Predicate { return Compare{Field: field, Op: OpGTE, Value: norm(v)} }

// FieldLT returns field < v.
func FieldLT(field string, v any) Predicate { return Compare{Field: field, Op: OpLT, Value: norm(v)} }

// FieldLTE returns field <= v.
func FieldLTE(field string, v any) Predicate { return Compare{Field: field, Op: OpLTE, Value: norm(v)} }

// FieldIn returns field in [vs].
func FieldIn(field string, vs ...any) Predicate { return In{Field: field, Values: normAll(vs)} }

// FieldNotIn returns field not in [vs].
func FieldNotIn(field string, vs ...any) Predicate {
	return In{Field: field, Values: normAll(vs), Negate: true}
}

// FieldExists returns a predicate that holds when field is set.
func FieldExists(field string) Predicate { return Exists{Field: field} }

// FieldContains returns a substring or array-membership predicate.
func FieldContains(field string, v any) Predicate { return Contains{Field: field, Value: norm(v)} }

// FieldMatch returns a regular-expression predicate. An invalid pattern
// matches nothing; use ValidatePredicate to surface the error.
func FieldMatch(field, pattern string) Predicate {
	re, _ := regexp.Compile(pattern)
	return Match{Field: field, Pattern: pattern, re: re}
}

// AllOf returns the conjunction of preds.
func AllOf(preds ...Predicate) Predicate { return And{Predicates: preds} }

// AnyOf returns the disjunction of preds.
func AnyOf(preds ...Predicate) Predicate { return Or{Predicates: preds} }

// Negate returns !p.
func Negate(p Predicate) Predicate { return Not{Predicate: p} }

// Satisfies wraps fn as a predicate. name appears in String output.
func Satisfies(name string, fn func(ir.Record) bool) Predicate { return Func{Name: name, Fn: fn} }

func norm(v any) any {
	n, err := ir.Normalize(v)
	if err != nil {
		return v
	}
	return n
}

func normAll(vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = norm(v)
	}
	return out
}

func lookup(r ir.Record, field string) any {
	v, _ := ir.Lookup(r, field)
	return v
}

func (p Compare) Eval(r ir.Record) bool {
	v, ok := ir.Lookup(r, p.Field)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEQ:
		return ir.Equal(v, p.Value)
	case OpNEQ:
		return !ir.Equal(v, p.Value)
	}
	if !orderable(v, p.Value) {
		return false
	}
	c := ir.Compare(v, p.Value)
	switch p.Op {
	case OpGT:
		return c > 0
	case OpGTE:
		return c >= 0
	case OpLT:
		return c < 0
	case OpLTE:
		return c <= 0
	}
	return false
}

func orderable(a, b any) bool {
	if _, ok := ir.AsFloat(a); ok {
		_, ok := ir.AsFloat(b)
		return ok
	}
	_, aok := a.(string)
	_, bok := b.(string)
	return aok && bok
}

func (p In) Eval(r ir.Record) bool {
	v, ok := ir.Lookup(r, p.Field)
	if !ok {
		return false
	}
	found := false
	for _, candidate := range p.Values {
		if ir.Equal(v, candidate) {
			found = true
			break
		}
	}
	return found != p.Negate
}

func (p Exists) Eval(r ir.Record) bool {
	v, ok := ir.Lookup(r, p.Field)
	return ok && v != nil
}

func (p Contains) Eval(r ir.Record) bool {
	switch v := lookup(r, p.Field).(type) {
	case string:
		s, ok := p.Value.(string)
		return ok && strings.Contains(v, s)
	case []any:
		for _, elem := range v {
			if ir.Equal(elem, p.Value) {
				return true
			}
		}
	}
	return false
}

func (p Match) Eval(r ir.Record) bool {
	s, ok := lookup(r, p.Field).(string)
	if !ok {
		return false
	}
	re := p.re
	if re == nil {
		var err error
		if re, err = regexp.Compile(p.Pattern); err != nil {
			return false
		}
	}
	return re.MatchString(s)
}

func (p And) Eval(r ir.Record) bool {
	for _, sub := range p.Predicates {
		if !sub.Eval(r) {
			return false
		}
	}
	return true
}

func (p Or) Eval(r ir.Record) bool {
	for _, sub := range p.Predicates {
		if sub.Eval(r) {
			return true
		}
	}
	return false
}

func (p Not) Eval(r ir.Record) bool { return !p.Predicate.Eval(r) }

func (p Func) Eval(r ir.Record) bool { return p.Fn != nil && p.Fn(r.Clone()) }

func (p Compare) String() string {
	return fmt.Sprintf("%s %s %s", p.Field, p.Op, literal(p.Value))
}

func (p In) String() string {
	op := "in"
	if p.Negate {
		op = "not in"
	}
	parts := make([]string, len(p.Values))
	for i, v := range p.Values {
		parts[i] = literal(v)
	}
	return fmt.Sprintf("%s %s [%s]", p.Field, op, strings.Join(parts, ", "))
}

func (p Exists) String() string   { return fmt.Sprintf("exists(%s)", p.Field) }
func (p Contains) String() string { return fmt.Sprintf("contains(%s, %s)", p.Field, literal(p.Value)) }
func (p Match) String() string    { return fmt.Sprintf("matches(%s, %q)", p.Field, p.Pattern) }
func (p And) String() string      { return join(p.Predicates, " && ", "true") }
func (p Or) String() string       { return join(p.Predicates, " || ", "false") }
func (p Not) String() string      { return fmt.Sprintf("!(%s)", p.Predicate) }

func (p Func) String() string {
	if p.Name == "" {
		return "func()"
	}
	return p.Name + "()"
}

func join(preds []Predicate, sep, empty string) string {
	if len(preds) == 0 {
		return empty
	}
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func literal(v any) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// ValidatePredicate reports structural problems: empty field names,
// unknown operators, uncompilable patterns and nil sub-predicates.
func ValidatePredicate(p Predicate) error {
	switch p := p.(type) {
	case nil:
		return ir.NewInvalidQueryError("nil predicate")
	case Compare:
		if p.Field == "" {
			return ir.NewInvalidQueryError("comparison without field")
		}
		switch p.Op {
		case OpEQ, OpNEQ, OpGT, OpGTE, OpLT, OpLTE:
		default:
			return ir.NewInvalidQueryError("unknown operator %q", p.Op)
		}
	case In:
		if p.Field == "" {
			return ir.NewInvalidQueryError("in without field")
		}
	case Exists:
		if p.Field == "" {
			return ir.NewInvalidQueryError("exists without field")
		}
	case Contains:
		if p.Field == "" {
			return ir.NewInvalidQueryError("contains without field")
		}
	case Match:
		if p.Field == "" {
			return ir.NewInvalidQueryError("matches without field")
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return ir.NewInvalidQueryError("invalid pattern %q: %v", p.Pattern, err)
		}
	case And:
		for _, sub := range p.Predicates {
			if err := ValidatePredicate(sub); err != nil {
				return err
			}
		}
	case Or:
		for _, sub := range p.Predicates {
			if err := ValidatePredicate(sub); err != nil {
				return err
			}
		}
	case Not:
		return ValidatePredicate(p.Predicate)
	case Func:
		if p.Fn == nil {
			return ir.NewInvalidQueryError("func predicate %q without function", p.Name)
		}
	}
	return nil
}
