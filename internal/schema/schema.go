package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/strata/internal/ir"
)

// Field declares one field of a type. Name may be a dotted path into
// nested objects ("metadata.owner").
type Field struct {
	Name        string
	Required    bool
	Constraints []Constraint
}

// TypeDef declares the fields of one entity or relation type. Fields not
// listed are allowed; records are open.
type TypeDef struct {
	Name   string
	Kind   ir.Kind
	Fields []Field
}

// Schema holds type definitions and validates records against them.
//
// Thread-safety: Schema is safe for concurrent use. Registration is
// expected at startup; validation may run from any goroutine.
type Schema struct {
	mu     sync.RWMutex
	types  map[ir.Kind]map[string]TypeDef
	strict bool
}

// Option configures a Schema.
type Option func(*Schema)

// WithStrictTypes rejects records whose type has no definition.
// Default: unknown types only get the base checks.
func WithStrictTypes() Option {
	return func(s *Schema) { s.strict = true }
}

// New creates an empty schema.
func New(opts ...Option) *Schema {
	s := &Schema{
		types: map[ir.Kind]map[string]TypeDef{
			ir.KindEntity:   {},
			ir.KindRelation: {},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a type definition. The definition is checked first (see
// CheckTypeDef); registering a (kind, name) pair twice is an error.
func (s *Schema) Register(def TypeDef) error {
	if errs := CheckTypeDef(def); len(errs) > 0 {
		return &DefinitionErrors{Type: def.Name, Errors: errs}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.types[def.Kind][def.Name]; exists {
		return &DefinitionErrors{Type: def.Name, Errors: []DefinitionError{{
			Field:   "name",
			Message: fmt.Sprintf("%s type %q already registered", def.Kind, def.Name),
			Code:    ErrDuplicateType,
		}}}
	}
	s.types[def.Kind][def.Name] = copyDef(def)
	return nil
}

// MustRegister is like Register but panics on error.
// Use only in tests or for definitions known to be valid.
func (s *Schema) MustRegister(defs ...TypeDef) *Schema {
	for _, def := range defs {
		if err := s.Register(def); err != nil {
			panic(err)
		}
	}
	return s
}

// Lookup returns the definition for (kind, name).
func (s *Schema) Lookup(kind ir.Kind, name string) (TypeDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.types[kind][name]
	return def, ok
}

// Types returns every definition of a kind, sorted by name.
func (s *Schema) Types(kind ir.Kind) []TypeDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TypeDef, 0, len(s.types[kind]))
	for _, def := range s.types[kind] {
		out = append(out, copyDef(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks a record and returns an *ir.Error with code
// VALIDATION_ERROR listing every violation, or nil.
//
// Base rules apply to every record: id and type are non-empty strings and
// metadata, when present, is an object. Relations also need string from
// and to. Type-specific fields are then checked in declaration order.
func (s *Schema) Validate(kind ir.Kind, rec ir.Record) error {
	violations := s.Violations(kind, rec)
	if len(violations) == 0 {
		return nil
	}
	return ir.NewValidationError(kind, rec.ID(), violations)
}

// Valid reports whether the record passes Validate.
func (s *Schema) Valid(kind ir.Kind, rec ir.Record) bool {
	return len(s.Violations(kind, rec)) == 0
}

// Violations returns every failed check for the record.
func (s *Schema) Violations(kind ir.Kind, rec ir.Record) []ir.Violation {
	var out []ir.Violation

	out = append(out, requireString(rec, ir.FieldID)...)
	out = append(out, requireString(rec, ir.FieldType)...)
	if md, present := rec[ir.FieldMetadata]; present {
		if _, ok := md.(map[string]any); !ok {
			out = append(out, ir.Violation{Field: ir.FieldMetadata, Constraint: "type", Message: "must be an object"})
		}
	}
	if kind == ir.KindRelation {
		out = append(out, requireString(rec, ir.FieldFrom)...)
		out = append(out, requireString(rec, ir.FieldTo)...)
	}

	typeName := rec.Type()
	if typeName == "" {
		return out
	}
	def, ok := s.Lookup(kind, typeName)
	if !ok {
		if s.isStrict() {
			out = append(out, ir.Violation{
				Field:      ir.FieldType,
				Constraint: "known_type",
				Message:    fmt.Sprintf("unknown %s type %q", kind, typeName),
			})
		}
		return out
	}

	for _, f := range def.Fields {
		v, present := rec.Get(f.Name)
		if !present {
			if f.Required {
				out = append(out, ir.Violation{Field: f.Name, Constraint: "required", Message: "is required"})
			}
			continue
		}
		for _, c := range f.Constraints {
			if msg := check(c, v); msg != "" {
				out = append(out, ir.Violation{Field: f.Name, Constraint: c.String(), Message: msg})
			}
		}
	}
	return out
}

func (s *Schema) isStrict() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strict
}

func requireString(rec ir.Record, field string) []ir.Violation {
	v, present := rec[field]
	if !present {
		return []ir.Violation{{Field: field, Constraint: "required", Message: "is required"}}
	}
	if s, ok := v.(string); !ok || s == "" {
		return []ir.Violation{{Field: field, Constraint: "type", Message: "must be a non-empty string"}}
	}
	return nil
}

func copyDef(def TypeDef) TypeDef {
	out := def
	out.Fields = make([]Field, len(def.Fields))
	for i, f := range def.Fields {
		out.Fields[i] = f
		out.Fields[i].Constraints = append([]Constraint(nil), f.Constraints...)
	}
	return out
}
