package schema

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/strata/internal/ir"
)

// CompileCUE parses type definitions from a CUE value. Uses the CUE SDK's Go
// API directly.
//
// Entities live under "entity", relations under "relation":
//
//	entity: repo: fields: {
//		name:  {type: "string", required: true, minLength: 1}
//		stars: {type: "integer", min: 0}
//	}
//	relation: OWNS: fields: since: {type: "integer"}
//
// Field attributes: type, required, min, max, minLength, maxLength, pattern.
// All compile errors are collected and returned joined.
func CompileCUE(v cue.Value) ([]TypeDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var defs []TypeDef
	var errs []error
	for _, kind := range []ir.Kind{ir.KindEntity, ir.KindRelation} {
		kindVal := v.LookupPath(cue.ParsePath(string(kind)))
		if !kindVal.Exists() {
			continue
		}
		iter, err := kindVal.Fields()
		if err != nil {
			errs = append(errs, formatCUEError(err))
			continue
		}
		for iter.Next() {
			def, err := compileTypeDef(kind, iter.Label(), iter.Value())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			defs = append(defs, def)
		}
	}
	if len(errs) > 0 {
		return defs, errors.Join(errs...)
	}
	return defs, nil
}

func compileTypeDef(kind ir.Kind, name string, v cue.Value) (TypeDef, error) {
	def := TypeDef{Name: name, Kind: kind}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return def, nil
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return def, formatCUEError(err)
	}
	for iter.Next() {
		f, err := compileField(iter.Label(), iter.Value())
		if err != nil {
			return def, err
		}
		def.Fields = append(def.Fields, f)
	}
	return def, nil
}

func compileField(name string, v cue.Value) (Field, error) {
	f := Field{Name: name}

	if typeVal := v.LookupPath(cue.ParsePath("type")); typeVal.Exists() {
		t, err := typeVal.String()
		if err != nil {
			return f, fieldError(name+".type", "must be a string", typeVal.Pos())
		}
		f.Constraints = append(f.Constraints, TypeOf{Type: FieldType(t)})
	}
	if reqVal := v.LookupPath(cue.ParsePath("required")); reqVal.Exists() {
		req, err := reqVal.Bool()
		if err != nil {
			return f, fieldError(name+".required", "must be a boolean", reqVal.Pos())
		}
		f.Required = req
	}

	var rng Range
	for _, b := range []struct {
		key string
		dst **float64
	}{{"min", &rng.Min}, {"max", &rng.Max}} {
		bv := v.LookupPath(cue.ParsePath(b.key))
		if !bv.Exists() {
			continue
		}
		n, err := bv.Float64()
		if err != nil {
			return f, fieldError(name+"."+b.key, "must be a number", bv.Pos())
		}
		*b.dst = &n
	}
	if rng.Min != nil || rng.Max != nil {
		f.Constraints = append(f.Constraints, rng)
	}

	var length Length
	for _, b := range []struct {
		key string
		dst **int
	}{{"minLength", &length.Min}, {"maxLength", &length.Max}} {
		bv := v.LookupPath(cue.ParsePath(b.key))
		if !bv.Exists() {
			continue
		}
		n, err := bv.Int64()
		if err != nil {
			return f, fieldError(name+"."+b.key, "must be an integer", bv.Pos())
		}
		i := int(n)
		*b.dst = &i
	}
	if length.Min != nil || length.Max != nil {
		f.Constraints = append(f.Constraints, length)
	}

	if patVal := v.LookupPath(cue.ParsePath("pattern")); patVal.Exists() {
		expr, err := patVal.String()
		if err != nil {
			return f, fieldError(name+".pattern", "must be a string", patVal.Pos())
		}
		p, err := NewPattern(expr)
		if err != nil {
			return f, fieldError(name+".pattern", err.Error(), patVal.Pos())
		}
		f.Constraints = append(f.Constraints, p)
	}
	return f, nil
}

// LoadCUEFile compiles a single CUE file into a schema.
func LoadCUEFile(path string, opts ...Option) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	return build(v, opts)
}

// LoadCUEDir loads every CUE file of the package in dir into a schema.
func LoadCUEDir(dir string, opts ...Option) (*Schema, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))
	}
	return build(cuecontext.New().BuildInstance(inst), opts)
}

// Load compiles a schema from a CUE file or from the CUE package in a
// directory.
func Load(path string, opts ...Option) (*Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if info.IsDir() {
		return LoadCUEDir(path, opts...)
	}
	return LoadCUEFile(path, opts...)
}

// CompileCUEString compiles CUE source text into a schema.
func CompileCUEString(src string, opts ...Option) (*Schema, error) {
	return build(cuecontext.New().CompileString(src), opts)
}

func build(v cue.Value, opts []Option) (*Schema, error) {
	defs, err := CompileCUE(v)
	if err != nil {
		return nil, err
	}
	s := New(opts...)
	var errs []error
	for _, def := range defs {
		if err := s.Register(def); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// CompileError is a CUE schema error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldError(field, msg string, pos token.Pos) *CompileError {
	return &CompileError{Field: "fields." + field, Message: msg, Pos: pos}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
