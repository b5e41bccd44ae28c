package querysql

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
)

// ErrUnsupported is returned for predicates SQLite cannot evaluate, such as
// regular expressions and Go functions.
var ErrUnsupported = errors.New("predicate cannot be compiled to SQL")

// Select describes a lookup of JSON records stored in a table.
//
// Semantics:
//
//	SELECT <columns> FROM <table> WHERE <scope> AND <filter> ORDER BY <order>
//
// Scope holds plain column equalities (version_id, kind). Filter is a query
// predicate evaluated against the JSON body column.
type Select struct {
	Table   string
	Columns []string
	Scope   map[string]any
	Filter  query.Predicate
	OrderBy string
}

// SQLCompiler compiles query predicates to parameterized SQLite SQL over
// json_extract/json_type.
//
// Every query includes ORDER BY so results are deterministic. Values and
// JSON paths are always bound as parameters, never interpolated.
//
// The generated SQL mirrors the in-memory semantics of query.Predicate:
// comparisons only match when the path resolves and the JSON types agree,
// and every leaf is coalesced to 0 so NOT never sees a SQL NULL.
type SQLCompiler struct {
	// BodyColumn is the column holding the record JSON. Defaults to "body".
	BodyColumn string
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{BodyColumn: "body"}
}

// Compile converts a Select to (sql, params).
func (c *SQLCompiler) Compile(s Select) (string, []any, error) {
	if s.Table == "" {
		return "", nil, fmt.Errorf("cannot compile select without table")
	}

	columns := "*"
	if len(s.Columns) > 0 {
		columns = strings.Join(s.Columns, ", ")
	}

	var conds []string
	var params []any

	// Sort scope columns for deterministic output.
	keys := make([]string, 0, len(s.Scope))
	for k := range s.Scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conds = append(conds, k+" = ?")
		params = append(params, s.Scope[k])
	}

	if s.Filter != nil {
		filterSQL, filterParams, err := c.CompilePredicate(s.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		conds = append(conds, "("+filterSQL+")")
		params = append(params, filterParams...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columns, s.Table)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(c.stableOrderKey(s))
	return b.String(), params, nil
}

// stableOrderKey returns the ORDER BY clause. COLLATE BINARY keeps text
// ordering identical across SQLite versions.
func (c *SQLCompiler) stableOrderKey(s Select) string {
	if s.OrderBy != "" {
		return s.OrderBy + " ASC"
	}
	return "id ASC COLLATE BINARY"
}

func (c *SQLCompiler) body() string {
	if c.BodyColumn == "" {
		return "body"
	}
	return c.BodyColumn
}

// CompilePredicate compiles a predicate to a WHERE fragment.
func (c *SQLCompiler) CompilePredicate(p query.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}
	if err := query.ValidatePredicate(p); err != nil {
		return "", nil, err
	}

	switch pred := p.(type) {
	case query.Compare:
		return c.compileCompare(pred)
	case query.In:
		return c.compileIn(pred)
	case query.Exists:
		return c.compileExists(pred)
	case query.Contains:
		return c.compileContains(pred)
	case query.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case query.Or:
		return c.compileJunction(pred.Predicates, " OR ", "0 = 1")
	case query.Not:
		sql, params, err := c.CompilePredicate(pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil
	case query.Match:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupported, pred)
	case query.Func:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupported, pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(preds []query.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(preds))
	var params []any
	for _, p := range preds {
		sql, ps, err := c.CompilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}
	return strings.Join(parts, sep), params, nil
}

func (c *SQLCompiler) compileCompare(cmp query.Compare) (string, []any, error) {
	path, err := jsonPath(cmp.Field)
	if err != nil {
		return "", nil, err
	}
	switch cmp.Op {
	case query.OpEQ:
		return c.equals(path, cmp.Value)
	case query.OpNEQ:
		eq, params, err := c.equals(path, cmp.Value)
		if err != nil {
			return "", nil, err
		}
		sql := fmt.Sprintf("%s AND NOT (%s)", c.resolves(), eq)
		return sql, append([]any{path}, params...), nil
	}

	var kind string
	switch cmp.Value.(type) {
	case int64, float64:
		kind = "json_type(%[1]s, ?) IN ('integer', 'real')"
	case string:
		kind = "json_type(%[1]s, ?) = 'text'"
	default:
		// Ordering only holds between numbers or strings.
		return "0 = 1", nil, nil
	}
	sql := fmt.Sprintf("COALESCE("+kind+" AND json_extract(%[1]s, ?) %[2]s ?, 0)", c.body(), cmp.Op)
	return sql, []any{path, path, cmp.Value}, nil
}

// resolves is true when the path is present, including explicit null.
func (c *SQLCompiler) resolves() string {
	return fmt.Sprintf("json_type(%s, ?) IS NOT NULL", c.body())
}

// equals matches a resolved path holding a JSON value equal to v.
func (c *SQLCompiler) equals(path string, v any) (string, []any, error) {
	typ := "json_type(" + c.body() + ", ?)"
	val := "json_extract(" + c.body() + ", ?)"
	switch x := v.(type) {
	case nil:
		return fmt.Sprintf("COALESCE(%s = 'null', 0)", typ), []any{path}, nil
	case bool:
		lit := "'false'"
		if x {
			lit = "'true'"
		}
		return fmt.Sprintf("COALESCE(%s = %s, 0)", typ, lit), []any{path}, nil
	case string:
		return fmt.Sprintf("COALESCE(%s = 'text' AND %s = ?, 0)", typ, val), []any{path, path, x}, nil
	case int64, float64:
		return fmt.Sprintf("COALESCE(%s IN ('integer', 'real') AND %s = ?, 0)", typ, val), []any{path, path, x}, nil
	}
	return "", nil, fmt.Errorf("%w: comparison against %T", ErrUnsupported, v)
}

func (c *SQLCompiler) compileIn(in query.In) (string, []any, error) {
	path, err := jsonPath(in.Field)
	if err != nil {
		return "", nil, err
	}
	parts := make([]string, 0, len(in.Values))
	var params []any
	for _, v := range in.Values {
		sql, ps, err := c.equals(path, v)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	member := "0 = 1"
	if len(parts) > 0 {
		member = strings.Join(parts, " OR ")
	}
	if !in.Negate {
		return member, params, nil
	}
	return fmt.Sprintf("%s AND NOT (%s)", c.resolves(), member), append([]any{path}, params...), nil
}

func (c *SQLCompiler) compileExists(ex query.Exists) (string, []any, error) {
	path, err := jsonPath(ex.Field)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("COALESCE(json_type(%s, ?) != 'null', 0)", c.body()), []any{path}, nil
}

func (c *SQLCompiler) compileContains(ct query.Contains) (string, []any, error) {
	path, err := jsonPath(ct.Field)
	if err != nil {
		return "", nil, err
	}
	elem, elemParams, err := elementEquals(ct.Value)
	if err != nil {
		return "", nil, err
	}
	array := fmt.Sprintf(
		"COALESCE(json_type(%[1]s, ?) = 'array' AND EXISTS (SELECT 1 FROM json_each(%[1]s, ?) AS je WHERE %[2]s), 0)",
		c.body(), elem)
	params := append([]any{path, path}, elemParams...)

	s, ok := ct.Value.(string)
	if !ok {
		return array, params, nil
	}
	text := fmt.Sprintf("COALESCE(json_type(%[1]s, ?) = 'text' AND instr(json_extract(%[1]s, ?), ?) > 0, 0)", c.body())
	return text + " OR " + array, append([]any{path, path, s}, params...), nil
}

// elementEquals compares a json_each row against v.
func elementEquals(v any) (string, []any, error) {
	switch val := v.(type) {
	case nil:
		return "je.type = 'null'", nil, nil
	case bool:
		if val {
			return "je.type = 'true'", nil, nil
		}
		return "je.type = 'false'", nil, nil
	case string:
		return "je.type = 'text' AND je.value = ?", []any{val}, nil
	case int64, float64:
		return "je.type IN ('integer', 'real') AND je.value = ?", []any{val}, nil
	}
	return "", nil, fmt.Errorf("%w: contains %T", ErrUnsupported, v)
}

// jsonPath converts a dotted field path to a SQLite JSON path with every
// label quoted.
func jsonPath(field string) (string, error) {
	if field == "" {
		return "", ir.NewInvalidQueryError("empty field path")
	}
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(field, ".") {
		if seg == "" || strings.ContainsRune(seg, '"') {
			return "", ir.NewInvalidQueryError("field path %q cannot be expressed in SQL", field)
		}
		b.WriteString(`."`)
		b.WriteString(seg)
		b.WriteString(`"`)
	}
	return b.String(), nil
}
