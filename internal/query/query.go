package query

import (
	"slices"

	"github.com/roach88/strata/internal/ir"
)

// Reader is the read-only graph surface a query runs against.
// *graph.Graph satisfies it.
type Reader interface {
	Entities() []ir.Record
	Relations() []ir.Record
}

// Direction selects which relation endpoints a traversal follows.
type Direction int

const (
	// Out follows relations from -> to.
	Out Direction = iota
	// Inbound follows relations to -> from.
	Inbound
	// Both follows relations either way.
	Both
)

func (d Direction) String() string {
	switch d {
	case Out:
		return "out"
	case Inbound:
		return "in"
	case Both:
		return "both"
	}
	return "unknown"
}

// PathSpec configures a path search stage.
type PathSpec struct {
	// MaxDepth is the maximum number of relations in a path. Must be >= 1.
	MaxDepth int

	// RelTypes restricts the relations a path may use. Empty allows all.
	RelTypes []string

	// Direction is the direction relations are followed in.
	Direction Direction

	// Target filters path endpoints. Nil accepts any endpoint.
	Target Predicate
}

type traversal struct {
	relType   string
	direction Direction
}

type expansion struct {
	hops     int
	relTypes []string
}

type order struct {
	field string
	desc  bool
}

// Query is an immutable query configuration. Every builder method returns
// a new Query and leaves the receiver untouched, so partially built queries
// can be shared and extended independently.
//
// Execute evaluates the stages in a fixed order regardless of the order the
// builder methods were called in:
//
//  1. initial set (From type, or all records)
//  2. filters
//  3. traversals
//  4. expansions, seeded from the set before traversals
//  5. path search
//  6. distinct by id
//  7. ordering
//  8. offset
//  9. limit
//  10. projection
type Query struct {
	reader     Reader
	relations  bool
	from       string
	filters    []Predicate
	traversals []traversal
	expansions []expansion
	paths      []PathSpec
	fields     []string
	limit      int
	offset     int
	orders     []order
	distinct   bool
	err        error
}

// New starts a query over the entities of r.
func New(r Reader) Query {
	q := Query{reader: r, limit: -1}
	if r == nil {
		q.err = ir.NewInvalidQueryError("query has no reader")
	}
	return q
}

func (q Query) clone() Query {
	q.filters = slices.Clone(q.filters)
	q.traversals = slices.Clone(q.traversals)
	q.expansions = slices.Clone(q.expansions)
	q.paths = slices.Clone(q.paths)
	q.fields = slices.Clone(q.fields)
	q.orders = slices.Clone(q.orders)
	return q
}

func (q Query) fail(format string, args ...any) Query {
	if q.err == nil {
		q.err = ir.NewInvalidQueryError(format, args...)
	}
	return q
}

func (q Query) addFilter(p Predicate) Query {
	if err := ValidatePredicate(p); err != nil {
		if q.err == nil {
			q.err = err
		}
		return q
	}
	q = q.clone()
	q.filters = append(q.filters, p)
	return q
}

// From restricts the initial set to records of the given type. An empty
// type name selects every record.
func (q Query) From(typeName string) Query {
	q = q.clone()
	q.from = typeName
	return q
}

// FromRelations switches the query to run over relations instead of
// entities. Traversal, expansion and path stages are not available in this
// mode.
func (q Query) FromRelations(typeName string) Query {
	q = q.clone()
	q.relations = true
	q.from = typeName
	return q
}

// Where adds a filter. Filters are conjunctive.
func (q Query) Where(p Predicate) Query { return q.addFilter(p) }

// And is an alias of Where.
func (q Query) And(p Predicate) Query { return q.addFilter(p) }

// Or folds the most recently added filter into a disjunction with p. With
// no prior filter it behaves like Where.
func (q Query) Or(p Predicate) Query {
	if len(q.filters) == 0 {
		return q.addFilter(p)
	}
	if err := ValidatePredicate(p); err != nil {
		if q.err == nil {
			q.err = err
		}
		return q
	}
	q = q.clone()
	last := q.filters[len(q.filters)-1]
	var combined Or
	if or, ok := last.(Or); ok {
		combined = Or{Predicates: append(slices.Clone(or.Predicates), p)}
	} else {
		combined = Or{Predicates: []Predicate{last, p}}
	}
	q.filters[len(q.filters)-1] = combined
	return q
}

// WhereID filters to the records with any of the given ids.
func (q Query) WhereID(ids ...string) Query {
	vs := make([]any, len(ids))
	for i, id := range ids {
		vs[i] = id
	}
	return q.addFilter(FieldIn(ir.FieldID, vs...))
}

// Traverse replaces the working set with the entities reached by following
// one hop of relType relations in the given direction. An empty relType
// follows every relation.
func (q Query) Traverse(relType string, d Direction) Query {
	if d < Out || d > Both {
		return q.fail("invalid traversal direction %d", d)
	}
	q = q.clone()
	q.traversals = append(q.traversals, traversal{relType: relType, direction: d})
	return q
}

// Expand adds every entity within hops relations of the pre-traversal set,
// following relations in both directions.
func (q Query) Expand(hops int, relTypes ...string) Query {
	if hops < 1 {
		return q.fail("expansion depth must be at least 1, got %d", hops)
	}
	q = q.clone()
	q.expansions = append(q.expansions, expansion{hops: hops, relTypes: slices.Clone(relTypes)})
	return q
}

// Paths enumerates simple paths from every record of the working set. The
// working set becomes the path endpoints; the paths themselves are
// reported in Result.Paths.
func (q Query) Paths(spec PathSpec) Query {
	if spec.MaxDepth < 1 {
		return q.fail("path depth must be at least 1, got %d", spec.MaxDepth)
	}
	if spec.Direction < Out || spec.Direction > Both {
		return q.fail("invalid path direction %d", spec.Direction)
	}
	if spec.Target != nil {
		if err := ValidatePredicate(spec.Target); err != nil {
			if q.err == nil {
				q.err = err
			}
			return q
		}
	}
	spec.RelTypes = slices.Clone(spec.RelTypes)
	q = q.clone()
	q.paths = append(q.paths, spec)
	return q
}

// Select projects the result onto the given fields. Dotted paths are
// allowed; the output key is the path as written.
func (q Query) Select(fields ...string) Query {
	q = q.clone()
	q.fields = slices.Clone(fields)
	return q
}

// Limit caps the number of results.
func (q Query) Limit(n int) Query {
	if n < 0 {
		return q.fail("limit must not be negative, got %d", n)
	}
	q.limit = n
	return q
}

// Offset skips the first n results.
func (q Query) Offset(n int) Query {
	if n < 0 {
		return q.fail("offset must not be negative, got %d", n)
	}
	q.offset = n
	return q
}

// OrderBy sorts ascending by field. Repeated calls add tie-breakers.
func (q Query) OrderBy(field string) Query { return q.orderBy(field, false) }

// OrderByDesc sorts descending by field.
func (q Query) OrderByDesc(field string) Query { return q.orderBy(field, true) }

func (q Query) orderBy(field string, desc bool) Query {
	if field == "" {
		return q.fail("order field must not be empty")
	}
	q = q.clone()
	q.orders = append(q.orders, order{field: field, desc: desc})
	return q
}

// Distinct removes records with a repeated id, keeping the first.
func (q Query) Distinct() Query {
	q = q.clone()
	q.distinct = true
	return q
}

// Filters returns the accumulated filters as one predicate.
func (q Query) Filters() Predicate {
	return AllOf(slices.Clone(q.filters)...)
}

// Err returns the first configuration error recorded by the builder.
func (q Query) Err() error { return q.err }

// Path is one simple path found by a path search stage. Nodes has one more
// element than Relations.
type Path struct {
	Nodes     []ir.Record
	Relations []ir.Record
}

// IDs returns the ids of the path's nodes.
func (p Path) IDs() []string {
	out := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.ID()
	}
	return out
}

// Result is the output of Execute.
type Result struct {
	Records []ir.Record
	Paths   []Path
}

// IDs returns the ids of the result records.
func (r Result) IDs() []string {
	out := make([]string, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.ID()
	}
	return out
}

// Count executes the query and returns the number of results.
func (q Query) Count() (int, error) {
	res, err := q.Execute()
	if err != nil {
		return 0, err
	}
	return len(res.Records), nil
}

// First executes the query and returns its first result.
func (q Query) First() (ir.Record, bool, error) {
	res, err := q.Limit(1).Execute()
	if err != nil {
		return nil, false, err
	}
	if len(res.Records) == 0 {
		return nil, false, nil
	}
	return res.Records[0], true, nil
}
