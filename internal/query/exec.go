package query

import (
	"slices"

	"github.com/roach88/strata/internal/ir"
)

// Execute evaluates the query against the reader's current state.
//
// Returned records are independent copies.
func (q Query) Execute() (Result, error) {
	if q.err != nil {
		return Result{}, q.err
	}
	if q.relations && (len(q.traversals) > 0 || len(q.expansions) > 0 || len(q.paths) > 0) {
		return Result{}, ir.NewInvalidQueryError("traversal stages are not available for relation queries")
	}

	var source []ir.Record
	if q.relations {
		source = q.reader.Relations()
	} else {
		source = q.reader.Entities()
	}

	// 1. initial set
	working := make([]ir.Record, 0, len(source))
	for _, r := range source {
		if q.from == "" || r.Type() == q.from {
			working = append(working, r)
		}
	}

	// 2. filters
	if len(q.filters) > 0 {
		filtered := working[:0:0]
		for _, r := range working {
			if q.matches(r) {
				filtered = append(filtered, r)
			}
		}
		working = filtered
	}

	var res Result
	if !q.relations && (len(q.traversals) > 0 || len(q.expansions) > 0 || len(q.paths) > 0) {
		g := newAdjacency(source, q.reader.Relations())
		seed := working

		// 3. traversals
		for _, t := range q.traversals {
			working = g.traverse(working, t)
		}

		// 4. expansions
		for _, e := range q.expansions {
			working = g.expand(seed, working, e)
		}

		// 5. path search
		for _, spec := range q.paths {
			var found []Path
			found, working = g.paths(working, spec)
			res.Paths = append(res.Paths, found...)
		}
	}

	// 6. distinct
	if q.distinct {
		working = distinctByID(working)
	}

	// 7. order
	if len(q.orders) > 0 {
		working = slices.Clone(working)
		slices.SortStableFunc(working, q.compare)
	}

	// 8. offset
	if q.offset > 0 {
		if q.offset >= len(working) {
			working = nil
		} else {
			working = working[q.offset:]
		}
	}

	// 9. limit
	if q.limit >= 0 && q.limit < len(working) {
		working = working[:q.limit]
	}

	// 10. projection
	res.Records = make([]ir.Record, len(working))
	for i, r := range working {
		res.Records[i] = project(r, q.fields)
	}
	return res, nil
}

func (q Query) matches(r ir.Record) bool {
	for _, p := range q.filters {
		if !p.Eval(r) {
			return false
		}
	}
	return true
}

func (q Query) compare(a, b ir.Record) int {
	for _, o := range q.orders {
		av, _ := ir.Lookup(a, o.field)
		bv, _ := ir.Lookup(b, o.field)
		c := ir.Compare(av, bv)
		if o.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func distinctByID(records []ir.Record) []ir.Record {
	seen := make(map[string]bool, len(records))
	out := make([]ir.Record, 0, len(records))
	for _, r := range records {
		id := r.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out
}

func project(r ir.Record, fields []string) ir.Record {
	if len(fields) == 0 {
		return r.Clone()
	}
	out := make(ir.Record, len(fields))
	for _, f := range fields {
		if v, ok := ir.Lookup(r, f); ok {
			out[f] = ir.Clone(v)
		}
	}
	return out
}

// edge is one relation seen from one of its endpoints.
type edge struct {
	relation ir.Record
	neighbor string
	outgoing bool
}

type adjacency struct {
	nodes map[string]ir.Record
	edges map[string][]edge
}

// newAdjacency indexes relations by endpoint. Relations whose endpoints are
// not both present (orphans) are ignored.
func newAdjacency(entities, relations []ir.Record) *adjacency {
	g := &adjacency{
		nodes: make(map[string]ir.Record, len(entities)),
		edges: make(map[string][]edge),
	}
	for _, e := range entities {
		g.nodes[e.ID()] = e
	}
	for _, rel := range relations {
		from, to := rel.From(), rel.To()
		if _, ok := g.nodes[from]; !ok {
			continue
		}
		if _, ok := g.nodes[to]; !ok {
			continue
		}
		g.edges[from] = append(g.edges[from], edge{relation: rel, neighbor: to, outgoing: true})
		if from != to {
			g.edges[to] = append(g.edges[to], edge{relation: rel, neighbor: from, outgoing: false})
		}
	}
	return g
}

func (g *adjacency) follow(id string, d Direction, relTypes []string) []edge {
	var out []edge
	for _, e := range g.edges[id] {
		if len(relTypes) > 0 && !slices.Contains(relTypes, e.relation.Type()) {
			continue
		}
		switch d {
		case Out:
			if !e.outgoing {
				continue
			}
		case Inbound:
			if e.outgoing && e.neighbor != id {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func (g *adjacency) traverse(working []ir.Record, t traversal) []ir.Record {
	var relTypes []string
	if t.relType != "" {
		relTypes = []string{t.relType}
	}
	seen := make(map[string]bool)
	var out []ir.Record
	for _, r := range working {
		for _, e := range g.follow(r.ID(), t.direction, relTypes) {
			if seen[e.neighbor] {
				continue
			}
			seen[e.neighbor] = true
			out = append(out, g.nodes[e.neighbor])
		}
	}
	return out
}

// expand walks breadth-first from seed and appends every reached entity
// that is neither a seed nor already in working.
func (g *adjacency) expand(seed, working []ir.Record, e expansion) []ir.Record {
	visited := make(map[string]bool, len(seed))
	frontier := make([]string, 0, len(seed))
	for _, r := range seed {
		if !visited[r.ID()] {
			visited[r.ID()] = true
			frontier = append(frontier, r.ID())
		}
	}
	present := make(map[string]bool, len(working))
	for _, r := range working {
		present[r.ID()] = true
	}
	out := slices.Clone(working)
	for hop := 0; hop < e.hops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, ed := range g.follow(id, Both, e.relTypes) {
				if visited[ed.neighbor] {
					continue
				}
				visited[ed.neighbor] = true
				next = append(next, ed.neighbor)
				if !present[ed.neighbor] {
					present[ed.neighbor] = true
					out = append(out, g.nodes[ed.neighbor])
				}
			}
		}
		frontier = next
	}
	return out
}

type partial struct {
	nodes []string
	rels  []ir.Record
}

func (p partial) visits(id string) bool { return slices.Contains(p.nodes, id) }

// paths enumerates simple paths breadth-first from every start record.
// Single-node paths are never reported.
func (g *adjacency) paths(starts []ir.Record, spec PathSpec) ([]Path, []ir.Record) {
	var found []Path
	var endpoints []ir.Record
	for _, start := range starts {
		if _, ok := g.nodes[start.ID()]; !ok {
			continue
		}
		queue := []partial{{nodes: []string{start.ID()}}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if len(cur.rels) >= spec.MaxDepth {
				continue
			}
			last := cur.nodes[len(cur.nodes)-1]
			for _, e := range g.follow(last, spec.Direction, spec.RelTypes) {
				if cur.visits(e.neighbor) {
					continue
				}
				next := partial{
					nodes: append(slices.Clone(cur.nodes), e.neighbor),
					rels:  append(slices.Clone(cur.rels), e.relation),
				}
				end := g.nodes[e.neighbor]
				if spec.Target == nil || spec.Target.Eval(end) {
					found = append(found, g.materialize(next))
					endpoints = append(endpoints, end)
				}
				queue = append(queue, next)
			}
		}
	}
	return found, endpoints
}

func (g *adjacency) materialize(p partial) Path {
	out := Path{
		Nodes:     make([]ir.Record, len(p.nodes)),
		Relations: make([]ir.Record, len(p.rels)),
	}
	for i, id := range p.nodes {
		out.Nodes[i] = g.nodes[id].Clone()
	}
	for i, r := range p.rels {
		out.Relations[i] = r.Clone()
	}
	return out
}
