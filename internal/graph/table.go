package graph

import (
	"slices"

	"github.com/roach88/strata/internal/ir"
)

// table stores records by id and remembers insertion order.
type table struct {
	order   []string
	records map[string]ir.Record
}

func newTable() *table {
	return &table{records: make(map[string]ir.Record)}
}

func (t *table) get(id string) (ir.Record, bool) {
	r, ok := t.records[id]
	return r, ok
}

func (t *table) has(id string) bool {
	_, ok := t.records[id]
	return ok
}

// put inserts or replaces. Replacing keeps the original position.
func (t *table) put(r ir.Record) {
	id := r.ID()
	if _, exists := t.records[id]; !exists {
		t.order = append(t.order, id)
	}
	t.records[id] = r
}

func (t *table) remove(id string) {
	if _, ok := t.records[id]; !ok {
		return
	}
	delete(t.records, id)
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
}

func (t *table) len() int { return len(t.order) }

// list returns deep copies in insertion order.
func (t *table) list() []ir.Record {
	out := make([]ir.Record, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.records[id].Clone())
	}
	return out
}

func (t *table) filter(keep func(ir.Record) bool) []ir.Record {
	var out []ir.Record
	for _, id := range t.order {
		if r := t.records[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (t *table) clear() {
	t.order = nil
	t.records = make(map[string]ir.Record)
}
