package graph

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// Event types emitted by the graph.
const (
	EventEntityAdded     = "graph.entity.added"
	EventEntityUpdated   = "graph.entity.updated"
	EventEntityRemoved   = "graph.entity.removed"
	EventRelationAdded   = "graph.relation.added"
	EventRelationUpdated = "graph.relation.updated"
	EventRelationRemoved = "graph.relation.removed"
	EventLoaded          = "graph.loaded"
	EventReset           = "graph.reset"
)

// Source is the meta.source written on graph events.
const Source = "graph"

// Graph holds entities and relations.
//
// Thread-safety: methods may be called from any goroutine. State changes
// are committed under the lock; events are emitted after it is released,
// so listeners can read from or write to the graph.
type Graph struct {
	mu        sync.RWMutex
	entities  *table
	relations *table

	schema  *schema.Schema
	bus     *eventbus.Bus
	cascade CascadePolicy
	logger  *slog.Logger
}

// New creates an empty graph. A nil schema accepts any record that passes
// the base checks; a nil bus gets a private one.
func New(s *schema.Schema, bus *eventbus.Bus, opts ...Option) *Graph {
	if s == nil {
		s = schema.New()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	g := &Graph{
		entities:  newTable(),
		relations: newTable(),
		schema:    s,
		bus:       bus,
		cascade:   CascadeOrphan,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Bus returns the bus the graph emits on.
func (g *Graph) Bus() *eventbus.Bus { return g.bus }

// Schema returns the schema records are validated against.
func (g *Graph) Schema() *schema.Schema { return g.schema }

// Cascade returns the configured cascade policy.
func (g *Graph) Cascade() CascadePolicy { return g.cascade }

// AddEntity validates and inserts a new entity.
//
// Fails with DUPLICATE_ID when the id exists and VALIDATION_ERROR when the
// schema rejects the record. The returned record is a copy.
func (g *Graph) AddEntity(data map[string]any) (ir.Record, error) {
	rec, err := normalizeRecord(ir.KindEntity, data)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if id := rec.ID(); id != "" && g.entities.has(id) {
		g.mu.Unlock()
		return nil, ir.NewDuplicateIDError(ir.KindEntity, id)
	}
	if err := g.schema.Validate(ir.KindEntity, rec); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	g.entities.put(rec)
	g.mu.Unlock()

	g.emit(EventEntityAdded, map[string]any{"entity": map[string]any(rec)})
	return rec.Clone(), nil
}

// UpdateEntity shallow-merges patch into an existing entity.
//
// A nil patch value removes that field. id and type are immutable. The
// merged record is validated before it is committed.
func (g *Graph) UpdateEntity(id string, patch map[string]any) (ir.Record, error) {
	return g.update(ir.KindEntity, id, patch)
}

// RemoveEntity deletes an entity and applies the cascade policy to the
// relations that reference it.
func (g *Graph) RemoveEntity(id string) (ir.Record, error) {
	g.mu.Lock()
	existing, ok := g.entities.get(id)
	if !ok {
		g.mu.Unlock()
		return nil, ir.NewNotFoundError(ir.KindEntity, id)
	}

	referencing := g.relations.filter(func(r ir.Record) bool {
		return r.From() == id || r.To() == id
	})
	var cascaded []ir.Record
	switch g.cascade {
	case CascadeReject:
		if len(referencing) > 0 {
			g.mu.Unlock()
			return nil, ir.NewHasRelationsError(id, len(referencing))
		}
	case CascadeDelete:
		for _, r := range referencing {
			g.relations.remove(r.ID())
			cascaded = append(cascaded, r)
		}
	}
	g.entities.remove(id)
	g.mu.Unlock()

	data := map[string]any{"id": id, "entity": map[string]any(existing)}
	if len(cascaded) > 0 {
		data["cascade"] = ir.RecordList(cascaded)
	}
	g.emit(EventEntityRemoved, data)
	return existing.Clone(), nil
}

// AddRelation validates and inserts a new relation. Both endpoints must
// exist at creation time (NOT_FOUND otherwise).
func (g *Graph) AddRelation(data map[string]any) (ir.Record, error) {
	return g.addRelation(data, true)
}

// ReinstateRelation inserts a relation that existed before without
// requiring its endpoints to exist. Undo uses it to bring back a relation
// that was orphaned when it was removed. The added event carries
// "reinstated": true so replay takes the same path.
func (g *Graph) ReinstateRelation(data map[string]any) (ir.Record, error) {
	return g.addRelation(data, false)
}

func (g *Graph) addRelation(data map[string]any, requireEndpoints bool) (ir.Record, error) {
	rec, err := normalizeRecord(ir.KindRelation, data)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if id := rec.ID(); id != "" && g.relations.has(id) {
		g.mu.Unlock()
		return nil, ir.NewDuplicateIDError(ir.KindRelation, id)
	}
	if err := g.schema.Validate(ir.KindRelation, rec); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	if requireEndpoints {
		if err := g.checkEndpoints(rec); err != nil {
			g.mu.Unlock()
			return nil, err
		}
	}
	g.relations.put(rec)
	g.mu.Unlock()

	payload := map[string]any{"relation": map[string]any(rec)}
	if !requireEndpoints {
		payload["reinstated"] = true
	}
	g.emit(EventRelationAdded, payload)
	return rec.Clone(), nil
}

// UpdateRelation shallow-merges patch into an existing relation. Changing
// from or to requires the new endpoint to exist.
func (g *Graph) UpdateRelation(id string, patch map[string]any) (ir.Record, error) {
	return g.update(ir.KindRelation, id, patch)
}

// RemoveRelation deletes a relation.
func (g *Graph) RemoveRelation(id string) (ir.Record, error) {
	g.mu.Lock()
	existing, ok := g.relations.get(id)
	if !ok {
		g.mu.Unlock()
		return nil, ir.NewNotFoundError(ir.KindRelation, id)
	}
	g.relations.remove(id)
	g.mu.Unlock()

	g.emit(EventRelationRemoved, map[string]any{"id": id, "relation": map[string]any(existing)})
	return existing.Clone(), nil
}

func (g *Graph) update(kind ir.Kind, id string, patch map[string]any) (ir.Record, error) {
	normalized, err := normalizePatch(kind, id, patch)
	if err != nil {
		return nil, err
	}

	tbl := g.table(kind)
	g.mu.Lock()
	existing, ok := tbl.get(id)
	if !ok {
		g.mu.Unlock()
		return nil, ir.NewNotFoundError(kind, id)
	}

	var violations []ir.Violation
	for _, field := range []string{ir.FieldID, ir.FieldType} {
		if v, present := normalized[field]; present && !ir.Equal(v, existing[field]) {
			violations = append(violations, ir.Violation{Field: field, Constraint: "immutable", Message: "cannot be changed"})
		}
	}
	if len(violations) > 0 {
		g.mu.Unlock()
		return nil, ir.NewValidationError(kind, id, violations)
	}

	merged := existing.Clone()
	for k, v := range normalized {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = ir.Clone(v)
	}
	if err := g.schema.Validate(kind, merged); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	if kind == ir.KindRelation && (merged.From() != existing.From() || merged.To() != existing.To()) {
		if err := g.checkEndpoints(merged); err != nil {
			g.mu.Unlock()
			return nil, err
		}
	}
	tbl.put(merged)
	g.mu.Unlock()

	eventType := EventEntityUpdated
	if kind == ir.KindRelation {
		eventType = EventRelationUpdated
	}
	g.emit(eventType, map[string]any{
		"id":     id,
		"before": map[string]any(existing),
		"after":  map[string]any(merged),
		"patch":  map[string]any(normalized),
	})
	return merged.Clone(), nil
}

// checkEndpoints must be called with the lock held.
func (g *Graph) checkEndpoints(rel ir.Record) error {
	for _, endpoint := range []string{rel.From(), rel.To()} {
		if !g.entities.has(endpoint) {
			return fmt.Errorf("relation %s endpoint: %w", rel.ID(), ir.NewNotFoundError(ir.KindEntity, endpoint))
		}
	}
	return nil
}

func (g *Graph) table(kind ir.Kind) *table {
	if kind == ir.KindRelation {
		return g.relations
	}
	return g.entities
}

// GetEntity returns a copy of an entity.
func (g *Graph) GetEntity(id string) (ir.Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.entities.get(id)
	return r.Clone(), ok
}

// GetRelation returns a copy of a relation.
func (g *Graph) GetRelation(id string) (ir.Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.relations.get(id)
	return r.Clone(), ok
}

// Entities returns copies of every entity in insertion order.
func (g *Graph) Entities() []ir.Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entities.list()
}

// Relations returns copies of every relation in insertion order.
func (g *Graph) Relations() []ir.Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.relations.list()
}

// RelationsOf returns copies of the relations whose from or to is id.
func (g *Graph) RelationsOf(id string) []ir.Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	found := g.relations.filter(func(r ir.Record) bool {
		return r.From() == id || r.To() == id
	})
	out := make([]ir.Record, len(found))
	for i, r := range found {
		out[i] = r.Clone()
	}
	return out
}

// Counts returns the number of entities and relations.
func (g *Graph) Counts() (entities, relations int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entities.len(), g.relations.len()
}

// Serialize returns the full state as a snapshot of deep copies.
func (g *Graph) Serialize() ir.Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return ir.Snapshot{Entities: g.entities.list(), Relations: g.relations.list()}
}

// Load replaces the whole state with a snapshot after validating every
// record. On error nothing changes. Relations may reference entities that
// are not in the snapshot; orphans are legal state.
func (g *Graph) Load(s ir.Snapshot) error {
	ents, err := g.prepare(ir.KindEntity, s.Entities)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	rels, err := g.prepare(ir.KindRelation, s.Relations)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	g.replace(ents, rels)
	g.emit(EventLoaded, loadedData(ents, rels, false))
	return nil
}

// Restore replaces the whole state with a trusted snapshot without
// validating it. Used to return to a version that was valid when taken.
func (g *Graph) Restore(s ir.Snapshot) {
	c := s.Clone()
	g.replace(c.Entities, c.Relations)
	g.emit(EventLoaded, loadedData(c.Entities, c.Relations, true))
}

// loadedData carries the full state so a replay can reproduce the load.
func loadedData(ents, rels []ir.Record, restored bool) map[string]any {
	data := map[string]any{
		"entities":  ir.RecordList(ents),
		"relations": ir.RecordList(rels),
	}
	if restored {
		data["restored"] = true
	}
	return data
}

// Reset removes every entity and relation.
func (g *Graph) Reset() {
	g.replace(nil, nil)
	g.emit(EventReset, nil)
}

func (g *Graph) prepare(kind ir.Kind, records []ir.Record) ([]ir.Record, error) {
	out := make([]ir.Record, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		rec, err := normalizeRecord(kind, r)
		if err != nil {
			return nil, err
		}
		if err := g.schema.Validate(kind, rec); err != nil {
			return nil, err
		}
		if seen[rec.ID()] {
			return nil, ir.NewDuplicateIDError(kind, rec.ID())
		}
		seen[rec.ID()] = true
		out = append(out, rec)
	}
	return out, nil
}

func (g *Graph) replace(ents, rels []ir.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities.clear()
	g.relations.clear()
	for _, r := range ents {
		g.entities.put(r)
	}
	for _, r := range rels {
		g.relations.put(r)
	}
}

func (g *Graph) emit(eventType string, data map[string]any) {
	if _, err := g.bus.Emit(eventType, data, eventbus.WithEventSource(Source)); err != nil {
		g.logger.Error("graph event not emitted", "event_type", eventType, "error", err)
	}
}

func normalizeRecord(kind ir.Kind, data map[string]any) (ir.Record, error) {
	rec, err := ir.NormalizeRecord(data)
	if err != nil {
		id, _ := data[ir.FieldID].(string)
		return nil, ir.NewValidationError(kind, id, []ir.Violation{{Constraint: "json", Message: err.Error()}})
	}
	return rec, nil
}

// normalizePatch keeps nil values, which mark fields for removal.
func normalizePatch(kind ir.Kind, id string, patch map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(patch))
	for k, v := range patch {
		n, err := ir.Normalize(v)
		if err != nil {
			return nil, ir.NewValidationError(kind, id, []ir.Violation{{Field: k, Constraint: "json", Message: err.Error()}})
		}
		out[k] = n
	}
	return out, nil
}
