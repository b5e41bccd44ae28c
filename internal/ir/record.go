package ir

import (
	"encoding/json"
	"fmt"
)

// Reserved record fields.
const (
	FieldID       = "id"
	FieldType     = "type"
	FieldMetadata = "metadata"
	FieldFrom     = "from"
	FieldTo       = "to"
)

// Kind distinguishes the record families a graph stores.
type Kind string

const (
	KindEntity   Kind = "entity"
	KindRelation Kind = "relation"
	KindVersion  Kind = "version"
	KindBranch   Kind = "branch"
)

// Record is an open, JSON-compatible object: an entity or a relation.
// Entities carry at least id and type; relations additionally carry from and
// to, the ids of their endpoint entities.
type Record map[string]any

// ID returns the record id, or "" when absent or not a string.
func (r Record) ID() string { return r.str(FieldID) }

// Type returns the record type name.
func (r Record) Type() string { return r.str(FieldType) }

// From returns a relation's source entity id.
func (r Record) From() string { return r.str(FieldFrom) }

// To returns a relation's target entity id.
func (r Record) To() string { return r.str(FieldTo) }

// Metadata returns the metadata object, or nil.
func (r Record) Metadata() map[string]any {
	m, _ := asMap(r[FieldMetadata])
	return m
}

// Get resolves a dotted field path.
func (r Record) Get(path string) (any, bool) {
	return Lookup(r, path)
}

func (r Record) str(key string) string {
	s, _ := r[key].(string)
	return s
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Record(cloneMap(r))
}

// NormalizeRecord deep-copies r into JSON-compatible values and drops
// top-level fields whose value is nil.
func NormalizeRecord(r map[string]any) (Record, error) {
	out := make(Record, len(r))
	for k, v := range r {
		if v == nil {
			continue
		}
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// UnmarshalJSON decodes a record keeping integers exact.
func (r *Record) UnmarshalJSON(data []byte) error {
	m, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	*r = Record(m)
	return nil
}

// Payload is the data object carried by an event.
type Payload map[string]any

// Record returns the value at key as a Record, if it is an object.
func (p Payload) Record(key string) (Record, bool) {
	m, ok := asMap(p[key])
	if !ok {
		return nil, false
	}
	return Record(m), true
}

// String returns the value at key if it is a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Records returns the value at key as a list of records. Non-object
// elements are skipped.
func (p Payload) Records(key string) []Record {
	list, _ := p[key].([]any)
	out := make([]Record, 0, len(list))
	for _, elem := range list {
		if m, ok := asMap(elem); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return Payload(cloneMap(p))
}

// UnmarshalJSON decodes a payload keeping integers exact.
func (p *Payload) UnmarshalJSON(data []byte) error {
	m, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	*p = Payload(m)
	return nil
}

func decodeObject(data []byte) (map[string]any, error) {
	v, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return m, nil
}

// RecordList converts records to []any so they can live inside a payload.
func RecordList(records []Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = map[string]any(r.Clone())
	}
	return out
}

// Snapshot is the serialized state of a graph.
type Snapshot struct {
	Entities  []Record `json:"entities"`
	Relations []Record `json:"relations"`
}

// Clone returns a deep copy. Nil lists become empty lists.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Entities:  make([]Record, len(s.Entities)),
		Relations: make([]Record, len(s.Relations)),
	}
	for i, e := range s.Entities {
		out.Entities[i] = e.Clone()
	}
	for i, r := range s.Relations {
		out.Relations[i] = r.Clone()
	}
	return out
}

// MarshalJSON always emits both lists, even when empty.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	p := plain(s)
	if p.Entities == nil {
		p.Entities = []Record{}
	}
	if p.Relations == nil {
		p.Relations = []Record{}
	}
	return json.Marshal(p)
}

func (s Snapshot) canonicalValue() map[string]any {
	ents := make([]any, len(s.Entities))
	for i, e := range s.Entities {
		ents[i] = map[string]any(e)
	}
	rels := make([]any, len(s.Relations))
	for i, r := range s.Relations {
		rels[i] = map[string]any(r)
	}
	return map[string]any{"entities": ents, "relations": rels}
}

// FrozenSnapshot is an immutable snapshot. It holds the canonical encoding
// only, so the stored state cannot be reached or mutated; Thaw hands out an
// independent copy every time.
type FrozenSnapshot struct {
	data     []byte
	checksum string
}

// Freeze encodes s canonically.
func Freeze(s Snapshot) (FrozenSnapshot, error) {
	data, err := MarshalCanonical(s.canonicalValue())
	if err != nil {
		return FrozenSnapshot{}, fmt.Errorf("freeze snapshot: %w", err)
	}
	return FrozenSnapshot{data: data, checksum: hashWithDomain(DomainSnapshot, data)}, nil
}

// Thaw decodes a fresh, mutable copy of the frozen state.
func (f FrozenSnapshot) Thaw() Snapshot {
	if len(f.data) == 0 {
		return Snapshot{Entities: []Record{}, Relations: []Record{}}
	}
	var s Snapshot
	if err := json.Unmarshal(f.data, &s); err != nil {
		panic(fmt.Sprintf("ir: corrupt frozen snapshot: %v", err))
	}
	return s.Clone()
}

// Checksum returns the domain-separated SHA-256 of the canonical encoding.
func (f FrozenSnapshot) Checksum() string { return f.checksum }

// Canonical returns a copy of the canonical encoding.
func (f FrozenSnapshot) Canonical() []byte {
	return append([]byte(nil), f.data...)
}
