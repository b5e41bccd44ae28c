// Package diff computes, applies, reverses and merges structural
// differences between two snapshots.
package diff

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/strata/internal/ir"
)

// Update records a changed record.
type Update struct {
	ID            string    `json:"id"`
	Before        ir.Record `json:"before"`
	After         ir.Record `json:"after"`
	ChangedFields []string  `json:"changedFields"`
}

// ChangeSet lists changes to one record family.
type ChangeSet struct {
	Added   []ir.Record `json:"added"`
	Removed []ir.Record `json:"removed"`
	Updated []Update    `json:"updated"`
}

// Annotations classifies annotation records by whether their target
// survives the change.
type Annotations struct {
	Preserved []ir.Record `json:"preserved"`
	Archived  []ir.Record `json:"archived"`
}

// Summary totals changes across entities and relations.
type Summary struct {
	TotalAdded    int `json:"totalAdded"`
	TotalRemoved  int `json:"totalRemoved"`
	TotalModified int `json:"totalModified"`
}

// Diff is the structural difference between two snapshots.
type Diff struct {
	Entities    ChangeSet   `json:"entities"`
	Relations   ChangeSet   `json:"relations"`
	Annotations Annotations `json:"annotations"`
	Summary     Summary     `json:"summary"`
}

// IsEmpty reports whether the diff carries no entity or relation change.
func (d Diff) IsEmpty() bool {
	return d.Summary.TotalAdded == 0 && d.Summary.TotalRemoved == 0 && d.Summary.TotalModified == 0
}

// AnnotationTargetField is the field an annotation uses to point at the
// entity or relation it describes.
const AnnotationTargetField = "targetId"

// Option configures Compute.
type Option func(*config)

type config struct {
	annotations []ir.Record
}

// WithAnnotations classifies the given annotations against the new
// snapshot: preserved when their target still exists, archived otherwise.
func WithAnnotations(annotations []ir.Record) Option {
	return func(c *config) { c.annotations = annotations }
}

// Compute returns the difference from old to new.
//
// Records are matched by id. A record present in both with any field
// differing by deep equality is an update; ChangedFields lists the union of
// differing keys in sorted order. Added records follow new's order; removed
// and updated follow old's.
func Compute(old, new ir.Snapshot, opts ...Option) Diff {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	d := Diff{
		Entities:  compareRecords(old.Entities, new.Entities),
		Relations: compareRecords(old.Relations, new.Relations),
		Annotations: Annotations{
			Preserved: []ir.Record{},
			Archived:  []ir.Record{},
		},
	}
	if len(cfg.annotations) > 0 {
		live := make(map[string]bool, len(new.Entities)+len(new.Relations))
		for _, r := range new.Entities {
			live[r.ID()] = true
		}
		for _, r := range new.Relations {
			live[r.ID()] = true
		}
		for _, a := range cfg.annotations {
			target, _ := a[AnnotationTargetField].(string)
			if live[target] {
				d.Annotations.Preserved = append(d.Annotations.Preserved, a.Clone())
			} else {
				d.Annotations.Archived = append(d.Annotations.Archived, a.Clone())
			}
		}
	}
	d.Summary = summarize(d)
	return d
}

func compareRecords(old, new []ir.Record) ChangeSet {
	cs := ChangeSet{Added: []ir.Record{}, Removed: []ir.Record{}, Updated: []Update{}}

	newByID := make(map[string]ir.Record, len(new))
	for _, r := range new {
		newByID[r.ID()] = r
	}
	oldIDs := make(map[string]bool, len(old))
	for _, before := range old {
		oldIDs[before.ID()] = true
		after, ok := newByID[before.ID()]
		if !ok {
			cs.Removed = append(cs.Removed, before.Clone())
			continue
		}
		if changed := changedFields(before, after); len(changed) > 0 {
			cs.Updated = append(cs.Updated, Update{
				ID:            before.ID(),
				Before:        before.Clone(),
				After:         after.Clone(),
				ChangedFields: changed,
			})
		}
	}
	for _, r := range new {
		if !oldIDs[r.ID()] {
			cs.Added = append(cs.Added, r.Clone())
		}
	}
	return cs
}

func changedFields(before, after ir.Record) []string {
	var out []string
	for k, bv := range before {
		av, ok := after[k]
		if !ok || !ir.Equal(bv, av) {
			out = append(out, k)
		}
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func summarize(d Diff) Summary {
	return Summary{
		TotalAdded:    len(d.Entities.Added) + len(d.Relations.Added),
		TotalRemoved:  len(d.Entities.Removed) + len(d.Relations.Removed),
		TotalModified: len(d.Entities.Updated) + len(d.Relations.Updated),
	}
}

// Apply produces a new snapshot from base: removed ids are dropped, updated
// ids are replaced by their after value in place, then added records are
// appended. base is not modified. The result is not validated; loading it
// into a graph does that.
func Apply(base ir.Snapshot, d Diff) ir.Snapshot {
	return ir.Snapshot{
		Entities:  applyChanges(base.Entities, d.Entities),
		Relations: applyChanges(base.Relations, d.Relations),
	}
}

func applyChanges(base []ir.Record, cs ChangeSet) []ir.Record {
	removed := make(map[string]bool, len(cs.Removed))
	for _, r := range cs.Removed {
		removed[r.ID()] = true
	}
	updated := make(map[string]ir.Record, len(cs.Updated))
	for _, u := range cs.Updated {
		updated[u.ID] = u.After
	}

	out := make([]ir.Record, 0, len(base)+len(cs.Added))
	for _, r := range base {
		if removed[r.ID()] {
			continue
		}
		if after, ok := updated[r.ID()]; ok {
			out = append(out, after.Clone())
			continue
		}
		out = append(out, r.Clone())
	}
	for _, r := range cs.Added {
		out = append(out, r.Clone())
	}
	return out
}

// Reverse returns the diff that undoes d: added and removed swap, and each
// update swaps before and after.
func Reverse(d Diff) Diff {
	out := Diff{
		Entities:  reverseChanges(d.Entities),
		Relations: reverseChanges(d.Relations),
		Annotations: Annotations{
			Preserved: cloneAll(d.Annotations.Preserved),
			Archived:  cloneAll(d.Annotations.Archived),
		},
	}
	out.Summary = summarize(out)
	return out
}

func reverseChanges(cs ChangeSet) ChangeSet {
	out := ChangeSet{
		Added:   cloneAll(cs.Removed),
		Removed: cloneAll(cs.Added),
		Updated: make([]Update, len(cs.Updated)),
	}
	for i, u := range cs.Updated {
		out.Updated[i] = Update{
			ID:            u.ID,
			Before:        u.After.Clone(),
			After:         u.Before.Clone(),
			ChangedFields: slices.Clone(u.ChangedFields),
		}
	}
	return out
}

// Merge unions two diffs. Lists are concatenated and de-duplicated by id,
// keeping the first occurrence, so d1 wins on conflict. Merge does not
// detect conflicts; it never fails.
func Merge(d1, d2 Diff) Diff {
	out := Diff{
		Entities:  mergeChanges(d1.Entities, d2.Entities),
		Relations: mergeChanges(d1.Relations, d2.Relations),
		Annotations: Annotations{
			Preserved: unionRecords(d1.Annotations.Preserved, d2.Annotations.Preserved),
			Archived:  unionRecords(d1.Annotations.Archived, d2.Annotations.Archived),
		},
	}
	out.Summary = summarize(out)
	return out
}

func mergeChanges(a, b ChangeSet) ChangeSet {
	out := ChangeSet{
		Added:   unionRecords(a.Added, b.Added),
		Removed: unionRecords(a.Removed, b.Removed),
		Updated: []Update{},
	}
	seen := make(map[string]bool)
	for _, u := range append(slices.Clone(a.Updated), b.Updated...) {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out.Updated = append(out.Updated, Update{
			ID:            u.ID,
			Before:        u.Before.Clone(),
			After:         u.After.Clone(),
			ChangedFields: slices.Clone(u.ChangedFields),
		})
	}
	return out
}

func unionRecords(a, b []ir.Record) []ir.Record {
	out := []ir.Record{}
	seen := make(map[string]bool, len(a)+len(b))
	for _, r := range append(slices.Clone(a), b...) {
		if seen[r.ID()] {
			continue
		}
		seen[r.ID()] = true
		out = append(out, r.Clone())
	}
	return out
}

func cloneAll(records []ir.Record) []ir.Record {
	out := make([]ir.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// CanonicalJSON returns the canonical encoding of the diff, suitable for
// golden comparison and checksums.
func (d Diff) CanonicalJSON() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal diff: %w", err)
	}
	v, err := ir.DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode diff: %w", err)
	}
	return ir.MarshalCanonical(v)
}
