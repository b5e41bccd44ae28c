package versioning

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/strata/internal/diff"
	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ident"
	"github.com/roach88/strata/internal/ir"
)

// Event types emitted by the engine.
const (
	EventVersionCreated  = "version.created"
	EventVersionSwitched = "version.switched"
	EventBranchCreated   = "branch.created"
	EventBranchSwitched  = "branch.switched"
)

// Source is the meta.source written on versioning events.
const Source = "versioning"

// DefaultBranch is the name of the branch a new engine starts on.
const DefaultBranch = "main"

// dirtyPatterns are the graph events that make the working state differ
// from the current version.
var dirtyPatterns = []string{
	"graph.entity.*",
	"graph.relation.*",
	graph.EventLoaded,
	graph.EventReset,
}

// Engine owns the version and branch maps for one graph.
//
// Thread-safety: methods may be called from any goroutine. The graph is
// never called while the engine lock is held, since graph events call back
// into the engine.
type Engine struct {
	mu          sync.RWMutex
	versions    map[string]ir.Version
	order       []string
	branches    map[string]ir.Branch
	branchOrder []string
	current     string
	branch      string
	dirty       bool

	// restoring suppresses the dirty flag while SwitchToVersion restores.
	restoring atomic.Bool

	graph       *graph.Graph
	bus         *eventbus.Bus
	ids         ident.Generator
	now         func() time.Time
	logger      *slog.Logger
	unsubscribe []func()
}

// New creates an engine over g, emitting on bus. A nil bus uses the
// graph's bus. The engine starts on the default branch with no versions.
func New(g *graph.Graph, bus *eventbus.Bus, opts ...Option) *Engine {
	if bus == nil {
		bus = g.Bus()
	}
	e := &Engine{
		versions: make(map[string]ir.Version),
		branches: make(map[string]ir.Branch),
		graph:    g,
		bus:      bus,
		ids:      ident.UUIDv7Generator{},
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	def := ir.Branch{ID: DefaultBranch, Name: DefaultBranch, CreatedAt: e.now()}
	e.branches[def.ID] = def
	e.branchOrder = append(e.branchOrder, def.ID)
	e.branch = def.ID

	for _, p := range dirtyPatterns {
		e.unsubscribe = append(e.unsubscribe, g.Bus().Subscribe(p, e.markDirty))
	}
	return e
}

// Close detaches the engine from the graph's events.
func (e *Engine) Close() {
	e.mu.Lock()
	unsubs := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (e *Engine) markDirty(ev ir.Event) error {
	if e.restoring.Load() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty {
		e.logger.Debug("graph diverged from current version", "event_type", ev.Type, "version_id", e.current)
	}
	e.dirty = true
	return nil
}

// CreateVersion captures the graph's current state as a new version whose
// parent is the current version, then marks the state clean.
//
// A branch created without an anchor (the default branch before the first
// version) is anchored at the new version.
func (e *Engine) CreateVersion(meta ir.VersionMetadata) (ir.Version, error) {
	frozen, err := ir.Freeze(e.graph.Serialize())
	if err != nil {
		return ir.Version{}, fmt.Errorf("create version: %w", err)
	}

	e.mu.Lock()
	v := ir.NewVersion(e.ids.Generate(), e.current, e.branch, e.now(), meta, frozen)
	if _, exists := e.versions[v.ID]; exists {
		e.mu.Unlock()
		return ir.Version{}, ir.NewDuplicateIDError(ir.KindVersion, v.ID)
	}
	e.versions[v.ID] = v
	e.order = append(e.order, v.ID)
	e.current = v.ID
	e.dirty = false
	if b := e.branches[e.branch]; b.FromVersionID == "" {
		b.FromVersionID = v.ID
		e.branches[b.ID] = b
	}
	e.mu.Unlock()

	e.logger.Info("version created",
		"version_id", v.ID,
		"parent_id", v.ParentID,
		"branch_id", v.BranchID,
		"checksum", v.Checksum())
	e.emit(EventVersionCreated, map[string]any{"version": summary(v)})
	return v.Clone(), nil
}

// summary is the event payload form of a version. The snapshot itself is
// left out; consumers read it through GetVersion.
func summary(v ir.Version) map[string]any {
	var parent any
	if v.ParentID != "" {
		parent = v.ParentID
	}
	return map[string]any{
		"id":        v.ID,
		"parentId":  parent,
		"branchId":  v.BranchID,
		"timestamp": v.Timestamp.UTC().Format(time.RFC3339Nano),
		"checksum":  v.Checksum(),
		"metadata": map[string]any{
			"author":  v.Metadata.Author,
			"message": v.Metadata.Message,
			"tags":    v.Metadata.Clone().Tags,
		},
	}
}

// GetVersion returns the version with the given id.
func (e *Engine) GetVersion(id string) (ir.Version, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.versions[id]
	if !ok {
		return ir.Version{}, ir.NewNotFoundError(ir.KindVersion, id)
	}
	return v.Clone(), nil
}

// GetParentVersion returns the parent of version id. ok is false for a
// root version.
func (e *Engine) GetParentVersion(id string) (parent ir.Version, ok bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, found := e.versions[id]
	if !found {
		return ir.Version{}, false, ir.NewNotFoundError(ir.KindVersion, id)
	}
	if v.IsRoot() {
		return ir.Version{}, false, nil
	}
	p, found := e.versions[v.ParentID]
	if !found {
		return ir.Version{}, false, ir.NewNotFoundError(ir.KindVersion, v.ParentID)
	}
	return p.Clone(), true, nil
}

// History returns the chain from the current version back to the root.
// It is empty before the first version.
func (e *Engine) History() []ir.Version {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []ir.Version
	seen := make(map[string]bool)
	for id := e.current; id != ""; {
		v, ok := e.versions[id]
		if !ok || seen[id] {
			break
		}
		seen[id] = true
		out = append(out, v.Clone())
		id = v.ParentID
	}
	return out
}

// Versions returns every version in creation order.
func (e *Engine) Versions() []ir.Version {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ir.Version, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.versions[id].Clone())
	}
	return out
}

// Current returns the current version. ok is false before the first
// version exists.
func (e *Engine) Current() (v ir.Version, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == "" {
		return ir.Version{}, false
	}
	return e.versions[e.current].Clone(), true
}

// IsDirty reports whether the graph changed since the last CreateVersion or
// SwitchToVersion.
func (e *Engine) IsDirty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dirty
}

// SwitchToVersion replaces the graph's entire state with the version's
// snapshot. The snapshot is trusted and not validated again.
func (e *Engine) SwitchToVersion(id string) error {
	e.mu.RLock()
	v, ok := e.versions[id]
	previous := e.current
	e.mu.RUnlock()
	if !ok {
		return ir.NewNotFoundError(ir.KindVersion, id)
	}

	e.restoring.Store(true)
	e.graph.Restore(v.Snapshot())
	e.restoring.Store(false)

	e.mu.Lock()
	e.current = id
	e.dirty = false
	e.mu.Unlock()

	e.logger.Info("switched version", "version_id", id, "previous_id", previous)
	e.emit(EventVersionSwitched, map[string]any{"versionId": id, "previousVersionId": optional(previous)})
	return nil
}

// Compare diffs the snapshots of two versions.
func (e *Engine) Compare(fromID, toID string) (diff.Diff, error) {
	from, err := e.GetVersion(fromID)
	if err != nil {
		return diff.Diff{}, err
	}
	to, err := e.GetVersion(toID)
	if err != nil {
		return diff.Diff{}, err
	}
	return diff.Compute(from.Snapshot(), to.Snapshot()), nil
}

// CreateBranch creates a named branch anchored at fromVersionID. An empty
// fromVersionID anchors it at the current version.
func (e *Engine) CreateBranch(name, fromVersionID string) (ir.Branch, error) {
	if name == "" {
		return ir.Branch{}, ir.NewValidationError(ir.KindBranch, "", []ir.Violation{
			{Field: "name", Constraint: "required", Message: "branch name must not be empty"},
		})
	}

	e.mu.Lock()
	if fromVersionID == "" {
		fromVersionID = e.current
	}
	if fromVersionID != "" {
		if _, ok := e.versions[fromVersionID]; !ok {
			e.mu.Unlock()
			return ir.Branch{}, ir.NewNotFoundError(ir.KindVersion, fromVersionID)
		}
	}
	for _, b := range e.branches {
		if b.Name == name {
			e.mu.Unlock()
			return ir.Branch{}, ir.NewDuplicateIDError(ir.KindBranch, name)
		}
	}
	b := ir.Branch{ID: e.ids.Generate(), Name: name, FromVersionID: fromVersionID, CreatedAt: e.now()}
	if _, exists := e.branches[b.ID]; exists {
		e.mu.Unlock()
		return ir.Branch{}, ir.NewDuplicateIDError(ir.KindBranch, b.ID)
	}
	e.branches[b.ID] = b
	e.branchOrder = append(e.branchOrder, b.ID)
	e.mu.Unlock()

	e.logger.Info("branch created", "branch_id", b.ID, "name", name, "from_version_id", fromVersionID)
	e.emit(EventBranchCreated, map[string]any{"branch": branchPayload(b)})
	return b, nil
}

func branchPayload(b ir.Branch) map[string]any {
	return map[string]any{
		"id":            b.ID,
		"name":          b.Name,
		"fromVersionId": optional(b.FromVersionID),
		"createdAt":     b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// SwitchBranch makes the branch current and switches to the version it
// points at. idOrName may be a branch id or a branch name.
func (e *Engine) SwitchBranch(idOrName string) error {
	b, err := e.lookupBranch(idOrName)
	if err != nil {
		return err
	}
	if b.FromVersionID != "" {
		if err := e.SwitchToVersion(b.FromVersionID); err != nil {
			return fmt.Errorf("switch branch %s: %w", b.Name, err)
		}
	}

	e.mu.Lock()
	previous := e.branch
	e.branch = b.ID
	e.mu.Unlock()

	e.logger.Info("switched branch", "branch_id", b.ID, "name", b.Name)
	e.emit(EventBranchSwitched, map[string]any{
		"branchId":         b.ID,
		"previousBranchId": previous,
		"versionId":        optional(b.FromVersionID),
	})
	return nil
}

func (e *Engine) lookupBranch(idOrName string) (ir.Branch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if b, ok := e.branches[idOrName]; ok {
		return b, nil
	}
	for _, id := range e.branchOrder {
		if b := e.branches[id]; b.Name == idOrName {
			return b, nil
		}
	}
	return ir.Branch{}, ir.NewNotFoundError(ir.KindBranch, idOrName)
}

// Branches returns every branch in creation order.
func (e *Engine) Branches() []ir.Branch {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ir.Branch, 0, len(e.branchOrder))
	for _, id := range e.branchOrder {
		out = append(out, e.branches[id])
	}
	return out
}

// CurrentBranch returns the current branch.
func (e *Engine) CurrentBranch() ir.Branch {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.branches[e.branch]
}

// Import re-hydrates versions and branches read back from storage. Every
// parent must be either imported alongside or already known. Imported
// branches replace known branches with the same id. The graph and the
// current version are left untouched; call SwitchToVersion afterwards.
func (e *Engine) Import(versions []ir.Version, branches []ir.Branch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	incoming := make(map[string]ir.Version, len(versions))
	for _, v := range versions {
		if _, ok := e.versions[v.ID]; ok {
			return ir.NewDuplicateIDError(ir.KindVersion, v.ID)
		}
		if _, ok := incoming[v.ID]; ok {
			return ir.NewDuplicateIDError(ir.KindVersion, v.ID)
		}
		incoming[v.ID] = v
	}
	known := func(id string) bool {
		_, a := e.versions[id]
		_, b := incoming[id]
		return a || b
	}
	for _, v := range versions {
		if !v.IsRoot() && !known(v.ParentID) {
			return fmt.Errorf("import version %s: %w", v.ID, ir.NewNotFoundError(ir.KindVersion, v.ParentID))
		}
	}
	if err := checkAcyclic(incoming, e.versions); err != nil {
		return err
	}
	for _, b := range branches {
		if b.FromVersionID != "" && !known(b.FromVersionID) {
			return fmt.Errorf("import branch %s: %w", b.Name, ir.NewNotFoundError(ir.KindVersion, b.FromVersionID))
		}
	}

	for _, v := range versions {
		e.versions[v.ID] = v.Clone()
		e.order = append(e.order, v.ID)
	}
	for _, b := range branches {
		if _, ok := e.branches[b.ID]; !ok {
			e.branchOrder = append(e.branchOrder, b.ID)
		}
		e.branches[b.ID] = b
	}
	e.logger.Info("imported versions", "versions", len(versions), "branches", len(branches))
	return nil
}

// checkAcyclic walks every imported version to a root. Versions created by
// the engine cannot form cycles; imported ones are checked.
func checkAcyclic(incoming, existing map[string]ir.Version) error {
	get := func(id string) (ir.Version, bool) {
		if v, ok := incoming[id]; ok {
			return v, true
		}
		v, ok := existing[id]
		return v, ok
	}
	for id := range incoming {
		seen := make(map[string]bool)
		for cur := id; cur != ""; {
			if seen[cur] {
				return ir.NewValidationError(ir.KindVersion, id, []ir.Violation{
					{Field: "parentId", Constraint: "acyclic", Message: "version ancestry contains a cycle"},
				})
			}
			seen[cur] = true
			v, ok := get(cur)
			if !ok {
				break
			}
			cur = v.ParentID
		}
	}
	return nil
}

func (e *Engine) emit(eventType string, data map[string]any) {
	if _, err := e.bus.Emit(eventType, data, eventbus.WithEventSource(Source), eventbus.NotReplayable()); err != nil {
		e.logger.Error("versioning event not emitted", "event_type", eventType, "error", err)
	}
}

func optional(id string) any {
	if id == "" {
		return nil
	}
	return id
}
