package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/ir"
)

// Recorder persists every event emitted on a bus, synchronously, in
// emission order.
//
// A failed write is logged by the bus and remembered; Err reports every
// failure since the recorder was created.
type Recorder struct {
	store *Store
	ctx   context.Context

	mu          sync.Mutex
	written     int
	errs        []error
	unsubscribe func()
}

// NewRecorder subscribes to all events on bus. ctx bounds every write.
func NewRecorder(ctx context.Context, s *Store, bus *eventbus.Bus) *Recorder {
	r := &Recorder{store: s, ctx: ctx}
	r.unsubscribe = bus.Subscribe("*", r.record)
	return r
}

func (r *Recorder) record(ev ir.Event) error {
	_, err := r.store.WriteEvent(r.ctx, ev)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return err
	}
	r.written++
	return nil
}

// Written returns how many events were persisted.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Err returns the joined write failures, or nil.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

// Close stops recording.
func (r *Recorder) Close() {
	r.unsubscribe()
}

// VersionSource is where Archive looks up versions and branches.
// *versioning.Engine satisfies it.
type VersionSource interface {
	GetVersion(id string) (ir.Version, error)
	Branches() []ir.Branch
}

// Archive persists versions as they are created, together with the branch
// table, so a later session can import the whole DAG.
type Archive struct {
	store  *Store
	source VersionSource
	ctx    context.Context

	mu          sync.Mutex
	errs        []error
	unsubscribe []func()
}

// NewArchive subscribes to version.created and branch.created on bus.
func NewArchive(ctx context.Context, s *Store, source VersionSource, bus *eventbus.Bus) *Archive {
	a := &Archive{store: s, source: source, ctx: ctx}
	a.unsubscribe = []func(){
		bus.Subscribe("version.created", a.onVersion),
		bus.Subscribe("branch.created", a.onBranch),
	}
	return a
}

func (a *Archive) onVersion(ev ir.Event) error {
	payload, ok := ev.Data.Record("version")
	if !ok {
		return a.fail(fmt.Errorf("archive: event %s has no version", ev.ID))
	}
	v, err := a.source.GetVersion(payload.ID())
	if err != nil {
		return a.fail(fmt.Errorf("archive: %w", err))
	}
	if err := a.store.WriteVersion(a.ctx, v); err != nil {
		return a.fail(fmt.Errorf("archive: %w", err))
	}
	return a.writeBranches()
}

func (a *Archive) onBranch(ir.Event) error {
	return a.writeBranches()
}

// writeBranches stores every branch. Branch anchors change without events
// of their own, so the whole table is rewritten each time.
func (a *Archive) writeBranches() error {
	for _, b := range a.source.Branches() {
		if err := a.store.WriteBranch(a.ctx, b); err != nil {
			return a.fail(fmt.Errorf("archive: %w", err))
		}
	}
	return nil
}

func (a *Archive) fail(err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
	return err
}

// Err returns the joined archive failures, or nil.
func (a *Archive) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Join(a.errs...)
}

// Close stops archiving.
func (a *Archive) Close() {
	for _, u := range a.unsubscribe {
		u()
	}
}
