package undo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/strata/internal/eventbus"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/ir"
)

// DefaultMaxSize is the default bound on the undo stack.
const DefaultMaxSize = 100

var (
	// ErrNothingToUndo is returned by Undo on an empty undo stack.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned by Redo on an empty redo stack.
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrNoBatch is returned by EndBatch when no batch is open.
	ErrNoBatch = errors.New("no batch is open")

	// ErrBatchOpen is returned by Undo and Redo while a batch is open.
	ErrBatchOpen = errors.New("cannot undo or redo while a batch is open")
)

// Option configures a Manager.
type Option func(*Manager)

// WithMaxSize bounds the undo stack. When a push exceeds the bound the
// oldest entry is dropped. Values below 1 are ignored.
func WithMaxSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager records graph mutations as commands and undoes or redoes them.
//
// Commands are built from the graph's events, so every mutation made
// through the graph is recorded no matter who made it. While the manager is
// itself applying a command, events are not recorded.
//
// Thread-safety: methods may be called from any goroutine, but undo and
// redo of concurrent writers interleave in event order, which is rarely
// what a caller wants.
type Manager struct {
	mu      sync.Mutex
	undo    []Command
	redo    []Command
	batches []*Batch

	// applying is non-zero while a command runs; events seen then are the
	// command's own echo.
	applying atomic.Int32

	graph       *graph.Graph
	maxSize     int
	logger      *slog.Logger
	unsubscribe []func()
}

// New creates a manager recording mutations of g. Events are read from bus;
// a nil bus uses the graph's bus.
func New(g *graph.Graph, bus *eventbus.Bus, opts ...Option) *Manager {
	if bus == nil {
		bus = g.Bus()
	}
	m := &Manager{
		graph:   g,
		maxSize: DefaultMaxSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.unsubscribe = []func(){
		bus.Subscribe("graph.entity.*", m.record),
		bus.Subscribe("graph.relation.*", m.record),
		bus.Subscribe(graph.EventLoaded, m.discard),
		bus.Subscribe(graph.EventReset, m.discard),
	}
	return m
}

// Close stops recording.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubs := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (m *Manager) record(ev ir.Event) error {
	if m.applying.Load() > 0 {
		return nil
	}
	cmd, ok, err := commandFor(m.graph, ev)
	if err != nil {
		return fmt.Errorf("record undo command: %w", err)
	}
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.batches); n > 0 {
		top := m.batches[n-1]
		top.commands = append(top.commands, cmd)
		return nil
	}
	m.push(cmd)
	return nil
}

// push must be called with the lock held.
func (m *Manager) push(cmd Command) {
	m.undo = append(m.undo, cmd)
	if over := len(m.undo) - m.maxSize; over > 0 {
		m.logger.Debug("undo history evicted", "dropped", over, "max_size", m.maxSize)
		m.undo = append(m.undo[:0:0], m.undo[over:]...)
	}
	m.redo = nil
}

// discard drops all history when the graph's state is replaced wholesale;
// the recorded commands no longer apply to it.
func (m *Manager) discard(ev ir.Event) error {
	if m.applying.Load() > 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo, m.redo = nil, nil
	for _, b := range m.batches {
		b.commands = nil
	}
	m.logger.Debug("undo history cleared", "event_type", ev.Type)
	return nil
}

// Undo reverts the most recent command and moves it to the redo stack. If
// the command fails it stays on the undo stack.
func (m *Manager) Undo() error {
	m.mu.Lock()
	if len(m.batches) > 0 {
		m.mu.Unlock()
		return ErrBatchOpen
	}
	if len(m.undo) == 0 {
		m.mu.Unlock()
		return ErrNothingToUndo
	}
	cmd := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.mu.Unlock()

	if err := m.apply(cmd.Undo); err != nil {
		m.mu.Lock()
		m.undo = append(m.undo, cmd)
		m.mu.Unlock()
		return fmt.Errorf("undo %s: %w", cmd.Label(), err)
	}

	m.mu.Lock()
	m.redo = append(m.redo, cmd)
	m.mu.Unlock()
	m.logger.Debug("undo", "label", cmd.Label())
	return nil
}

// Redo re-executes the most recently undone command.
func (m *Manager) Redo() error {
	m.mu.Lock()
	if len(m.batches) > 0 {
		m.mu.Unlock()
		return ErrBatchOpen
	}
	if len(m.redo) == 0 {
		m.mu.Unlock()
		return ErrNothingToRedo
	}
	cmd := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.mu.Unlock()

	if err := m.apply(cmd.Execute); err != nil {
		m.mu.Lock()
		m.redo = append(m.redo, cmd)
		m.mu.Unlock()
		return fmt.Errorf("redo %s: %w", cmd.Label(), err)
	}

	m.mu.Lock()
	m.undo = append(m.undo, cmd)
	m.mu.Unlock()
	m.logger.Debug("redo", "label", cmd.Label())
	return nil
}

func (m *Manager) apply(fn func() error) error {
	m.applying.Add(1)
	defer m.applying.Add(-1)
	return fn()
}

// CanUndo reports whether Undo has something to revert.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0 && len(m.batches) == 0
}

// CanRedo reports whether Redo has something to re-execute.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0 && len(m.batches) == 0
}

// UndoLabel returns the label of the command Undo would revert.
func (m *Manager) UndoLabel() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undo) == 0 {
		return "", false
	}
	return m.undo[len(m.undo)-1].Label(), true
}

// RedoLabel returns the label of the command Redo would re-execute.
func (m *Manager) RedoLabel() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.redo) == 0 {
		return "", false
	}
	return m.redo[len(m.redo)-1].Label(), true
}

// Sizes returns the depth of the undo and redo stacks.
func (m *Manager) Sizes() (undo, redo int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo), len(m.redo)
}

// Clear empties both stacks. Open batches stay open.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo, m.redo = nil, nil
}

// BeginBatch opens a batch. Until the matching EndBatch, recorded commands
// join the batch instead of the undo stack. Batches nest.
func (m *Manager) BeginBatch(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, &Batch{label: label})
}

// EndBatch closes the innermost batch. A nested batch folds its commands
// into its parent; an outermost non-empty batch becomes one undo step.
// Empty batches leave no trace.
func (m *Manager) EndBatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.popBatch()
	if err != nil {
		return err
	}
	if len(b.commands) == 0 {
		return nil
	}
	if n := len(m.batches); n > 0 {
		parent := m.batches[n-1]
		parent.commands = append(parent.commands, b.commands...)
		return nil
	}
	m.push(b)
	return nil
}

// popBatch must be called with the lock held.
func (m *Manager) popBatch() (*Batch, error) {
	n := len(m.batches)
	if n == 0 {
		return nil, ErrNoBatch
	}
	b := m.batches[n-1]
	m.batches = m.batches[:n-1]
	return b, nil
}

// Transaction runs fn inside a batch. If fn fails, the mutations it made
// are undone and nothing is recorded; the returned error includes any
// rollback failure.
func (m *Manager) Transaction(label string, fn func() error) error {
	m.BeginBatch(label)
	fnErr := fn()
	if fnErr == nil {
		return m.EndBatch()
	}

	m.mu.Lock()
	b, err := m.popBatch()
	m.mu.Unlock()
	if err != nil {
		return errors.Join(fnErr, err)
	}
	if rbErr := m.apply(b.Undo); rbErr != nil {
		m.logger.Error("transaction rollback failed", "label", label, "error", rbErr)
		return errors.Join(fnErr, fmt.Errorf("rollback: %w", rbErr))
	}
	m.logger.Debug("transaction rolled back", "label", label, "commands", b.Len())
	return fnErr
}
