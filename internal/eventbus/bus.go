package eventbus

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/strata/internal/ident"
	"github.com/roach88/strata/internal/ir"
)

// Listener receives events. A returned error is logged by the bus; it never
// reaches the emitter.
type Listener func(ev ir.Event) error

// Bus is a synchronous event bus with an append-only history.
//
// Thread-safety: Subscribe, Emit and History may be called from any
// goroutine. Listeners run on the emitting goroutine, outside the bus lock,
// so a listener may emit or subscribe without deadlocking.
type Bus struct {
	mu      sync.Mutex
	subs    []*subscription
	nextSub int
	history []ir.Event

	clock  *Clock
	ids    ident.Generator
	now    func() time.Time
	source string
	logger *slog.Logger

	traceID       string
	correlationID string
}

type subscription struct {
	id       int
	pattern  string
	listener Listener
	active   bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithIDGenerator sets the generator for event, trace and correlation ids.
// Default: UUIDv7.
func WithIDGenerator(g ident.Generator) Option {
	return func(b *Bus) { b.ids = g }
}

// WithNow sets the wall clock used for meta.timestamp.
func WithNow(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithSource sets the default meta.source for emitted events.
func WithSource(source string) Option {
	return func(b *Bus) { b.source = source }
}

// WithLogger sets the logger used to report listener failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a bus with an empty history.
func New(opts ...Option) *Bus {
	b := &Bus{
		clock:  NewClock(),
		ids:    ident.UUIDv7Generator{},
		now:    time.Now,
		source: "strata",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.traceID = b.ids.Generate()
	b.correlationID = b.ids.Generate()
	return b
}

// Subscribe registers l for every event type matching pattern and returns a
// function that removes the subscription. Calling it more than once is a no-op.
func (b *Bus) Subscribe(pattern string, l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := &subscription{id: b.nextSub, pattern: pattern, listener: l, active: true}
	b.subs = append(b.subs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !sub.active {
			return
		}
		sub.active = false
		b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s.id == sub.id })
	}
}

// EmitOption adjusts a single emitted event.
type EmitOption func(*ir.Event)

// WithActor sets the event actor. Default: ir.SystemActor.
func WithActor(actor ir.Actor) EmitOption {
	return func(e *ir.Event) { e.Actor = actor }
}

// WithEventSource overrides meta.source for one event.
func WithEventSource(source string) EmitOption {
	return func(e *ir.Event) { e.Meta.Source = source }
}

// WithCorrelationID overrides meta.correlationId for one event.
func WithCorrelationID(id string) EmitOption {
	return func(e *ir.Event) { e.Meta.CorrelationID = id }
}

// NotReplayable marks the event as excluded from replay.
func NotReplayable() EmitOption {
	return func(e *ir.Event) { e.Replayable = ir.Bool(false) }
}

// Emit builds an envelope for eventType around data, appends it to the
// history and notifies matching listeners. The returned event is a copy.
//
// data is deep-copied; values that are not JSON-compatible are rejected
// with an error before anything is recorded.
func (b *Bus) Emit(eventType string, data map[string]any, opts ...EmitOption) (ir.Event, error) {
	payload, err := ir.Normalize(map[string]any(data))
	if err != nil {
		return ir.Event{}, fmt.Errorf("emit %s: %w", eventType, err)
	}

	b.mu.Lock()
	ev := ir.Event{
		SpecVersion: ir.SpecVersion,
		ID:          b.ids.Generate(),
		Type:        eventType,
		Meta: ir.EventMeta{
			Timestamp:     b.now().UTC(),
			Source:        b.source,
			TraceID:       b.traceID,
			CorrelationID: b.correlationID,
			Seq:           b.clock.Next(),
		},
		Actor: ir.SystemActor,
		Data:  ir.Payload(payload.(map[string]any)),
	}
	for _, opt := range opts {
		opt(&ev)
	}
	b.history = append(b.history, ev.Clone())

	var targets []*subscription
	for _, sub := range b.subs {
		if Match(sub.pattern, eventType) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if !b.isActive(sub) {
			continue
		}
		b.notify(sub, ev.Clone())
	}
	return ev.Clone(), nil
}

// MustEmit is like Emit but panics on a non JSON-compatible payload.
// Use only for payloads built from already-normalized values.
func (b *Bus) MustEmit(eventType string, data map[string]any, opts ...EmitOption) ir.Event {
	ev, err := b.Emit(eventType, data, opts...)
	if err != nil {
		panic(err)
	}
	return ev
}

func (b *Bus) isActive(sub *subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sub.active
}

func (b *Bus) notify(sub *subscription, ev ir.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				"event_id", ev.ID,
				"event_type", ev.Type,
				"pattern", sub.pattern,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if err := sub.listener(ev); err != nil {
		b.logger.Error("event listener failed",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"pattern", sub.pattern,
			"error", err,
		)
	}
}

// History returns a copy of every event emitted since creation or the last
// Reset, in emission order.
func (b *Bus) History() []ir.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ir.Event, len(b.history))
	for i, ev := range b.history {
		out[i] = ev.Clone()
	}
	return out
}

// Len returns the number of events in the history.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}

// TraceID returns the current trace id.
func (b *Bus) TraceID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.traceID
}

// Reset clears the history, restarts the logical clock and begins a new
// trace with fresh trace and correlation ids. Subscriptions are kept.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
	b.clock.reset()
	b.traceID = b.ids.Generate()
	b.correlationID = b.ids.Generate()
}
