package ir

import (
	"time"
)

// SpecVersion is the event envelope version written on every event.
const SpecVersion = "1.0"

// Event is the immutable envelope every bus notification travels in. The
// JSON shape is a stable contract shared with storage and external tools.
type Event struct {
	SpecVersion string    `json:"specVersion"`
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Meta        EventMeta `json:"meta"`
	Actor       Actor     `json:"actor"`
	Data        Payload   `json:"data"`

	// Replayable is nil unless the emitter opted out; see IsReplayable.
	Replayable *bool `json:"replayable,omitempty"`
}

// EventMeta carries provenance for an event.
type EventMeta struct {
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	TraceID       string    `json:"traceId"`
	CorrelationID string    `json:"correlationId"`

	// Seq is the bus-local logical clock value; strictly increasing.
	Seq int64 `json:"seq"`
}

// Actor identifies who caused an event.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Default actor for events raised without an explicit actor.
var SystemActor = Actor{Type: "system", ID: "local"}

// IsReplayable reports whether replay should consider the event. Events are
// replayable unless the flag is explicitly false.
func (e Event) IsReplayable() bool {
	return e.Replayable == nil || *e.Replayable
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	out.Data = e.Data.Clone()
	if e.Replayable != nil {
		v := *e.Replayable
		out.Replayable = &v
	}
	return out
}

func (e Event) canonicalValue() map[string]any {
	m := map[string]any{
		"specVersion": e.SpecVersion,
		"id":          e.ID,
		"type":        e.Type,
		"meta": map[string]any{
			"timestamp":     e.Meta.Timestamp.UTC().Format(time.RFC3339Nano),
			"source":        e.Meta.Source,
			"traceId":       e.Meta.TraceID,
			"correlationId": e.Meta.CorrelationID,
			"seq":           e.Meta.Seq,
		},
		"actor": map[string]any{"type": e.Actor.Type, "id": e.Actor.ID},
		"data":  map[string]any(e.Data),
	}
	if e.Data == nil {
		m["data"] = map[string]any{}
	}
	if e.Replayable != nil {
		m["replayable"] = *e.Replayable
	}
	return m
}

// CanonicalJSON returns the canonical encoding of the event.
func (e Event) CanonicalJSON() ([]byte, error) {
	return MarshalCanonical(e.canonicalValue())
}

// Bool returns a pointer to b, for optional flags such as Replayable.
func Bool(b bool) *bool { return &b }
