package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/strata/internal/ir"
)

// timeLayout is used for every TEXT timestamp column.
const timeLayout = time.RFC3339Nano

// marshalEvent converts an event to canonical JSON TEXT and its digest.
// Uses RFC 8785 canonical JSON so identical events store identical bytes.
func marshalEvent(ev ir.Event) (body, digest string, err error) {
	data, err := ev.CanonicalJSON()
	if err != nil {
		return "", "", fmt.Errorf("marshal event: %w", err)
	}
	digest, err = ir.EventDigest(ev)
	if err != nil {
		return "", "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), digest, nil
}

// unmarshalEvent parses an event envelope. ir.Payload keeps integers exact.
func unmarshalEvent(body string) (ir.Event, error) {
	var ev ir.Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

// marshalRecord converts a record to canonical JSON TEXT.
func marshalRecord(r ir.Record) (string, error) {
	data, err := ir.MarshalCanonical(map[string]any(r))
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", r.ID(), err)
	}
	return string(data), nil
}

// unmarshalRecord parses a stored record body.
func unmarshalRecord(body string) (ir.Record, error) {
	var r ir.Record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

// marshalMetadata converts version metadata to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so messages are stored as
// written.
func marshalMetadata(meta ir.VersionMetadata) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(meta.Clone()); err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	// Encoder adds a trailing newline.
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalMetadata parses JSON TEXT to VersionMetadata.
func unmarshalMetadata(data string) (ir.VersionMetadata, error) {
	var meta ir.VersionMetadata
	if data == "" || data == "{}" {
		return meta.Clone(), nil
	}
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return ir.VersionMetadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta.Clone(), nil
}

// unmarshalSnapshot parses a canonical snapshot and refreezes it. The
// recomputed checksum must equal the stored one.
func unmarshalSnapshot(data, checksum string) (ir.FrozenSnapshot, error) {
	var snap ir.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return ir.FrozenSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	frozen, err := ir.Freeze(snap)
	if err != nil {
		return ir.FrozenSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if frozen.Checksum() != checksum {
		return ir.FrozenSnapshot{}, fmt.Errorf("snapshot checksum mismatch: stored %s, computed %s", checksum, frozen.Checksum())
	}
	return frozen, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
