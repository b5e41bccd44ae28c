package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content checksums. The version suffix allows the
// algorithm to change without colliding with old digests.
const (
	DomainSnapshot = "strata/snapshot/v1"
	DomainEvent    = "strata/event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null separator
// prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotChecksum returns the checksum of a snapshot's canonical encoding.
// Two graphs with identical serialized state have identical checksums.
func SnapshotChecksum(s Snapshot) (string, error) {
	f, err := Freeze(s)
	if err != nil {
		return "", fmt.Errorf("SnapshotChecksum: %w", err)
	}
	return f.checksum, nil
}

// EventDigest returns the checksum of an event's canonical encoding. The
// store uses it to detect a different event reusing an existing id.
func EventDigest(e Event) (string, error) {
	canonical, err := MarshalCanonical(e.canonicalValue())
	if err != nil {
		return "", fmt.Errorf("EventDigest: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustSnapshotChecksum is like SnapshotChecksum but panics on error.
// Use only in tests or when the snapshot is known to be valid.
func MustSnapshotChecksum(s Snapshot) string {
	sum, err := SnapshotChecksum(s)
	if err != nil {
		panic(err)
	}
	return sum
}
