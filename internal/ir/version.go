package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// VersionMetadata is the descriptive part of a version.
type VersionMetadata struct {
	Author  string   `json:"author"`
	Message string   `json:"message"`
	Tags    []string `json:"tags"`
}

// Clone returns a copy with its own tag slice. Nil tags become empty.
func (m VersionMetadata) Clone() VersionMetadata {
	out := m
	out.Tags = slices.Clone(m.Tags)
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

// Version is an immutable, named snapshot of graph state with a parent
// link. The snapshot is frozen; Snapshot returns a fresh copy each call.
type Version struct {
	ID        string
	ParentID  string // empty for a root version
	Timestamp time.Time
	Metadata  VersionMetadata
	BranchID  string

	snapshot FrozenSnapshot
}

// NewVersion assembles a version around an already frozen snapshot.
func NewVersion(id, parentID, branchID string, ts time.Time, meta VersionMetadata, snap FrozenSnapshot) Version {
	return Version{
		ID:        id,
		ParentID:  parentID,
		Timestamp: ts,
		Metadata:  meta.Clone(),
		BranchID:  branchID,
		snapshot:  snap,
	}
}

// Snapshot returns an independent copy of the stored state.
func (v Version) Snapshot() Snapshot { return v.snapshot.Thaw() }

// Frozen returns the frozen snapshot.
func (v Version) Frozen() FrozenSnapshot { return v.snapshot }

// Checksum returns the snapshot checksum.
func (v Version) Checksum() string { return v.snapshot.checksum }

// IsRoot reports whether the version has no parent.
func (v Version) IsRoot() bool { return v.ParentID == "" }

// Clone returns a copy that shares only the immutable snapshot.
func (v Version) Clone() Version {
	out := v
	out.Metadata = v.Metadata.Clone()
	return out
}

type versionJSON struct {
	ID        string          `json:"id"`
	ParentID  *string         `json:"parentId"`
	Timestamp time.Time       `json:"timestamp"`
	Snapshot  Snapshot        `json:"snapshot"`
	Metadata  VersionMetadata `json:"metadata"`
	BranchID  string          `json:"branchId"`
}

// MarshalJSON writes the version export format.
func (v Version) MarshalJSON() ([]byte, error) {
	out := versionJSON{
		ID:        v.ID,
		Timestamp: v.Timestamp,
		Snapshot:  v.Snapshot(),
		Metadata:  v.Metadata.Clone(),
		BranchID:  v.BranchID,
	}
	if v.ParentID != "" {
		parent := v.ParentID
		out.ParentID = &parent
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the version export format and freezes the snapshot.
func (v *Version) UnmarshalJSON(data []byte) error {
	var in versionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	frozen, err := Freeze(in.Snapshot)
	if err != nil {
		return fmt.Errorf("version %s: %w", in.ID, err)
	}
	parent := ""
	if in.ParentID != nil {
		parent = *in.ParentID
	}
	*v = NewVersion(in.ID, parent, in.BranchID, in.Timestamp, in.Metadata, frozen)
	return nil
}

// Branch is a named pointer into the version DAG.
type Branch struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	FromVersionID string    `json:"fromVersionId"`
	CreatedAt     time.Time `json:"createdAt"`
}
