// Package ir provides the foundational data types shared by every strata
// package: records, snapshots, event envelopes, versions, branches and the
// error taxonomy.
//
// All other internal packages import ir; ir imports nothing internal. This
// keeps ir the foundational layer with no circular dependencies.
//
// Key constraints:
//   - Records hold JSON-compatible values only (see Normalize)
//   - Numbers are int64 when integral on input, float64 otherwise
//   - Top-level null fields are never stored on a record
//   - Canonical JSON (RFC 8785) is the only encoding used for checksums
package ir
