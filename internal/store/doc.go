// Package store provides SQLite-backed durable storage for strata.
//
// The store is a reference adapter for the serialization contract. It keeps:
//   - Events: the append-only event log, one canonical JSON envelope per row
//   - Versions: archived immutable versions with their canonical snapshots
//   - Version records: every entity and relation of a version, indexed for
//     SQL-side predicate lookup (see FindEntities)
//   - Branches: the latest state of each branch
//
// # Ordering
//
// Every query includes ORDER BY <position> ASC, id ASC COLLATE BINARY.
// Positions are logical counters assigned on insert, never timestamps, so
// reads are identical across runs.
//
// # Idempotency
//
// Writing an event or version whose id already exists is a no-op when the
// stored content is identical and an error when it differs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
