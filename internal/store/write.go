package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/strata/internal/ir"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WriteEvent appends an event to the log and returns its log position.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency: writing the same event
// twice returns the original position. A different event reusing an
// existing id is rejected with DUPLICATE_ID.
//
// The envelope is serialized to canonical JSON per RFC 8785.
func (s *Store) WriteEvent(ctx context.Context, ev ir.Event) (int64, error) {
	seq, err := writeEvent(ctx, s.db, ev)
	if err != nil {
		return 0, fmt.Errorf("write event: %w", err)
	}
	return seq, nil
}

// WriteEvents appends events in order inside one transaction. Either all
// of them are written or none.
func (s *Store) WriteEvents(ctx context.Context, events []ir.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, ev := range events {
		if _, err := writeEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("write events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write events: commit: %w", err)
	}
	return nil
}

func writeEvent(ctx context.Context, db execer, ev ir.Event) (int64, error) {
	if ev.ID == "" {
		return 0, fmt.Errorf("event has no id")
	}
	body, digest, err := marshalEvent(ev)
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO events
		(id, type, timestamp, replayable, digest, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		ev.Type,
		formatTime(ev.Meta.Timestamp),
		ev.IsReplayable(),
		digest,
		body,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", ev.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected > 0 {
		seq, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		return seq, nil
	}

	// Conflict: the id exists. Same content is a replayed write.
	var seq int64
	var existing string
	err = db.QueryRowContext(ctx, `
		SELECT seq, digest FROM events WHERE id = ?
	`, ev.ID).Scan(&seq, &existing)
	if err != nil {
		return 0, fmt.Errorf("select existing event %s: %w", ev.ID, err)
	}
	if existing != digest {
		return 0, &ir.Error{Code: ir.CodeDuplicateID, ID: ev.ID, Message: "a different event with this id is already stored"}
	}
	return seq, nil
}

// WriteVersion archives a version and indexes its records.
//
// Idempotent like WriteEvent: rewriting a stored version with the same
// checksum is a no-op; a different version with a stored id is rejected
// with DUPLICATE_ID. The parent, if any, must already be stored.
func (s *Store) WriteVersion(ctx context.Context, v ir.Version) error {
	metaJSON, err := marshalMetadata(v.Metadata)
	if err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write version: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT checksum FROM versions WHERE id = ?`, v.ID).Scan(&existing)
	switch {
	case err == nil:
		if existing != v.Checksum() {
			return fmt.Errorf("write version: %w", ir.NewDuplicateIDError(ir.KindVersion, v.ID))
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("write version: select existing: %w", err)
	}

	var parent any
	if !v.IsRoot() {
		var found int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE id = ?`, v.ParentID).Scan(&found)
		if err != nil {
			return fmt.Errorf("write version: check parent: %w", err)
		}
		if found == 0 {
			return fmt.Errorf("write version %s parent: %w", v.ID, ir.NewNotFoundError(ir.KindVersion, v.ParentID))
		}
		parent = v.ParentID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions
		(id, parent_id, branch_id, timestamp, metadata, checksum, snapshot, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM versions))
	`,
		v.ID,
		parent,
		v.BranchID,
		formatTime(v.Timestamp),
		metaJSON,
		v.Checksum(),
		string(v.Frozen().Canonical()),
	)
	if err != nil {
		return fmt.Errorf("write version: insert: %w", err)
	}

	snap := v.Snapshot()
	if err := writeRecords(ctx, tx, v.ID, ir.KindEntity, snap.Entities); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := writeRecords(ctx, tx, v.ID, ir.KindRelation, snap.Relations); err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write version: commit: %w", err)
	}
	s.logger.Debug("version archived", "version_id", v.ID, "checksum", v.Checksum())
	return nil
}

func writeRecords(ctx context.Context, tx *sql.Tx, versionID string, kind ir.Kind, records []ir.Record) error {
	for i, r := range records {
		body, err := marshalRecord(r)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO version_records
			(version_id, kind, id, type, position, body)
			VALUES (?, ?, ?, ?, ?, ?)
		`, versionID, string(kind), r.ID(), r.Type(), i, body)
		if err != nil {
			return fmt.Errorf("insert %s %s: %w", kind, r.ID(), err)
		}
	}
	return nil
}

// WriteBranch inserts or updates a branch.
func (s *Store) WriteBranch(ctx context.Context, b ir.Branch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches
		(id, name, from_version_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			from_version_id = excluded.from_version_id
	`,
		b.ID,
		b.Name,
		b.FromVersionID,
		formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write branch: %w", err)
	}
	return nil
}
