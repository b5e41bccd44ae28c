package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/querysql"
)

// ReadEvents returns the whole event log in log order.
//
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ReadEvents(ctx context.Context) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM events
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEvents(rows)
}

// ReadEventsUntil returns the events at log positions up to and including
// seq, in log order.
func (s *Store) ReadEventsUntil(ctx context.Context, seq int64) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM events
		WHERE seq <= ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("query events until %d: %w", seq, err)
	}
	return scanEvents(rows)
}

// ReadReplayableEvents returns the log restricted to events replay would
// consider: graph.* events that were not marked non-replayable.
func (s *Store) ReadReplayableEvents(ctx context.Context) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM events
		WHERE replayable = 1 AND type LIKE 'graph.%'
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query replayable events: %w", err)
	}
	return scanEvents(rows)
}

// LastSeq returns the highest log position, or 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

func scanEvents(rows *sql.Rows) ([]ir.Event, error) {
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := unmarshalEvent(body)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

const versionColumns = `id, parent_id, branch_id, timestamp, metadata, checksum, snapshot`

// ReadVersion retrieves a single version by id.
// Returns a NOT_FOUND error if it is not stored.
func (s *Store) ReadVersion(ctx context.Context, id string) (ir.Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE id = ?
	`, id)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Version{}, ir.NewNotFoundError(ir.KindVersion, id)
	}
	if err != nil {
		return ir.Version{}, fmt.Errorf("read version %s: %w", id, err)
	}
	return v, nil
}

// ReadVersions returns every stored version in the order they were
// written. Parents always precede their children.
func (s *Store) ReadVersions(ctx context.Context) ([]ir.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		ORDER BY position ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	versions := []ir.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (ir.Version, error) {
	var (
		id, branchID, ts, metaJSON, checksum, snapshot string
		parent                                         sql.NullString
	)
	if err := row.Scan(&id, &parent, &branchID, &ts, &metaJSON, &checksum, &snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Version{}, err
		}
		return ir.Version{}, fmt.Errorf("scan version: %w", err)
	}

	timestamp, err := parseTime(ts)
	if err != nil {
		return ir.Version{}, fmt.Errorf("version %s: %w", id, err)
	}
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return ir.Version{}, fmt.Errorf("version %s: %w", id, err)
	}
	frozen, err := unmarshalSnapshot(snapshot, checksum)
	if err != nil {
		return ir.Version{}, fmt.Errorf("version %s: %w", id, err)
	}
	return ir.NewVersion(id, parent.String, branchID, timestamp, meta, frozen), nil
}

// ReadBranches returns every stored branch in the order it was first
// written.
func (s *Store) ReadBranches(ctx context.Context) ([]ir.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, from_version_id, created_at
		FROM branches
		ORDER BY rowid ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query branches: %w", err)
	}
	defer rows.Close()

	branches := []ir.Branch{}
	for rows.Next() {
		var b ir.Branch
		var created string
		if err := rows.Scan(&b.ID, &b.Name, &b.FromVersionID, &created); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		if b.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("branch %s: %w", b.ID, err)
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return branches, nil
}

// FindEntities returns the entities of a stored version that satisfy pred,
// in snapshot order. A nil pred matches every entity.
func (s *Store) FindEntities(ctx context.Context, versionID string, pred query.Predicate) ([]ir.Record, error) {
	return s.findRecords(ctx, versionID, ir.KindEntity, pred)
}

// FindRelations is FindEntities for relations.
func (s *Store) FindRelations(ctx context.Context, versionID string, pred query.Predicate) ([]ir.Record, error) {
	return s.findRecords(ctx, versionID, ir.KindRelation, pred)
}

// findRecords compiles pred to SQL. Predicates SQLite cannot evaluate
// (regular expressions, Go functions) are evaluated in memory over the
// version's records instead.
func (s *Store) findRecords(ctx context.Context, versionID string, kind ir.Kind, pred query.Predicate) ([]ir.Record, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE id = ?`, versionID).Scan(&found)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", kind, err)
	}
	if found == 0 {
		return nil, ir.NewNotFoundError(ir.KindVersion, versionID)
	}
	if pred != nil {
		if err := query.ValidatePredicate(pred); err != nil {
			return nil, fmt.Errorf("find %s: %w", kind, err)
		}
	}

	sel := querysql.Select{
		Table:   "version_records",
		Columns: []string{"body"},
		Scope:   map[string]any{"version_id": versionID, "kind": string(kind)},
		Filter:  pred,
		OrderBy: "position",
	}
	inMemory := false
	sqlText, params, err := querysql.NewSQLCompiler().Compile(sel)
	if errors.Is(err, querysql.ErrUnsupported) {
		s.logger.Debug("predicate evaluated in memory", "version_id", versionID, "predicate", pred.String())
		sel.Filter = nil
		inMemory = true
		sqlText, params, err = querysql.NewSQLCompiler().Compile(sel)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", kind, err)
	}

	rows, err := s.Query(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", kind, err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		r, err := unmarshalRecord(body)
		if err != nil {
			return nil, err
		}
		if inMemory && !pred.Eval(r) {
			continue
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return records, nil
}
