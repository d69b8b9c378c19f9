package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dossierline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound is domain.ErrNotFound so callers above the repo match one sentinel.
var ErrNotFound = domain.ErrNotFound

// ReadSnapshot returns the stored payload. ErrNotFound when nothing was ever written.
func (r Repo) ReadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	var s domain.Snapshot
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json,revision,updated_at FROM store_snapshots WHERE id=1`).
		Scan(&payload, &s.Revision, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	s.Payload = []byte(payload)
	return s, nil
}

// WriteSnapshotTx replaces the payload if the stored revision still equals
// expected (0 meaning no snapshot yet) and returns the new revision.
func (r Repo) WriteSnapshotTx(ctx context.Context, tx *sql.Tx, payload []byte, expected int64, now string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = tx.ExecContext(ctx, `INSERT INTO store_snapshots(id,payload_json,revision,updated_at) VALUES (1,?,1,?) ON CONFLICT(id) DO NOTHING`,
			string(payload), now)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE store_snapshots SET payload_json=?, revision=revision+1, updated_at=? WHERE id=1 AND revision=?`,
			string(payload), now, expected)
	}
	if err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: store revision %d is stale", domain.ErrConflict, expected)
	}
	return expected + 1, nil
}

// BackupSnapshotTx keeps a copy of a payload before it is overwritten.
func (r Repo) BackupSnapshotTx(ctx context.Context, tx *sql.Tx, snap domain.Snapshot, reason, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO store_backups(revision,reason,payload_json,created_at) VALUES (?,?,?,?)`,
		snap.Revision, reason, string(snap.Payload), now)
	if err != nil {
		return fmt.Errorf("backup snapshot: %w", err)
	}
	return nil
}

func (r Repo) ListBackups(ctx context.Context) ([]domain.Backup, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,revision,reason,LENGTH(payload_json),created_at FROM store_backups ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Backup
	for rows.Next() {
		var b domain.Backup
		if err := rows.Scan(&b.ID, &b.Revision, &b.Reason, &b.Size, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// GetBackup returns a backed-up payload.
func (r Repo) GetBackup(ctx context.Context, id int64) (domain.Backup, []byte, error) {
	var b domain.Backup
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT id,revision,reason,LENGTH(payload_json),created_at,payload_json FROM store_backups WHERE id=?`, id).
		Scan(&b.ID, &b.Revision, &b.Reason, &b.Size, &b.CreatedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Backup{}, nil, fmt.Errorf("backup %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Backup{}, nil, err
	}
	return b, []byte(payload), nil
}

// EventFilter narrows event listings. Zero fields match everything.
type EventFilter struct {
	SessionID  string
	Type       string
	EntityKind string
	EntityID   string
}

func (f EventFilter) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	add := func(col, v string) {
		if v != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, v)
		}
	}
	add("session_id", f.SessionID)
	add("type", f.Type)
	add("entity_kind", f.EntityKind)
	add("entity_id", f.EntityID)
	return clauses, args
}

// LatestEvents lists events newest first, strictly before cursor when it is set.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	return r.queryEvents(ctx, clauses, args, "DESC", limit)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	return r.queryEvents(ctx, clauses, args, "ASC", limit)
}

func (r Repo) queryEvents(ctx context.Context, clauses []string, args []any, order string, limit int) ([]domain.Event, error) {
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(session_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id %s LIMIT ?`,
		strings.Join(clauses, " AND "), order)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally within one session.
func (r Repo) LatestEventID(ctx context.Context, sessionID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id=?`
		args = append(args, sessionID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
