// Package sqlite provides a SQLite-backed session store backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"mafiapanel/internal/domain"
	"mafiapanel/internal/store"
	"mafiapanel/internal/store/sqlite/migrations"

	_ "modernc.org/sqlite"
)

// Store persists sessions and tombstones in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Backend = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadSessions returns every stored session. Rows whose payload is not JSON
// load as empty sessions carrying only their id and timestamps.
func (s *Store) LoadSessions(ctx context.Context) ([]store.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, payload, sync_state, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var (
			id, payload, state   string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &payload, &state, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		// A mistyped field leaves the rest of the payload decoded; only
		// unparseable JSON falls back to an empty session.
		var session domain.Session
		var syntaxErr *json.SyntaxError
		if err := json.Unmarshal([]byte(payload), &session); errors.As(err, &syntaxErr) {
			session = domain.Session{}
		}
		session.ID = id
		if session.CreatedAt.IsZero() {
			session.CreatedAt = fromMillis(createdAt)
		}
		if session.UpdatedAt.IsZero() {
			session.UpdatedAt = fromMillis(updatedAt)
		}
		out = append(out, store.Record{Session: session, State: store.SyncState(state)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// SaveSession upserts one session.
func (s *Store) SaveSession(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(rec.Session.ID)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	payload, err := json.Marshal(rec.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, payload, sync_state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   payload = excluded.payload,
		   sync_state = excluded.sync_state,
		   updated_at = excluded.updated_at`,
		id,
		string(payload),
		string(rec.State),
		toMillis(rec.Session.CreatedAt),
		toMillis(rec.Session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DeleteSession removes one session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// LoadTombstones returns every stored tombstone.
func (s *Store) LoadTombstones(ctx context.Context) ([]domain.Tombstone, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, deleted_at FROM tombstones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	var out []domain.Tombstone
	for rows.Next() {
		var (
			id        string
			deletedAt int64
		)
		if err := rows.Scan(&id, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		out = append(out, domain.Tombstone{ID: id, DeletedAt: fromMillis(deletedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return out, nil
}

// SaveTombstone upserts one tombstone.
func (s *Store) SaveTombstone(ctx context.Context, t domain.Tombstone) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO tombstones (id, deleted_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		t.ID, toMillis(t.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("save tombstone: %w", err)
	}
	return nil
}

// DeleteTombstone removes one tombstone.
func (s *Store) DeleteTombstone(ctx context.Context, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM tombstones WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete tombstone: %w", err)
	}
	return nil
}
