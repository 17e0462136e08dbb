package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unc-platform/tc-core/internal/database/postgres"
)

// ErrSessionNotFound is returned by Get when no tc_session row exists for
// the given session id.
var ErrSessionNotFound = errors.New("tc_session: not found")

// SessionRecord mirrors the tc_session table row (§6): the only
// configuration-adjacent state the coordinator itself owns.
type SessionRecord struct {
	SessionID  uint32
	OpClass    uint8
	ConfigID   uint32
	AcquiredAt uint64
}

// SessionStore persists tc_session rows through a PostgresPool. It is the
// durability half of the Lock Manager's commit discipline: on acquire, LM
// only commits its in-memory state after a write here succeeds (§7, "LM
// commits memory state only after the DAL write succeeds"). On release the
// in-memory state is cleared even when Delete fails.
type SessionStore struct {
	pool *postgres.PostgresPool
}

// NewSessionStore wraps an already-connected PostgresPool.
func NewSessionStore(pool *postgres.PostgresPool) *SessionStore {
	return &SessionStore{pool: pool}
}

// schema is applied directly with embedded SQL rather than a migration
// framework: there is exactly one TC-owned table and no schema evolution
// (Non-goals, spec.md §1/§9).
const schema = `
CREATE TABLE IF NOT EXISTS tc_session (
	session_id  BIGINT PRIMARY KEY,
	op_class    SMALLINT NOT NULL,
	config_id   BIGINT NOT NULL DEFAULT 0,
	acquired_at BIGINT NOT NULL
)`

// EnsureSchema creates the tc_session table if it does not already exist.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure tc_session schema: %w", err)
	}
	return nil
}

// Upsert writes or replaces the row for a session's current lock state.
func (s *SessionStore) Upsert(ctx context.Context, rec SessionRecord) error {
	const q = `
INSERT INTO tc_session (session_id, op_class, config_id, acquired_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO UPDATE SET
	op_class = EXCLUDED.op_class,
	config_id = EXCLUDED.config_id,
	acquired_at = EXCLUDED.acquired_at`

	if _, err := s.pool.Exec(ctx, q, rec.SessionID, rec.OpClass, rec.ConfigID, rec.AcquiredAt); err != nil {
		return fmt.Errorf("upsert tc_session row: %w", err)
	}
	return nil
}

// Delete removes a session's row on release.
func (s *SessionStore) Delete(ctx context.Context, sessionID uint32) error {
	const q = `DELETE FROM tc_session WHERE session_id = $1`
	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("delete tc_session row: %w", err)
	}
	return nil
}

// Get returns a session's persisted row.
func (s *SessionStore) Get(ctx context.Context, sessionID uint32) (SessionRecord, error) {
	const q = `SELECT session_id, op_class, config_id, acquired_at FROM tc_session WHERE session_id = $1`

	row := s.pool.QueryRow(ctx, q, sessionID)

	var rec SessionRecord
	if err := row.Scan(&rec.SessionID, &rec.OpClass, &rec.ConfigID, &rec.AcquiredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRecord{}, ErrSessionNotFound
		}
		return SessionRecord{}, fmt.Errorf("get tc_session row: %w", err)
	}
	return rec, nil
}

// List returns every persisted session row. tcd does not call it at
// startup; a restarted Lock Manager begins with a clean lock state.
func (s *SessionStore) List(ctx context.Context) ([]SessionRecord, error) {
	const q = `SELECT session_id, op_class, config_id, acquired_at FROM tc_session`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tc_session rows: %w", err)
	}
	defer rows.Close()

	var recs []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.OpClass, &rec.ConfigID, &rec.AcquiredAt); err != nil {
			return nil, fmt.Errorf("scan tc_session row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tc_session rows: %w", err)
	}
	return recs, nil
}

// NowUnix is a small seam so callers can stamp AcquiredAt without importing
// time directly into lock-manager code that otherwise has no time
// dependency.
func NowUnix() uint64 {
	return uint64(time.Now().Unix())
}
