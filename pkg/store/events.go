package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pushpals/pushpals/pkg/models"
)

// InsertEvent persists an envelope and returns its newly assigned cursor.
// Cursors are dense per session, starting at 1; the MAX+1 assignment and
// the insert run in one transaction so concurrent emitters cannot collide.
// The session row is created implicitly if missing.
func (s *Store) InsertEvent(ctx context.Context, env models.Envelope) (int64, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	var cursor int64
	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)`,
			env.SessionID, toMillis(time.Now()),
		); err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(cursor), 0) FROM events WHERE session_id = ?`,
			env.SessionID,
		).Scan(&cursor); err != nil {
			return fmt.Errorf("failed to read latest cursor: %w", err)
		}
		cursor++

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (session_id, cursor, event_id, ts, type, envelope)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			env.SessionID, cursor, env.ID, toMillis(env.TS), env.Type, raw,
		); err != nil {
			return fmt.Errorf("failed to persist event: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cursor, nil
}

// EventsAfter returns all events for a session with cursor > after, in
// cursor order. Rows whose stored envelope fails to decode are skipped
// with a log line; the store never attempts to repair them.
func (s *Store) EventsAfter(ctx context.Context, sessionID string, after int64) ([]models.BusEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cursor, envelope FROM events
		 WHERE session_id = ? AND cursor > ?
		 ORDER BY cursor ASC`,
		sessionID, after,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []models.BusEvent
	for rows.Next() {
		var cursor int64
		var raw []byte
		if err := rows.Scan(&cursor, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("Skipping corrupt event row",
				"session_id", sessionID, "cursor", cursor, "error", err)
			continue
		}
		out = append(out, models.BusEvent{Envelope: env, Cursor: cursor})
	}
	return out, rows.Err()
}

// LatestCursor returns the highest cursor for a session, 0 if none.
func (s *Store) LatestCursor(ctx context.Context, sessionID string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(cursor), 0) FROM events WHERE session_id = ?`,
		sessionID,
	).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest cursor: %w", err)
	}
	return cursor, nil
}

// CreateSession inserts a session row if absent. Returns true when the
// session was newly created.
func (s *Store) CreateSession(ctx context.Context, sessionID string) (bool, error) {
	created := false
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)`,
			sessionID, toMillis(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		created = n > 0
		return nil
	})
	return created, err
}

// SessionInfo is a store-level session listing row.
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LatestCursor int64     `json:"latestCursor"`
}

// ListSessions returns every known session with its latest cursor.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.created_at, COALESCE(MAX(e.cursor), 0)
		 FROM sessions s
		 LEFT JOIN events e ON e.session_id = s.id
		 GROUP BY s.id, s.created_at
		 ORDER BY s.created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var createdMs int64
		if err := rows.Scan(&info.SessionID, &createdMs, &info.LatestCursor); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		info.CreatedAt = fromMillis(createdMs)
		out = append(out, info)
	}
	return out, rows.Err()
}

// SessionExists reports whether a session row exists.
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = ?`, sessionID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query session: %w", err)
	}
	return true, nil
}
