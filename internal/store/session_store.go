package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/bizagent/internal/domain"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// SQLiteSessionStore implements agent.SessionStore backed by SQLite.
type SQLiteSessionStore struct {
	db         *DB
	maxHistory int
	now        func() time.Time
}

// NewSQLiteSessionStore creates a session store keeping at most maxHistory
// entries per user.
func NewSQLiteSessionStore(db *DB, maxHistory int) *SQLiteSessionStore {
	if maxHistory <= 0 {
		maxHistory = domain.MaxHistoryLength
	}
	return &SQLiteSessionStore{db: db, maxHistory: maxHistory, now: time.Now}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteSessionStore) ensure(ctx context.Context, ex execer, userID string, now time.Time) error {
	ts := formatTime(now)
	_, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (user_id, metadata, created_at, last_activity) VALUES (?, '{}', ?, ?)`,
		userID, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("creating session %s: %w", userID, err)
	}
	return nil
}

// Create returns the user's session, creating it if needed.
func (s *SQLiteSessionStore) Create(ctx context.Context, userID string) (*domain.Session, error) {
	if err := s.ensure(ctx, s.db.sql, userID, s.now()); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

// Get returns a session with its history, or nil if not found.
func (s *SQLiteSessionStore) Get(ctx context.Context, userID string) (*domain.Session, error) {
	var (
		sess                 = domain.Session{UserID: userID}
		meta, created, activ string
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT metadata, created_at, last_activity FROM sessions WHERE user_id = ?`, userID,
	).Scan(&meta, &created, &activ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", userID, err)
	}

	sess.CreatedAt = parseTime(created)
	sess.LastActivity = parseTime(activ)
	sess.Metadata = map[string]any{}
	if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
		s.db.log.Warn().Err(err).Str("userId", userID).Msg("corrupt session metadata")
	}

	sess.History, err = s.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// History returns the stored entries oldest first.
func (s *SQLiteSessionStore) History(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT role, content, timestamp FROM history WHERE user_id = ? ORDER BY id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history %s: %w", userID, err)
	}
	defer rows.Close()

	out := []domain.HistoryEntry{}
	for rows.Next() {
		var (
			e  domain.HistoryEntry
			ts string
		)
		if err := rows.Scan(&e.Role, &e.Content, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendExchange stores both turns and trims the oldest entries beyond the cap
// in one transaction.
func (s *SQLiteSessionStore) AppendExchange(ctx context.Context, userID, userText, assistantText string) error {
	now := s.now()
	ts := formatTime(now)

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.ensure(ctx, tx, userID, now); err != nil {
		return err
	}
	for _, e := range []struct{ role, content string }{
		{domain.RoleUser, userText},
		{domain.RoleAssistant, assistantText},
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (user_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			userID, e.role, e.content, ts,
		); err != nil {
			return fmt.Errorf("appending history: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE user_id = ? AND id NOT IN (
			SELECT id FROM history WHERE user_id = ? ORDER BY id DESC LIMIT ?
		)`, userID, userID, s.maxHistory,
	); err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE user_id = ?`, ts, userID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Clear removes every history entry of the user.
func (s *SQLiteSessionStore) Clear(ctx context.Context, userID string) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE user_id = ?`, formatTime(s.now()), userID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the session and, by cascade, its history.
func (s *SQLiteSessionStore) Delete(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("deleting session %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns all sessions, most recent activity first.
func (s *SQLiteSessionStore) List(ctx context.Context, activeSince time.Time) ([]domain.SessionSummary, error) {
	return s.summaries(ctx, activeSince, false)
}

// ListActive returns the sessions with activity after since.
func (s *SQLiteSessionStore) ListActive(ctx context.Context, since time.Time) ([]domain.SessionSummary, error) {
	return s.summaries(ctx, since, true)
}

func (s *SQLiteSessionStore) summaries(ctx context.Context, since time.Time, activeOnly bool) ([]domain.SessionSummary, error) {
	q := `SELECT s.user_id, s.created_at, s.last_activity,
			(SELECT COUNT(*) FROM history h WHERE h.user_id = s.user_id)
		  FROM sessions s`
	var args []any
	if activeOnly {
		q += ` WHERE s.last_activity > ?`
		args = append(args, formatTime(since))
	}
	q += ` ORDER BY s.last_activity DESC`

	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.SessionSummary{}
	for rows.Next() {
		var (
			sess           domain.Session
			created, activ string
			count          int
		)
		if err := rows.Scan(&sess.UserID, &created, &activ, &count); err != nil {
			return nil, err
		}
		sess.CreatedAt = parseTime(created)
		sess.LastActivity = parseTime(activ)
		sum := sess.Summary(since)
		sum.MessageCount = count
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SetMetadata sets one metadata key, creating the session if needed.
func (s *SQLiteSessionStore) SetMetadata(ctx context.Context, userID, key string, value any) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.ensure(ctx, tx, userID, s.now()); err != nil {
		return err
	}
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT metadata FROM sessions WHERE user_id = ?`, userID).Scan(&raw); err != nil {
		return err
	}
	meta := map[string]any{}
	_ = json.Unmarshal([]byte(raw), &meta)
	meta[key] = value

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET metadata = ? WHERE user_id = ?`, string(data), userID); err != nil {
		return err
	}
	return tx.Commit()
}

// Metadata returns the session metadata, empty when the user is unknown.
func (s *SQLiteSessionStore) Metadata(ctx context.Context, userID string) (map[string]any, error) {
	sess, err := s.Get(ctx, userID)
	if err != nil || sess == nil {
		return map[string]any{}, err
	}
	return sess.Metadata, nil
}

// Prune deletes sessions whose last activity is before the cutoff.
func (s *SQLiteSessionStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.db.log.Info().Int64("count", n).Msg("pruned idle sessions")
	}
	return int(n), nil
}
