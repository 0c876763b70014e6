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

// SQLiteContactStore implements tools.ContactStore. Each user's book is one
// JSON document, rewritten as a whole.
type SQLiteContactStore struct {
	db *DB
}

// NewSQLiteContactStore creates a contact store on db.
func NewSQLiteContactStore(db *DB) *SQLiteContactStore {
	return &SQLiteContactStore{db: db}
}

func (s *SQLiteContactStore) LoadContacts(ctx context.Context, userID string) ([]domain.Contact, bool, error) {
	var raw string
	err := s.db.sql.QueryRowContext(ctx, `SELECT contacts FROM contact_books WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading contacts %s: %w", userID, err)
	}
	var contacts []domain.Contact
	if err := json.Unmarshal([]byte(raw), &contacts); err != nil {
		return nil, false, fmt.Errorf("decoding contacts %s: %w", userID, err)
	}
	return contacts, true, nil
}

func (s *SQLiteContactStore) SaveContacts(ctx context.Context, userID string, contacts []domain.Contact) error {
	if contacts == nil {
		contacts = []domain.Contact{}
	}
	data, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("encoding contacts: %w", err)
	}
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO contact_books (user_id, contacts, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET contacts = excluded.contacts, updated_at = excluded.updated_at`,
		userID, string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("saving contacts %s: %w", userID, err)
	}
	return nil
}
