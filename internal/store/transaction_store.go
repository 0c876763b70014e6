package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soyeahso/bizagent/internal/domain"
)

// SQLiteTransactionStore implements tools.TransactionStore.
type SQLiteTransactionStore struct {
	db *DB
}

// NewSQLiteTransactionStore creates a transaction store on db.
func NewSQLiteTransactionStore(db *DB) *SQLiteTransactionStore {
	return &SQLiteTransactionStore{db: db}
}

// AppendTransaction inserts tx and drops the user's oldest rows beyond keep.
func (s *SQLiteTransactionStore) AppendTransaction(ctx context.Context, t domain.Transaction, keep int) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var confirmed sql.NullString
	if t.ConfirmedAt != nil {
		confirmed = sql.NullString{String: formatTime(*t.ConfirmedAt), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, recipient, recipient_phone, from_contact, concept, status, signature, created_at, confirmed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Type, t.Amount, t.Recipient, t.RecipientPhone, t.FromContact,
		t.Concept, t.Status, t.Signature, formatTime(t.CreatedAt), confirmed,
	); err != nil {
		return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transactions WHERE user_id = ? AND seq NOT IN (
				SELECT seq FROM transactions WHERE user_id = ? ORDER BY seq DESC LIMIT ?
			)`, t.UserID, t.UserID, keep,
		); err != nil {
			return fmt.Errorf("truncating transactions: %w", err)
		}
	}
	return tx.Commit()
}

// RecentTransactions returns up to limit rows, newest first. limit <= 0
// returns every stored row.
func (s *SQLiteTransactionStore) RecentTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, user_id, type, amount, recipient, recipient_phone, from_contact, concept, status, signature, created_at, confirmed_at
		 FROM transactions WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	out := []domain.Transaction{}
	for rows.Next() {
		var (
			t         domain.Transaction
			created   string
			confirmed sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Recipient, &t.RecipientPhone,
			&t.FromContact, &t.Concept, &t.Status, &t.Signature, &created, &confirmed); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(created)
		if confirmed.Valid {
			ct := parseTime(confirmed.String)
			t.ConfirmedAt = &ct
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
