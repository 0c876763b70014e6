package domain

import "time"

// Transaction types.
const (
	TxSend    = "send"
	TxRequest = "request"
)

// Transaction status values.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
)

// Transaction is a bizum movement. It is persisted only once confirmed.
type Transaction struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Type           string     `json:"type"`
	Amount         float64    `json:"amount"`
	Recipient      string     `json:"recipient"`
	RecipientPhone string     `json:"recipientPhone"`
	FromContact    bool       `json:"fromContact"`
	Concept        string     `json:"concept"`
	Status         string     `json:"status"`
	Signature      string     `json:"signature,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
}

// Verb returns the Spanish past participle for the transaction type.
func (t Transaction) Verb() string {
	if t.Type == TxRequest {
		return "solicitado"
	}
	return "enviado"
}

// Preposition returns "a" for sends and "de" for requests.
func (t Transaction) Preposition() string {
	if t.Type == TxRequest {
		return "de"
	}
	return "a"
}

// PendingConfirmation holds a validated transaction awaiting user approval.
type PendingConfirmation struct {
	ID          string      `json:"id"`
	Transaction Transaction `json:"transaction"`
	CreatedAt   time.Time   `json:"createdAt"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// Expired reports whether the confirmation window has passed at now.
func (p PendingConfirmation) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
