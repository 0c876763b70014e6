package domain

import "time"

// MaxHistoryLength is the default cap on stored history entries (ten exchanges).
const MaxHistoryLength = 20

// Role values for history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryEntry is a single turn in a user's conversation history.
type HistoryEntry struct {
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one end user's durable conversation context.
type Session struct {
	UserID       string         `json:"userId"`
	History      []HistoryEntry `json:"history"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SessionSummary is the listing shape for sessions.
type SessionSummary struct {
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int       `json:"messageCount"`
	Status       string    `json:"status"` // "active" | "inactive"
}

// Summary reports the session as active when its last activity is after since.
func (s *Session) Summary(since time.Time) SessionSummary {
	status := "inactive"
	if s.LastActivity.After(since) {
		status = "active"
	}
	return SessionSummary{
		UserID:       s.UserID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		MessageCount: len(s.History),
		Status:       status,
	}
}

// TrimHistory keeps the newest max entries, dropping the oldest first.
func TrimHistory(h []HistoryEntry, max int) []HistoryEntry {
	if max <= 0 || len(h) <= max {
		return h
	}
	out := make([]HistoryEntry, max)
	copy(out, h[len(h)-max:])
	return out
}
