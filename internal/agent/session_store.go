package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/bizagent/internal/domain"
)

// SessionStore owns per-user conversation history. Implementations cap the
// history at their configured bound, evicting the oldest entries first.
type SessionStore interface {
	// Create returns the user's session, creating an empty one if needed.
	Create(ctx context.Context, userID string) (*domain.Session, error)

	// Get returns the session, or nil if the user has none.
	Get(ctx context.Context, userID string) (*domain.Session, error)

	// History returns the stored entries in chronological order.
	History(ctx context.Context, userID string) ([]domain.HistoryEntry, error)

	// AppendExchange records a user turn and the assistant reply.
	AppendExchange(ctx context.Context, userID, userText, assistantText string) error

	// Clear empties the history but keeps the session.
	Clear(ctx context.Context, userID string) error

	// Delete removes the session. It reports whether one existed.
	Delete(ctx context.Context, userID string) (bool, error)

	// List returns every session, most recent activity first. Sessions
	// active after activeSince are marked "active".
	List(ctx context.Context, activeSince time.Time) ([]domain.SessionSummary, error)

	// ListActive returns the sessions with activity after since.
	ListActive(ctx context.Context, since time.Time) ([]domain.SessionSummary, error)

	SetMetadata(ctx context.Context, userID, key string, value any) error
	Metadata(ctx context.Context, userID string) (map[string]any, error)

	// Prune deletes sessions idle since before and returns how many.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// MemorySessionStore is an in-memory SessionStore implementation.
type MemorySessionStore struct {
	mu         sync.RWMutex
	sessions   map[string]*domain.Session
	maxHistory int
	now        func() time.Time
}

// NewMemorySessionStore creates an in-memory session store keeping at most
// maxHistory entries per user (domain.MaxHistoryLength when <= 0).
func NewMemorySessionStore(maxHistory int) *MemorySessionStore {
	if maxHistory <= 0 {
		maxHistory = domain.MaxHistoryLength
	}
	return &MemorySessionStore{
		sessions:   make(map[string]*domain.Session),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

func (s *MemorySessionStore) getOrCreate(userID string) *domain.Session {
	sess, ok := s.sessions[userID]
	if !ok {
		now := s.now()
		sess = &domain.Session{
			UserID:       userID,
			History:      []domain.HistoryEntry{},
			CreatedAt:    now,
			LastActivity: now,
			Metadata:     map[string]any{},
		}
		s.sessions[userID] = sess
	}
	return sess
}

func clone(sess *domain.Session) *domain.Session {
	cp := *sess
	cp.History = append([]domain.HistoryEntry{}, sess.History...)
	cp.Metadata = make(map[string]any, len(sess.Metadata))
	for k, v := range sess.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

func (s *MemorySessionStore) Create(_ context.Context, userID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.getOrCreate(userID)), nil
}

func (s *MemorySessionStore) Get(_ context.Context, userID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	return clone(sess), nil
}

func (s *MemorySessionStore) History(_ context.Context, userID string) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return []domain.HistoryEntry{}, nil
	}
	return append([]domain.HistoryEntry{}, sess.History...), nil
}

func (s *MemorySessionStore) AppendExchange(_ context.Context, userID, userText, assistantText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreate(userID)
	now := s.now()
	sess.History = append(sess.History,
		domain.HistoryEntry{Role: domain.RoleUser, Content: userText, Timestamp: now},
		domain.HistoryEntry{Role: domain.RoleAssistant, Content: assistantText, Timestamp: now},
	)
	sess.History = domain.TrimHistory(sess.History, s.maxHistory)
	sess.LastActivity = now
	return nil
}

func (s *MemorySessionStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		sess.History = []domain.HistoryEntry{}
		sess.LastActivity = s.now()
	}
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok, nil
}

func (s *MemorySessionStore) List(_ context.Context, activeSince time.Time) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Summary(activeSince))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (s *MemorySessionStore) ListActive(ctx context.Context, since time.Time) ([]domain.SessionSummary, error) {
	all, err := s.List(ctx, since)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, sum := range all {
		if sum.Status == "active" {
			active = append(active, sum)
		}
	}
	return active, nil
}

func (s *MemorySessionStore) SetMetadata(_ context.Context, userID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(userID).Metadata[key] = value
	return nil
}

func (s *MemorySessionStore) Metadata(_ context.Context, userID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return map[string]any{}, nil
	}
	return clone(sess).Metadata, nil
}

func (s *MemorySessionStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
