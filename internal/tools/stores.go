package tools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/bizagent/internal/domain"
)

// ContactStore persists one contact list per user.
// Load reports ok=false when the user has never been seen.
type ContactStore interface {
	LoadContacts(ctx context.Context, userID string) (contacts []domain.Contact, ok bool, err error)
	SaveContacts(ctx context.Context, userID string, contacts []domain.Contact) error
}

// TransactionStore persists confirmed transactions.
type TransactionStore interface {
	// AppendTransaction stores tx and keeps only the newest keep records
	// for its user.
	AppendTransaction(ctx context.Context, tx domain.Transaction, keep int) error
	// RecentTransactions returns up to limit records, newest first.
	RecentTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
}

// ConfirmationStore is the pending confirmation table.
type ConfirmationStore interface {
	PutConfirmation(ctx context.Context, p domain.PendingConfirmation) error
	GetConfirmation(ctx context.Context, id string) (domain.PendingConfirmation, bool, error)
	// TakeConfirmation removes and returns the entry. Exactly one caller
	// observes ok=true for a given id.
	TakeConfirmation(ctx context.Context, id string) (domain.PendingConfirmation, bool, error)
	DeleteExpiredConfirmations(ctx context.Context, now time.Time) (int, error)
}

// MemoryContactStore keeps contacts in process memory.
type MemoryContactStore struct {
	mu    sync.RWMutex
	users map[string][]domain.Contact
}

// NewMemoryContactStore creates an empty in-memory contact store.
func NewMemoryContactStore() *MemoryContactStore {
	return &MemoryContactStore{users: make(map[string][]domain.Contact)}
}

func (s *MemoryContactStore) LoadContacts(_ context.Context, userID string) ([]domain.Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.users[userID]
	return append([]domain.Contact(nil), c...), ok, nil
}

func (s *MemoryContactStore) SaveContacts(_ context.Context, userID string, contacts []domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = append([]domain.Contact{}, contacts...)
	return nil
}

// MemoryTransactionStore keeps transactions in process memory.
type MemoryTransactionStore struct {
	mu    sync.RWMutex
	users map[string][]domain.Transaction // oldest first
}

// NewMemoryTransactionStore creates an empty in-memory transaction store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{users: make(map[string][]domain.Transaction)}
}

func (s *MemoryTransactionStore) AppendTransaction(_ context.Context, tx domain.Transaction, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.users[tx.UserID], tx)
	if keep > 0 && len(list) > keep {
		list = append([]domain.Transaction(nil), list[len(list)-keep:]...)
	}
	s.users[tx.UserID] = list
	return nil
}

func (s *MemoryTransactionStore) RecentTransactions(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.users[userID]
	out := make([]domain.Transaction, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, list[i])
	}
	return out, nil
}

// MemoryConfirmationStore is the default pending confirmation table.
type MemoryConfirmationStore struct {
	mu      sync.Mutex
	pending map[string]domain.PendingConfirmation
}

// NewMemoryConfirmationStore creates an empty confirmation table.
func NewMemoryConfirmationStore() *MemoryConfirmationStore {
	return &MemoryConfirmationStore{pending: make(map[string]domain.PendingConfirmation)}
}

func (s *MemoryConfirmationStore) PutConfirmation(_ context.Context, p domain.PendingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.ID] = p
	return nil
}

func (s *MemoryConfirmationStore) GetConfirmation(_ context.Context, id string) (domain.PendingConfirmation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	return p, ok, nil
}

func (s *MemoryConfirmationStore) TakeConfirmation(_ context.Context, id string) (domain.PendingConfirmation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return p, ok, nil
}

func (s *MemoryConfirmationStore) DeleteExpiredConfirmations(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.pending {
		if p.Expired(now) {
			delete(s.pending, id)
			n++
		}
	}
	return n, nil
}

// Pending lists the live entries ordered by creation time. Used by tests
// and the CLI.
func (s *MemoryConfirmationStore) Pending() []domain.PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PendingConfirmation, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
