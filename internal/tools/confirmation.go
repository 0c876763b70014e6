package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/soyeahso/bizagent/internal/logging"
)

// Confirmation errors.
var (
	ErrConfirmationNotFound = errors.New("confirmation not found")
	ErrConfirmationExpired  = errors.New("confirmation expired")
)

// ConfirmationManager owns the pending payment table: proposals wait here
// until the user confirms or cancels them, or they expire.
type ConfirmationManager struct {
	store ConfirmationStore
	ttl   time.Duration
	log   *logging.Logger

	now   func() time.Time
	newID func() string
}

// NewConfirmationManager creates a manager over store with the given expiry window.
func NewConfirmationManager(store ConfirmationStore, ttl time.Duration, log *logging.Logger) *ConfirmationManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ConfirmationManager{
		store: store,
		ttl:   ttl,
		log:   log.Sub("confirmations"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// TTL returns the confirmation window.
func (m *ConfirmationManager) TTL() time.Duration { return m.ttl }

// Propose stores tx as a pending confirmation and returns it.
func (m *ConfirmationManager) Propose(ctx context.Context, tx domain.Transaction) (domain.PendingConfirmation, error) {
	now := m.now().UTC()
	p := domain.PendingConfirmation{
		ID:          m.newID(),
		Transaction: tx,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.store.PutConfirmation(ctx, p); err != nil {
		return p, fmt.Errorf("storing confirmation: %w", err)
	}
	m.log.Info().
		Str("confirmationId", p.ID).
		Str("userId", tx.UserID).
		Time("expiresAt", p.ExpiresAt).
		Msg("confirmation created")
	return p, nil
}

// Lookup returns a live pending confirmation. An expired entry is evicted and
// reported as ErrConfirmationExpired; later lookups report not found.
func (m *ConfirmationManager) Lookup(ctx context.Context, id string) (domain.PendingConfirmation, error) {
	p, ok, err := m.store.GetConfirmation(ctx, id)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, ErrConfirmationNotFound
	}
	if p.Expired(m.now()) {
		if _, _, err := m.store.TakeConfirmation(ctx, id); err != nil {
			return p, err
		}
		return p, ErrConfirmationExpired
	}
	return p, nil
}

// Resolve removes the confirmation so that it can be acted on exactly once.
// Entries owned by another user are reported as not found and left in place.
func (m *ConfirmationManager) Resolve(ctx context.Context, userID, id string) (domain.PendingConfirmation, error) {
	p, ok, err := m.store.GetConfirmation(ctx, id)
	if err != nil {
		return p, err
	}
	if !ok || (userID != "" && p.Transaction.UserID != userID) {
		return domain.PendingConfirmation{}, ErrConfirmationNotFound
	}

	p, ok, err = m.store.TakeConfirmation(ctx, id)
	if err != nil {
		return p, err
	}
	if !ok {
		// lost the race to a concurrent resolve
		return domain.PendingConfirmation{}, ErrConfirmationNotFound
	}
	if p.Expired(m.now()) {
		m.log.Info().Str("confirmationId", id).Msg("confirmation expired")
		return p, ErrConfirmationExpired
	}
	return p, nil
}

// Sweep evicts every expired entry and returns how many were removed.
func (m *ConfirmationManager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpiredConfirmations(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Debug().Int("count", n).Msg("swept expired confirmations")
	}
	return n, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (m *ConfirmationManager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Warn().Err(err).Msg("confirmation sweep failed")
			}
		}
	}
}
