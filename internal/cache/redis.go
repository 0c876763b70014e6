// Package cache holds the Redis backed pending confirmation table.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/soyeahso/bizagent/internal/logging"
)

const (
	defaultPrefix = "bizagent:confirmation:"
	// Entries outlive their expiry briefly so Lookup can still report
	// "expired" instead of "not found".
	expiryGrace = time.Minute
)

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisConfirmationStore implements tools.ConfirmationStore on Redis keys
// with a per-key TTL, so pending confirmations survive restarts.
type RedisConfirmationStore struct {
	client *redis.Client
	prefix string
	log    *logging.Logger
	now    func() time.Time
}

// NewRedisConfirmationStore connects and pings the server.
func NewRedisConfirmationStore(ctx context.Context, cfg RedisConfig, log *logging.Logger) (*RedisConfirmationStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	s := NewRedisConfirmationStoreFromClient(client, cfg.Prefix, log)
	s.log.Info().Str("addr", cfg.Addr).Msg("redis confirmation store ready")
	return s, nil
}

// NewRedisConfirmationStoreFromClient wraps an existing client.
func NewRedisConfirmationStoreFromClient(client *redis.Client, prefix string, log *logging.Logger) *RedisConfirmationStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisConfirmationStore{
		client: client,
		prefix: prefix,
		log:    log.Sub("redis"),
		now:    time.Now,
	}
}

func (s *RedisConfirmationStore) key(id string) string {
	return s.prefix + id
}

// PutConfirmation stores p until shortly after its expiry.
func (s *RedisConfirmationStore) PutConfirmation(ctx context.Context, p domain.PendingConfirmation) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding confirmation %s: %w", p.ID, err)
	}
	ttl := p.ExpiresAt.Sub(s.now()) + expiryGrace
	if ttl <= 0 {
		ttl = expiryGrace
	}
	if err := s.client.Set(ctx, s.key(p.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("storing confirmation %s: %w", p.ID, err)
	}
	return nil
}

// GetConfirmation reads the entry without removing it.
func (s *RedisConfirmationStore) GetConfirmation(ctx context.Context, id string) (domain.PendingConfirmation, bool, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	return s.decode(id, raw, err)
}

// TakeConfirmation removes and returns the entry atomically with GETDEL.
func (s *RedisConfirmationStore) TakeConfirmation(ctx context.Context, id string) (domain.PendingConfirmation, bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	return s.decode(id, raw, err)
}

func (s *RedisConfirmationStore) decode(id string, raw []byte, err error) (domain.PendingConfirmation, bool, error) {
	var p domain.PendingConfirmation
	if errors.Is(err, redis.Nil) {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("reading confirmation %s: %w", id, err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warn().Err(err).Str("confirmationId", id).Msg("dropping corrupt confirmation")
		return p, false, nil
	}
	return p, true, nil
}

// DeleteExpiredConfirmations is a no-op: Redis expires keys on its own.
func (s *RedisConfirmationStore) DeleteExpiredConfirmations(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Ping checks the connection.
func (s *RedisConfirmationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisConfirmationStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
