package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "ledger:idempotency:v1:"
	inProgressMarker = "__in_progress__"
	opTimeout        = 2 * time.Second
)

// ErrInProgress reports a concurrent posting holding the same key.
var ErrInProgress = errors.New("idempotency key reservation in progress")

// Cache mirrors the durable idempotency records in Redis so retries can be
// answered without touching the ledger store. The ledger record remains the
// source of truth; a cache miss just falls through to the store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wires the Redis mirror. A nil client disables it.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Lookup returns the journal id recorded for the key, if any.
func (c *Cache) Lookup(ctx context.Context, key string) (uuid.UUID, bool, error) {
	if c == nil || c.client == nil {
		return uuid.Nil, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	value, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		c.logger.Warn("idempotency cache lookup failed", "key", key, "error", err)
		return uuid.Nil, false, nil
	}
	if value == inProgressMarker {
		return uuid.Nil, false, ErrInProgress
	}
	journalID, err := uuid.Parse(value)
	if err != nil {
		c.logger.Warn("idempotency cache holds malformed journal id", "key", key, "error", err)
		return uuid.Nil, false, nil
	}
	return journalID, true, nil
}

// Reserve marks the key as in flight. Returns false when another request
// already holds it.
func (c *Cache) Reserve(ctx context.Context, key string) (bool, error) {
	if c == nil || c.client == nil {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.SetNX(ctx, keyPrefix+key, inProgressMarker, c.ttl).Result()
}

// Remember records the journal id produced for the key.
func (c *Cache) Remember(ctx context.Context, key string, journalID uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, keyPrefix+key, journalID.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("idempotency cache persist failed", "key", key, "error", err)
	}
}

// Release drops an in-flight reservation after a failed posting so the
// client can retry.
func (c *Cache) Release(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		c.logger.Warn("idempotency cache release failed", "key", key, "error", err)
	}
}
