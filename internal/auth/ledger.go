package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetLedger remembers which reset tokens have already been spent.
//
// A reset JWT is valid until it expires no matter how many times it's
// presented; the ledger is what makes it single-use. An entry only needs to
// live until the token's own exp, after which the signature check rejects it
// anyway.
type ResetLedger interface {
	// Consume marks tokenID as spent. It returns true the first time it is
	// called for a given tokenID and false on every later call.
	Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)

	// Spent reports whether tokenID has been consumed. It does not consume it.
	Spent(ctx context.Context, tokenID string) (bool, error)
}

// minLedgerTTL keeps an entry around for tokens whose exp is already at or
// just before "now" when they're consumed.
const minLedgerTTL = time.Second

// RedisLedger stores spent token IDs in Redis with SET NX EX, so the first
// Consume wins even with several server instances racing.
type RedisLedger struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLedger creates a ledger on client. Keys look like "reset_token:<jti>".
func NewRedisLedger(client *redis.Client, now func() time.Time) *RedisLedger {
	if now == nil {
		now = time.Now
	}
	return &RedisLedger{client: client, prefix: "reset_token:", now: now}
}

func (l *RedisLedger) Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	ttl := max(expiresAt.Sub(l.now()), minLedgerTTL)

	ok, err := l.client.SetNX(ctx, l.prefix+tokenID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: recording reset token: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Spent(ctx context.Context, tokenID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("auth: checking reset token: %w", err)
	}
	return n > 0, nil
}

// MemoryLedger is the single-process fallback used when no Redis is configured.
// Spent IDs are pruned once their token would have expired.
type MemoryLedger struct {
	mu    sync.Mutex
	spent map[string]time.Time
	now   func() time.Time
}

func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{spent: make(map[string]time.Time), now: now}
}

func (l *MemoryLedger) Consume(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, until := range l.spent {
		if now.After(until) {
			delete(l.spent, id)
		}
	}

	if _, ok := l.spent[tokenID]; ok {
		return false, nil
	}
	l.spent[tokenID] = maxTime(expiresAt, now.Add(minLedgerTTL))
	return true, nil
}

func (l *MemoryLedger) Spent(_ context.Context, tokenID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.spent[tokenID]
	return ok && !l.now().After(until), nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
