// Package ratelimit throttles the chat actions a single user can perform
// against the reference server. Each action has a fixed per-user budget
// counted in Redis with INCR + EXPIRE, so the limits hold across server
// instances sharing one Redis.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// budget is one action's allowance inside a fixed window.
type budget struct {
	prefix string
	limit  int64
	window time.Duration
}

// Per-user budgets. Read marks are batched client-side, so that budget only
// trips on a misbehaving client.
var (
	sendBudget     = budget{prefix: "rl:send:", limit: 10, window: 10 * time.Second}
	markReadBudget = budget{prefix: "rl:read:", limit: 60, window: 10 * time.Second}
	connectBudget  = budget{prefix: "rl:conn:", limit: 5, window: time.Minute}
)

// Limiter answers whether a user may perform a chat action right now. All
// checks fail open: a Redis outage must not silence legitimate traffic.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// AllowSend reports whether the user may send another message.
func (l *Limiter) AllowSend(ctx context.Context, userID string) bool {
	return l.allow(ctx, sendBudget, userID)
}

// AllowMarkRead reports whether the user may record another read mark.
func (l *Limiter) AllowMarkRead(ctx context.Context, userID string) bool {
	return l.allow(ctx, markReadBudget, userID)
}

// AllowConnect reports whether the user may open another WebSocket
// connection.
func (l *Limiter) AllowConnect(ctx context.Context, userID string) bool {
	return l.allow(ctx, connectBudget, userID)
}

// allow spends one unit of the user's budget. The counter and its window
// expiry are set in a single pipeline round trip; EXPIRE NX only arms the
// window on the first hit so later hits cannot extend it.
func (l *Limiter) allow(ctx context.Context, b budget, userID string) bool {
	key := b.prefix + userID

	var count *redis.IntCmd
	_, err := l.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		count = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, b.window)
		return nil
	})
	if err != nil {
		log.Printf("[ratelimit] redis error key=%s: %v (failing open)", key, err)
		return true
	}

	return count.Val() <= b.limit
}
