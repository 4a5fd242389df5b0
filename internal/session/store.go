// Package session manages per-user presence and unread counters in Redis
// for the reference transport server. Presence records map a user to the
// server instance holding their connection; unread counters back the
// server-computed unreadCount field of the conversation list.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for presence hashes.
	PresencePrefix = "presence:"

	// UnreadPrefix is the Redis key prefix for per-user unread hashes
	// (field = chatIdentifier, value = count).
	UnreadPrefix = "unread:"

	// PresenceTTL is the time-to-live for presence keys; refreshed on
	// activity so a crashed server's entries expire on their own.
	PresenceTTL = 1 * time.Hour
)

// Presence is a user's connection record.
type Presence struct {
	UserID    string `redis:"user_id"`
	Username  string `redis:"username"`
	Server    string `redis:"server"`
	LastSeen  int64  `redis:"last_seen"`
	Connected int64  `redis:"connected"`
}

// Store manages presence and unread state in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Connect records a user's presence on this server instance.
func (s *Store) Connect(ctx context.Context, userID, username string) error {
	key := PresencePrefix + userID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":   userID,
		"username":  username,
		"server":    s.serverName,
		"last_seen": now,
		"connected": now,
	})
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a presence record. Returns nil if the user is not connected.
func (s *Store) Get(ctx context.Context, userID string) (*Presence, error) {
	key := PresencePrefix + userID
	var p Presence
	err := s.client.HGetAll(ctx, key).Scan(&p)
	if err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, nil // not found
	}
	return &p, nil
}

// Touch refreshes the presence TTL and last-seen timestamp.
func (s *Store) Touch(ctx context.Context, userID string) error {
	key := PresencePrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Disconnect removes a user's presence record.
func (s *Store) Disconnect(ctx context.Context, userID string) error {
	return s.client.Del(ctx, PresencePrefix+userID).Err()
}

// IncrUnread increments the unread counter for one conversation in a user's
// unread hash.
func (s *Store) IncrUnread(ctx context.Context, userID, chatIdentifier string) error {
	key := UnreadPrefix + userID
	return s.client.HIncrBy(ctx, key, chatIdentifier, 1).Err()
}

// ClearUnread resets the unread counter for one conversation.
func (s *Store) ClearUnread(ctx context.Context, userID, chatIdentifier string) error {
	key := UnreadPrefix + userID
	return s.client.HDel(ctx, key, chatIdentifier).Err()
}

// DecrUnread decrements the unread counter for one conversation, flooring at
// zero by deleting the field when it reaches or passes zero.
func (s *Store) DecrUnread(ctx context.Context, userID, chatIdentifier string) error {
	key := UnreadPrefix + userID
	n, err := s.client.HIncrBy(ctx, key, chatIdentifier, -1).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return s.client.HDel(ctx, key, chatIdentifier).Err()
	}
	return nil
}

// UnreadCounts returns the user's unread counters keyed by chatIdentifier.
func (s *Store) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	key := UnreadPrefix + userID
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(raw))
	for chat, v := range raw {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			counts[chat] = n
		}
	}
	return counts, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
