// Package block keeps the per-user block flags set by administrators. A
// blocked user can still read a room but every send is refused. Flags live in
// Redis as a single set so the dashboard can count them cheaply:
//
//	Key:    chat:blocked_users
//	Member: <user id>
package block

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// BlockedKey is the Redis set holding blocked user ids.
const BlockedKey = "chat:blocked_users"

// RedisStore manages block flags in Redis.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a block store using the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: BlockedKey}
}

// SetBlocked sets or clears the block flag for a user. It applies only to
// future sends; messages already posted are untouched.
func (s *RedisStore) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	var err error
	if blocked {
		err = s.client.SAdd(ctx, s.key, userID).Err()
	} else {
		err = s.client.SRem(ctx, s.key, userID).Err()
	}
	if err != nil {
		return fmt.Errorf("block: set %s=%v: %w", userID, blocked, err)
	}
	return nil
}

// IsBlocked reports whether a user is currently blocked. Redis errors are
// returned so callers can decide how to handle them.
func (s *RedisStore) IsBlocked(ctx context.Context, userID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("block: check %s: %w", userID, err)
	}
	return ok, nil
}

// Count returns the number of blocked users.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("block: count: %w", err)
	}
	return n, nil
}

// MemoryStore is an in-process block store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocked: make(map[string]struct{})}
}

func (s *MemoryStore) SetBlocked(_ context.Context, userID string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blocked {
		s.blocked[userID] = struct{}{}
	} else {
		delete(s.blocked, userID)
	}
	return nil
}

func (s *MemoryStore) IsBlocked(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocked[userID]
	return ok, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.blocked)), nil
}
