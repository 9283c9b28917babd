// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. Every gateway process shares the same counters, so a
// user cannot get around the limit by spreading sends over several
// connections or servers.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/moviemark/studio-chat/internal/logging"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:send:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleSend allows 5 chat messages per 10 seconds per user.
	RuleSend = Rule{Key: "rl:send:", Limit: 5, Window: 10 * time.Second}

	// RuleUpload allows 10 attachment uploads per minute per user.
	RuleUpload = Rule{Key: "rl:upload:", Limit: 10, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, log *logrus.Entry) *Limiter {
	return &Limiter{client: client, log: logging.OrDiscard(log)}
}

// Allow checks whether identifier is within rule. It increments the counter
// and sets the expiry on first access. When the identifier is over the limit
// the remaining lifetime of the window is returned as retryAfter.
//
// On Redis errors the method fails open (allowed is true) and returns the
// error so the caller can log it; a Redis outage never blocks chat.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (allowed bool, retryAfter time.Duration, err error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("redis INCR failed, failing open")
		return true, 0, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.WithError(err).WithField("key", key).Warn("redis EXPIRE failed, failing open")
			// Without a TTL the key would never reset.
			l.client.Del(ctx, key)
			return true, 0, err
		}
	}

	if int(count) <= rule.Limit {
		return true, 0, nil
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = rule.Window
	}
	return false, ttl, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}

// For binds the limiter to one rule. The result satisfies the gateway's
// per-user Limiter interface.
func (l *Limiter) For(rule Rule) *RuleLimiter {
	return &RuleLimiter{limiter: l, rule: rule}
}

// RuleLimiter applies a single Rule.
type RuleLimiter struct {
	limiter *Limiter
	rule    Rule
}

// Allow reports whether userID may act now.
func (r *RuleLimiter) Allow(ctx context.Context, userID string) (bool, time.Duration, error) {
	return r.limiter.Allow(ctx, userID, r.rule)
}
