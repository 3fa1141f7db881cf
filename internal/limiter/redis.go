package limiter

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCommander interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// Redis is a limiter whose counters live in Redis so several server
// instances share one view of failed attempts.
type Redis struct {
	rdb    redisCommander
	policy Policy
	prefix string
}

// NewRedis constructs a Redis-backed limiter. Keys are namespaced by prefix.
func NewRedis(rdb redisCommander, p Policy, prefix string) *Redis {
	if prefix == "" {
		prefix = "caregate:login"
	}
	return &Redis{rdb: rdb, policy: p, prefix: prefix}
}

func (l *Redis) keys(login string, ipHash []byte) (fails, block string) {
	suffix := login + ":" + hex.EncodeToString(ipHash)
	return l.prefix + ":fails:" + suffix, l.prefix + ":block:" + suffix
}

// Allow reports whether a block key is live.
func (l *Redis) Allow(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error) {
	_, block := l.keys(login, ipHash)
	ttl, err := l.rdb.PTTL(ctx, block).Result()
	if err != nil {
		return false, 0, err
	}
	// negative values mean the key is missing or has no expiry
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success clears both counters.
func (l *Redis) Success(ctx context.Context, login string, ipHash []byte) error {
	fails, block := l.keys(login, ipHash)
	return l.rdb.Del(ctx, fails, block).Err()
}

// Failure increments the windowed counter and places a block at the threshold.
func (l *Redis) Failure(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error) {
	fails, block := l.keys(login, ipHash)
	n, err := l.rdb.Incr(ctx, fails).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, fails, l.policy.Window).Err(); err != nil {
			return false, 0, err
		}
	}
	if n < int64(l.policy.MaxFails) {
		return false, 0, nil
	}
	if err := l.rdb.Set(ctx, block, "1", l.policy.BlockFor).Err(); err != nil {
		return false, 0, err
	}
	if err := l.rdb.Del(ctx, fails).Err(); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
