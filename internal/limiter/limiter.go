// Package limiter defines interfaces and implementations for login rate limiting.
package limiter

import (
	"context"
	"crypto/sha256"
	"net"
	"time"
)

// Limiter controls login attempts and temporary lockouts per (login, client IP).
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, login string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error)
}

// Policy is the lockout rule shared by all backends.
type Policy struct {
	MaxFails int           // failures inside Window that trigger a block
	Window   time.Duration // sliding window for counting failures
	BlockFor time.Duration // lockout length
}

// DefaultPolicy blocks for 15 minutes after 5 failures in 15 minutes.
var DefaultPolicy = Policy{MaxFails: 5, Window: 15 * time.Minute, BlockFor: 15 * time.Minute}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
// A trailing port is ignored.
func HashIP(ip string) []byte {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Noop never blocks.
type Noop struct{}

// Allow always permits.
func (Noop) Allow(context.Context, string, []byte) (bool, time.Duration, error) { return true, 0, nil }

// Success does nothing.
func (Noop) Success(context.Context, string, []byte) error { return nil }

// Failure never blocks.
func (Noop) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	return false, 0, nil
}
