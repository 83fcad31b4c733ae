// Package ratelimit enforces the per-relay-requester budget from spec.md
// §4.E with a token bucket of 30 relays refilling over 60 seconds, keyed by
// the requester's
// identity (the literal string "local" for same-host IPC clients, or the
// peer's remote address for federation-forwarded relays). All local clients
// sharing one "local" bucket is spec.md's own conservative choice, not an
// oversight — see §9 design note (d).
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPerWindow and DefaultWindow are spec.md §6's literal defaults.
const (
	DefaultPerWindow = 30
	DefaultWindow    = 60 * time.Second
)

// Error is returned when a key's budget is exhausted.
type Error struct {
	Key string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Key)
}

type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter enforces a per-key token-bucket budget: a bucket of PerWindow
// tokens refilling continuously over Window, so a key that has been idle
// can burst back up to the full budget. It does not cap requests per
// rolling Window at PerWindow: a full burst followed by relays at the
// refill rate admits close to twice PerWindow within one Window.
type Limiter struct {
	perWindow int
	window    time.Duration

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

// New builds a Limiter with the given per-window budget.
func New(perWindow int, window time.Duration) *Limiter {
	if perWindow <= 0 {
		perWindow = DefaultPerWindow
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		perWindow: perWindow,
		window:    window,
		limiters:  make(map[string]*keyedLimiter),
	}
}

// Allow reports whether a relay from key may proceed, consuming one token if
// so. The very first call for a fresh key always succeeds (full burst).
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	kl, ok := l.limiters[key]
	if !ok {
		refillRate := rate.Limit(float64(l.perWindow) / l.window.Seconds())
		kl = &keyedLimiter{limiter: rate.NewLimiter(refillRate, l.perWindow)}
		l.limiters[key] = kl
	}
	kl.lastAccess = time.Now()
	limiter := kl.limiter
	l.mu.Unlock()

	if !limiter.Allow() {
		return &Error{Key: key}
	}
	return nil
}

// CleanupStale drops any per-key limiter untouched for longer than maxAge,
// bounding memory for a daemon that has relayed from many short-lived keys.
// Returns the number removed.
func (l *Limiter) CleanupStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for key, kl := range l.limiters {
		if kl.lastAccess.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len reports how many distinct keys currently have a limiter.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
