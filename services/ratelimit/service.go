// Package ratelimit throttles API clients with per-key token buckets.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Result is the outcome of a single Allow call
type Result struct {
	Allowed    bool
	Limit      int // requests per minute
	Remaining  int
	RetryAfter time.Duration
	// Report is true for the first rejection of a key within a minute, so
	// callers can record one event per burst instead of one per request
	Report bool
}

type bucket struct {
	limiter      *rate.Limiter
	lastSeen     time.Time
	lastReported time.Time
}

// Limiter hands out one token bucket per key (client address or subject)
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perMinute int
	burst     int
	idleTTL   time.Duration
	now       func() time.Time
}

// NewLimiter allows perMinute requests per key with the given burst. A burst
// of zero or less uses perMinute.
func NewLimiter(perMinute, burst int) *Limiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		perMinute: perMinute,
		burst:     burst,
		idleTTL:   10 * time.Minute,
		now:       time.Now,
	}
}

// Enabled reports whether the limiter throttles at all
func (l *Limiter) Enabled() bool {
	return l != nil && l.perMinute > 0
}

// Allow takes one token from key's bucket
func (l *Limiter) Allow(key string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := Result{Limit: l.perMinute}
	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		res.RetryAfter = time.Minute
	} else if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		res.RetryAfter = delay
	} else {
		res.Allowed = true
		if tokens := int(b.limiter.TokensAt(now)); tokens > 0 {
			res.Remaining = tokens
		}
		return res
	}

	if now.Sub(b.lastReported) >= time.Minute {
		b.lastReported = now
		res.Report = true
	}
	return res
}

// Prune drops buckets idle for longer than the idle TTL and returns how many
// were removed
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run prunes idle buckets every interval until ctx is done
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
