// Package ratelimit provides per-caller admission control.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultMaxIdle is how long an unused bucket survives before a sweep
	// removes it.
	defaultMaxIdle = 10 * time.Minute
	// sweepInterval bounds how often Allow pays the full-map sweep cost.
	sweepInterval = time.Minute
)

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per caller key (client IP or API key).
// Admission checks never block; rejected calls must not reach the embedder
// or the vector store. Buckets idle past the idle window are swept, so the
// map stays bounded by the recently active caller set rather than every
// caller ever seen.
type Limiter struct {
	mu        sync.Mutex
	limits    map[string]*entry
	rps       rate.Limit
	burst     int
	maxIdle   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a limiter allowing rps sustained requests with the given burst
// per caller key.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		limits:  make(map[string]*entry),
		rps:     rate.Limit(rps),
		burst:   burst,
		maxIdle: defaultMaxIdle,
		now:     time.Now,
	}
}

// Allow reports whether a request from the given caller is admitted now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()

	e, ok := l.limits[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.limits[key] = e
	}
	e.lastSeen = now
	l.sweepLocked(now)
	l.mu.Unlock()

	return e.lim.Allow()
}

// Len returns the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limits)
}

// sweepLocked drops idle buckets, at most once per sweepInterval.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for key, e := range l.limits {
		if now.Sub(e.lastSeen) > l.maxIdle {
			delete(l.limits, key)
		}
	}
}
