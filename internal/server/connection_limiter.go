package server

import (
	"sync"
	"sync/atomic"
	"time"

	"price_stream/internal/stream"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupEvery = 5 * time.Minute
	limiterIdleAfter    = 10 * time.Minute
)

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConnectionLimiter gates new stream connections by global count, per-IP count and
// per-IP connect rate. It implements stream.Gate.
type ConnectionLimiter struct {
	clock clockwork.Clock

	current   atomic.Int64
	maxGlobal int64

	mu        sync.Mutex
	perIP     map[string]int
	maxPerIP  int
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

var _ stream.Gate = (*ConnectionLimiter)(nil)

// NewConnectionLimiter creates a limiter. A zero max disables that check; a
// non-positive connectsPerSecond disables rate limiting.
func NewConnectionLimiter(maxGlobal, maxPerIP int, connectsPerSecond float64, burst int, clock clockwork.Clock) *ConnectionLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	limit := rate.Limit(connectsPerSecond)
	if connectsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &ConnectionLimiter{
		clock:     clock,
		maxGlobal: int64(maxGlobal),
		perIP:     make(map[string]int),
		maxPerIP:  maxPerIP,
		limiters:  make(map[string]*rateLimiterEntry),
		rate:      limit,
		burst:     burst,
		cleanupAt: clock.Now().Add(limiterCleanupEvery),
	}
}

// Acquire takes a slot for ip. The rate check runs first, so a refused burst does
// not consume capacity. The returned release is safe to call more than once.
func (l *ConnectionLimiter) Acquire(ip string) (func(), error) {
	if !l.allow(ip) {
		return nil, stream.ErrRateLimited
	}

	if !l.acquireGlobal() {
		return nil, stream.ErrAtCapacity
	}

	l.mu.Lock()
	if l.maxPerIP > 0 && l.perIP[ip] >= l.maxPerIP {
		l.mu.Unlock()
		l.current.Add(-1)
		return nil, stream.ErrAtCapacity
	}
	l.perIP[ip]++
	l.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { l.release(ip) }) }, nil
}

func (l *ConnectionLimiter) acquireGlobal() bool {
	for {
		current := l.current.Load()
		if l.maxGlobal > 0 && current >= l.maxGlobal {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *ConnectionLimiter) release(ip string) {
	l.mu.Lock()
	if count := l.perIP[ip]; count > 1 {
		l.perIP[ip] = count - 1
	} else {
		delete(l.perIP, ip)
	}
	l.mu.Unlock()
	l.current.Add(-1)
}

func (l *ConnectionLimiter) allow(ip string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(limiterCleanupEvery)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// cleanup drops idle rate limiters. Must be called with mu held.
func (l *ConnectionLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleAfter)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// Current returns the number of held slots.
func (l *ConnectionLimiter) Current() int64 {
	return l.current.Load()
}

// Count returns the number of slots held by ip.
func (l *ConnectionLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

// ActiveLimiters returns how many per-IP rate limiters are tracked.
func (l *ConnectionLimiter) ActiveLimiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
