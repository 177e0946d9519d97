package membership

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter hands out one token bucket per key. Idle buckets are dropped
// once they have been full for longer than idleAfter.
type keyedLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	buckets   map[string]*bucket
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(limit rate.Limit, burst int) *keyedLimiter {
	return &keyedLimiter{
		limit:     limit,
		burst:     burst,
		idleAfter: 10 * time.Minute,
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

func (l *keyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleAfter {
			delete(l.buckets, k)
		}
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
