package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter manages one rate limiter per opaque key (e.g. a proxy token
// prefix). Limiters are created lazily on first use and dropped again once a
// key has been idle longer than the TTL, so the map stays bounded even though
// the key space is not.
//
// Counting is approximate: concurrent callers may both pass the limit check
// for the same key. That is acceptable for abuse protection.
type KeyedLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter creates a keyed limiter allowing requestsPerHour events per
// key with the given burst. Idle keys are evicted after ttl.
func NewKeyedLimiter(requestsPerHour float64, burst int, ttl time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limit:   rate.Limit(requestsPerHour / 3600.0),
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

// Allow reports whether an event may happen now for the given key.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = time.Now()
	if len(k.entries) > 1024 {
		k.pruneLocked()
	}
	k.mu.Unlock()

	return e.limiter.Allow()
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Prune removes entries not seen within the TTL.
func (k *KeyedLimiter) Prune() {
	k.mu.Lock()
	k.pruneLocked()
	k.mu.Unlock()
}

func (k *KeyedLimiter) pruneLocked() {
	cutoff := time.Now().Add(-k.ttl)
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
		}
	}
}
