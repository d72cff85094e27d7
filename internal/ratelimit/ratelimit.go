// Package ratelimit provides a keyed token bucket limiter. Buckets of keys that
// stay idle are evicted.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	domainerrors "bookshelf/internal/errors"
)

// KeyedLimiter manages one token bucket per key
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters *ttlcache.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	stopOnce sync.Once
}

// New creates a limiter refilling at limit with the given burst. A key's bucket
// is dropped after idle without use; idle should cover a full refill.
func New(limit rate.Limit, burst int, idle time.Duration) *KeyedLimiter {
	cache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](idle),
	)
	go cache.Start()

	return &KeyedLimiter{
		limiters: cache,
		limit:    limit,
		burst:    burst,
	}
}

// PerMinute allows n events per key and minute. n <= 0 disables limiting.
func PerMinute(n int) *KeyedLimiter {
	if n <= 0 {
		return New(rate.Inf, 0, time.Minute)
	}
	return New(rate.Every(time.Minute/time.Duration(n)), n, 2*time.Minute)
}

// Reservation is one event taken from a key's bucket
type Reservation struct {
	r  *rate.Reservation
	at time.Time
}

// Cancel returns the event to the bucket when the action did not happen
func (r *Reservation) Cancel() {
	if r == nil || r.r == nil {
		return
	}
	r.r.CancelAt(r.at)
}

// Reserve takes one event from the bucket of key. An empty bucket fails with
// RateLimited and takes nothing.
func (l *KeyedLimiter) Reserve(key string) (*Reservation, error) {
	now := time.Now()
	r := l.limiter(key).ReserveN(now, 1)
	if !r.OK() {
		return nil, domainerrors.RateLimited("too many requests, try again later")
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil, domainerrors.RateLimited("too many requests, try again later")
	}
	return &Reservation{r: r, at: now}, nil
}

// Quota is the state of a key's bucket
type Quota struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	Unlimited bool      `json:"unlimited,omitempty"`
}

// Quota reports how many events key has left and when its bucket is full again
func (l *KeyedLimiter) Quota(key string) Quota {
	if l.limit == rate.Inf {
		return Quota{Unlimited: true}
	}

	now := time.Now()
	tokens := float64(l.burst)
	if item := l.limiters.Get(key); item != nil {
		tokens = item.Value().TokensAt(now)
	}

	quota := Quota{
		Limit:     l.burst,
		Remaining: max(int(math.Floor(tokens)), 0),
		ResetAt:   now,
	}
	if missing := float64(l.burst) - tokens; missing > 0 {
		quota.ResetAt = now.Add(time.Duration(missing / float64(l.limit) * float64(time.Second)))
	}
	return quota
}

func (l *KeyedLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if item := l.limiters.Get(key); item != nil {
		return item.Value()
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Set(key, limiter, ttlcache.DefaultTTL)
	return limiter
}

// Stop ends the eviction loop
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(l.limiters.Stop)
}
