package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Buckets holds one token bucket per key. It is in-process and best effort:
// each worker instance has its own buckets, and Reset is called at the start
// of every batch.
type Buckets struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewBuckets() *Buckets {
	return &Buckets{limiters: make(map[string]*rate.Limiter), now: time.Now}
}

func (b *Buckets) limiter(key string, perSecond float64, burst int) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(perSecond), burst)
		b.limiters[key] = l
	}
	return l
}

// Allow takes one token from key's bucket, creating the bucket with the
// given rate and burst on first use.
func (b *Buckets) Allow(key string, perSecond float64, burst int) bool {
	return b.limiter(key, perSecond, burst).AllowN(b.now(), 1)
}

// Reset discards every bucket.
func (b *Buckets) Reset() {
	b.mu.Lock()
	b.limiters = make(map[string]*rate.Limiter)
	b.mu.Unlock()
}
