package memorylimiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limit defines how many forced refreshes a key-set URL gets per window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimit allows one forced refetch per URL every 30 seconds.
var DefaultLimit = Limit{Limit: 1, Window: 30 * time.Second}

type bucketState struct {
	// timestamps holds refresh times in Unix ms, newest last.
	timestamps []int64
}

// Limiter is an in-memory sliding-window limiter for key-set refetches.
// It is the single-node fallback when Redis is not configured.
type Limiter struct {
	mu      sync.Mutex
	limit   Limit
	buckets map[string]*bucketState
	now     func() time.Time
}

// New constructs a limiter. A zero Limit uses DefaultLimit.
func New(limit Limit) *Limiter {
	if limit.Limit <= 0 || limit.Window <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{
		limit:   limit,
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}
}

// AllowRefresh reports whether url may be refetched now and records the
// attempt when it may. Expired timestamps are pruned on each call and buckets
// with no attempt inside the window are removed, so memory stays bounded by
// the number of URLs refetched within one window.
func (l *Limiter) AllowRefresh(ctx context.Context, url string) (bool, error) {
	_ = ctx
	if l == nil {
		return true, nil
	}
	if url == "" {
		return false, fmt.Errorf("url required")
	}

	nowMs := l.now().UnixMilli()
	windowStart := nowMs - l.limit.Window.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(windowStart)
	b, ok := l.buckets[url]
	if !ok {
		b = &bucketState{}
		l.buckets[url] = b
	}

	ts := b.timestamps
	pruneIdx := 0
	for pruneIdx < len(ts) && ts[pruneIdx] <= windowStart {
		pruneIdx++
	}
	ts = ts[pruneIdx:]

	if len(ts) >= l.limit.Limit {
		b.timestamps = ts
		return false, nil
	}

	b.timestamps = append(ts, nowMs)
	return true, nil
}

// sweep removes buckets whose newest attempt is outside the window.
func (l *Limiter) sweep(windowStart int64) {
	for url, b := range l.buckets {
		if n := len(b.timestamps); n == 0 || b.timestamps[n-1] <= windowStart {
			delete(l.buckets, url)
		}
	}
}
