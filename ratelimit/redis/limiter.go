package redislimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limit defines how many forced refreshes a key-set URL gets per window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is a Redis-backed sliding-window limiter using ZSETs, so every
// replica shares one refetch budget per key-set URL.
type Limiter struct {
	rdb   *redis.Client
	keyNS string
	limit Limit
	now   func() time.Time
}

func New(rdb *redis.Client, keyPrefix string, limit Limit) *Limiter {
	if keyPrefix == "" {
		keyPrefix = "auth:jwks:refresh:"
	}
	if limit.Limit <= 0 || limit.Window <= 0 {
		limit = Limit{Limit: 1, Window: 30 * time.Second}
	}
	return &Limiter{rdb: rdb, keyNS: keyPrefix, limit: limit, now: time.Now}
}

// AllowRefresh reports whether url may be refetched now. A nil client allows
// everything.
func (l *Limiter) AllowRefresh(ctx context.Context, url string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if url == "" {
		return false, fmt.Errorf("url required")
	}
	now := l.now().UnixMilli()
	start := now - l.limit.Window.Milliseconds()
	key := l.keyNS + url
	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", start))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.limit.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(l.limit.Limit) {
		l.rdb.ZRem(ctx, key, now)
		return false, nil
	}
	return true, nil
}
