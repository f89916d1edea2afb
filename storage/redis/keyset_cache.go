package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/PaulFidika/jwtverify/jwks"
	"github.com/redis/go-redis/v9"
)

// KeySetCache shares fetched key sets between replicas through Redis. The
// served document is stored as-is and reparsed on read; SET replaces the whole
// value, so a reader gets either the old or the new document.
type KeySetCache struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

type record struct {
	Raw       json.RawMessage `json:"raw"`
	FetchedAt time.Time       `json:"fetched_at"`
}

func NewKeySetCache(rdb *redis.Client, keyPrefix string, ttl time.Duration) *KeySetCache {
	if keyPrefix == "" {
		keyPrefix = "auth:jwks:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeySetCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (s *KeySetCache) key(url string) string { return s.keyNS + url }

func (s *KeySetCache) Put(ctx context.Context, url string, ks *jwks.KeySet) error {
	if ks == nil || len(ks.Raw) == 0 {
		return errors.New("redisstore: key set has no raw document")
	}
	b, err := json.Marshal(record{Raw: ks.Raw, FetchedAt: ks.FetchedAt})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(url), b, s.ttl).Err()
}

func (s *KeySetCache) Get(ctx context.Context, url string) (*jwks.KeySet, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(url)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, false, err
	}
	ks, err := jwks.ParseKeySet(url, rec.Raw, rec.FetchedAt)
	if err != nil {
		return nil, false, err
	}
	return ks, true, nil
}

var _ jwks.Cache = (*KeySetCache)(nil)
