package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/jwtverify/jwks"
)

// KeySetCache is an in-memory implementation of jwks.Cache with TTL.
// Snapshots are swapped whole under the lock, so readers never see a mix of
// old and new keys.
type KeySetCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	data   map[string]item
	now    func() time.Time
	closed chan struct{}
	once   sync.Once
}

type item struct {
	ks  *jwks.KeySet
	exp time.Time
}

// NewKeySetCache creates a new in-memory key-set cache with the given TTL.
// If ttl <= 0, a default of 10 minutes is used.
// Starts a background goroutine to clean up expired entries every minute.
func NewKeySetCache(ttl time.Duration) *KeySetCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &KeySetCache{ttl: ttl, data: make(map[string]item), now: time.Now, closed: make(chan struct{})}
	go c.cleanupLoop()
	return c
}


func (s *KeySetCache) Put(ctx context.Context, url string, ks *jwks.KeySet) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[url] = item{ks: ks, exp: s.now().Add(s.ttl)}
	return nil
}

func (s *KeySetCache) Get(ctx context.Context, url string) (*jwks.KeySet, bool, error) {
	_ = ctx
	s.mu.RLock()
	it, ok := s.data[url]
	s.mu.RUnlock()
	if !ok || s.now().After(it.exp) {
		return nil, false, nil
	}
	return it.ks, true, nil
}

// cleanupLoop runs in the background and removes expired entries every minute.
func (s *KeySetCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

func (s *KeySetCache) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.data {
		if now.After(v.exp) {
			delete(s.data, k)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (s *KeySetCache) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

var _ jwks.Cache = (*KeySetCache)(nil)
