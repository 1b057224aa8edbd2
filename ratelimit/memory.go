package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v2"
	"github.com/cockroachdb/errors"
)

// MemoryStore is the in-process Store. A single mutex serializes the
// check-then-set.
type MemoryStore struct {
	mu      sync.Mutex
	entries *ttlcache.Cache
}

func NewMemoryStore() *MemoryStore {
	cache := ttlcache.NewCache()
	// Reads must never push a cooldown further out.
	cache.SkipTTLExtensionOnHit(true)
	return &MemoryStore{entries: cache}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, live, err := s.lookup(key); err != nil || live {
		return false, err
	}
	if err := s.entries.SetWithTTL(key, time.Now().Add(ttl), ttl); err != nil {
		return false, errors.Wrapf(err, "memory set %s", key)
	}
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, live, err := s.lookup(key)
	if err != nil || !live {
		return 0, false, err
	}
	return time.Until(expiry), true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, live, err := s.lookup(key)
	if err != nil {
		return false, err
	}
	if err := s.entries.Remove(key); err != nil && !errors.Is(err, ttlcache.ErrNotFound) {
		return false, errors.Wrapf(err, "memory delete %s", key)
	}
	return live, nil
}

func (s *MemoryStore) Close() error {
	return s.entries.Close()
}

// lookup returns the stored expiry for key and whether it is still in the future.
// Callers hold s.mu.
func (s *MemoryStore) lookup(key string) (time.Time, bool, error) {
	v, err := s.entries.Get(key)
	if errors.Is(err, ttlcache.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "memory get %s", key)
	}
	expiry, ok := v.(time.Time)
	if !ok || !time.Now().Before(expiry) {
		return time.Time{}, false, nil
	}
	return expiry, true, nil
}
