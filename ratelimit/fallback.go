package ratelimit

import (
	"context"
	"time"

	"go-faucet/logger"
)

// FallbackStore forwards to a networked primary and answers from process
// memory whenever the primary errors. Keys admitted during an outage are not
// visible to other instances.
type FallbackStore struct {
	primary  Store
	fallback Store
	lggr     logger.Logger
}

func NewFallbackStore(primary, fallback Store, lggr logger.Logger) *FallbackStore {
	return &FallbackStore{primary: primary, fallback: fallback, lggr: lggr}
}

func (s *FallbackStore) Name() string {
	return s.primary.Name() + "+" + s.fallback.Name()
}

func (s *FallbackStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.primary.SetIfAbsent(ctx, key, ttl)
	if err == nil {
		return ok, nil
	}
	s.degraded("SetIfAbsent", key, err)
	return s.fallback.SetIfAbsent(ctx, key, ttl)
}

func (s *FallbackStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, ok, err := s.primary.TTL(ctx, key)
	if err == nil {
		return d, ok, nil
	}
	s.degraded("TTL", key, err)
	return s.fallback.TTL(ctx, key)
}

// Delete clears both stores so a key admitted during an outage can be reset too.
func (s *FallbackStore) Delete(ctx context.Context, key string) (bool, error) {
	local, lerr := s.fallback.Delete(ctx, key)
	if lerr != nil {
		s.lggr.Warnw("In-memory rate limit delete failed", "key", key, "err", lerr)
	}
	ok, err := s.primary.Delete(ctx, key)
	if err != nil {
		s.degraded("Delete", key, err)
		return local, nil
	}
	return ok || local, nil
}

func (s *FallbackStore) degraded(op, key string, err error) {
	s.lggr.Warnw("Rate limit store unavailable, using in-memory fallback",
		"op", op, "key", key, "store", s.primary.Name(), "err", err)
}
