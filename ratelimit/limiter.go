package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"go-faucet/logger"
)

// DefaultWindow is the cooldown applied to a (wallet, token) pair after a disbursement.
const DefaultWindow = 24 * time.Hour

// Status is the read-only view of a key's cooldown.
type Status struct {
	Limited   bool
	Remaining time.Duration
}

// RemainingSeconds rounds the remaining cooldown up to whole seconds.
func (s Status) RemainingSeconds() uint64 {
	if !s.Limited || s.Remaining <= 0 {
		return 0
	}
	return uint64((s.Remaining + time.Second - 1) / time.Second)
}

// Limiter enforces one admission per key per window. It is the only reader
// and writer of rate limit state and is safe for concurrent use.
type Limiter struct {
	store  Store
	window time.Duration
	lggr   logger.Logger
}

func New(store Store, window time.Duration, lggr logger.Logger) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: store, window: window, lggr: lggr}
}

// Key derives the rate limit key for a wallet and token symbol.
func Key(wallet, tokenSymbol string) string {
	return strings.ToLower(wallet) + ":" + tokenSymbol
}

func (l *Limiter) Window() time.Duration { return l.window }

// CheckAndSet admits key and starts its cooldown, or reports false without
// touching the existing expiry when the key is still cooling down.
func (l *Limiter) CheckAndSet(ctx context.Context, key string) (bool, error) {
	admitted, err := l.store.SetIfAbsent(ctx, key, l.window)
	if err != nil {
		return false, errors.Wrapf(err, "check and set %s", key)
	}
	l.lggr.Debugw("Rate limit checked", "key", key, "admitted", admitted, "store", l.store.Name())
	return admitted, nil
}

// Status reads the cooldown on key without side effects.
func (l *Limiter) Status(ctx context.Context, key string) (Status, error) {
	remaining, exists, err := l.store.TTL(ctx, key)
	if err != nil {
		return Status{}, errors.Wrapf(err, "status %s", key)
	}
	if !exists {
		return Status{}, nil
	}
	return Status{Limited: true, Remaining: remaining}, nil
}

// Clear removes any cooldown on key and reports whether one was present.
func (l *Limiter) Clear(ctx context.Context, key string) (bool, error) {
	removed, err := l.store.Delete(ctx, key)
	if err != nil {
		return false, errors.Wrapf(err, "clear %s", key)
	}
	if removed {
		l.lggr.Infow("Rate limit cleared", "key", key)
	}
	return removed, nil
}
