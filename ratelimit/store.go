package ratelimit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"go-faucet/logger"
)

// Store is the expiring key-value capability behind the Limiter. Implementations
// must make SetIfAbsent atomic per key.
type Store interface {
	// SetIfAbsent stores key with the given ttl unless a live entry already
	// exists. It reports whether the key was set.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key and whether it exists.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)
	// Name identifies the backend in logs.
	Name() string
}

// StoreConfig selects and parameterizes the backing store.
type StoreConfig struct {
	// RedisURL is a redis:// or rediss:// URL. Empty selects the in-memory store.
	RedisURL    string
	Prefix      string
	PingTimeout time.Duration
}

// OpenStore picks the backing store once at startup. A reachable Redis is
// wrapped so that later outages degrade to process memory; an empty or
// unreachable Redis selects the memory store directly. The returned close
// function releases whatever was opened.
func OpenStore(ctx context.Context, cfg StoreConfig, lggr logger.Logger) (Store, func() error, error) {
	mem := NewMemoryStore()
	if cfg.RedisURL == "" {
		lggr.Infow("No redis configured, using in-memory rate limit store")
		return mem, mem.Close, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		_ = mem.Close()
		return nil, nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		lggr.Warnw("Redis unreachable at startup, using in-memory rate limit store", "addr", opts.Addr, "err", err)
		_ = rdb.Close()
		return mem, mem.Close, nil
	}

	lggr.Infow("Using redis rate limit store", "addr", opts.Addr, "prefix", cfg.Prefix)
	store := NewFallbackStore(NewRedisStore(rdb, WithPrefix(cfg.Prefix)), mem, lggr)
	closeFn := func() error {
		return errors.CombineErrors(rdb.Close(), mem.Close())
	}
	return store, closeFn, nil
}
