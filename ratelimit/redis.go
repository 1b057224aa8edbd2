package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps cooldown keys in Redis under a common prefix. The stored
// value is the unix expiry time of the key.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "faucet",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

// SetIfAbsent issues SET key value EX ttl NX, which admits exactly one caller
// per live key across every faucet instance sharing the keyspace.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	expiry := strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	ok, err := s.rdb.SetNX(ctx, s.key(key), expiry, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis set %s", key)
	}
	return ok, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.rdb.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, false, errors.Wrapf(err, "redis ttl %s", key)
	}
	switch {
	case d == -2:
		// -2: key does not exist
		return 0, false, nil
	case d < 0:
		// -1: key exists without an expiry
		return 0, true, nil
	}
	return d, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis del %s", key)
	}
	return n > 0, nil
}
