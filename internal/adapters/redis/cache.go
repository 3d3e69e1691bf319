package redisad

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"staysearch/internal/adapters/observability"
	"staysearch/internal/domain"
)

const keyPrefix = "staysearch:"

var _ domain.Cache = (*Cache)(nil)

// Cache is a JSON value cache shared by every replica. It only holds
// reference data; schedule rows never go through it.
type Cache struct{ c redis.UniversalClient }

func New(addr, pass string, db int) *Cache {
	return &Cache{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

func NewFromClient(c redis.UniversalClient) *Cache { return &Cache{c: c} }

func (r *Cache) Ping(ctx context.Context) error {
	return domain.Unavailable(r.c.Ping(ctx).Err(), "redis ping")
}

func (r *Cache) Close() error { return r.c.Close() }

func (r *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	v, err := r.c.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCache("redis", "miss")
		return false, nil
	}
	if err != nil {
		observability.ObserveCache("redis", "error")
		return false, domain.Unavailable(err, "redis get")
	}
	if err := json.Unmarshal(v, dst); err != nil {
		// an entry written by an incompatible version; drop it
		log.Warn().Str("key", key).Err(err).Msg("undecodable cache entry")
		_ = r.c.Del(ctx, keyPrefix+key).Err()
		observability.ObserveCache("redis", "miss")
		return false, nil
	}
	observability.ObserveCache("redis", "hit")
	return true, nil
}

func (r *Cache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	observability.ObserveCache("redis", "set")
	return domain.Unavailable(r.c.Set(ctx, keyPrefix+key, b, time.Duration(ttlSec)*time.Second).Err(), "redis set")
}

func (r *Cache) Del(ctx context.Context, key string) error {
	observability.ObserveCache("redis", "del")
	return domain.Unavailable(r.c.Del(ctx, keyPrefix+key).Err(), "redis del")
}
