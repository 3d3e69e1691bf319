package currency

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"staysearch/internal/adapters/observability"
	"staysearch/internal/domain"
	"staysearch/internal/shared"
)

const sharedKey = "currency:table:v1"

// Cache is a TTL-bounded read-through holder of the current Table.
// The optional shared level lets several API replicas reuse one load.
type Cache struct {
	repo   domain.CurrencyRepository
	shared domain.Cache
	ttl    time.Duration
	clock  shared.Clock

	mu      sync.RWMutex
	cur     *Table
	expires time.Time
	group   singleflight.Group
}

func NewCache(repo domain.CurrencyRepository, sharedCache domain.Cache, ttl time.Duration, clock shared.Clock) *Cache {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Cache{repo: repo, shared: sharedCache, ttl: ttl, clock: clock}
}

// Table returns the cached snapshot, loading it when expired. A failed reload
// keeps serving the previous snapshot; with no previous snapshot the error is
// marked unavailable.
func (c *Cache) Table(ctx context.Context) (*Table, error) {
	now := c.clock.Now()
	c.mu.RLock()
	cur, exp := c.cur, c.expires
	c.mu.RUnlock()
	if cur != nil && now.Before(exp) {
		observability.ObserveCache("currency", "hit")
		return cur, nil
	}
	observability.ObserveCache("currency", "miss")

	v, err, _ := c.group.Do("load", func() (any, error) {
		return c.load(ctx, true)
	})
	if err != nil {
		if cur != nil {
			observability.ObserveCache("currency", "stale")
			log.Warn().Err(err).Time("loaded_at", cur.LoadedAt()).Msg("currency reload failed, serving previous table")
			return cur, nil
		}
		return nil, domain.Unavailable(err, "load currency table")
	}
	return v.(*Table), nil
}

// Refresh bypasses both cache levels and reloads from the repository.
func (c *Cache) Refresh(ctx context.Context) (*Table, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.load(ctx, false)
	})
	if err != nil {
		return nil, domain.Unavailable(err, "refresh currency table")
	}
	return v.(*Table), nil
}

func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.cur, c.expires = nil, time.Time{}
	c.mu.Unlock()
	if c.shared != nil {
		_ = c.shared.Del(ctx, sharedKey)
	}
}

func (c *Cache) load(ctx context.Context, useShared bool) (*Table, error) {
	var rows []domain.Currency
	fromShared := false
	if useShared && c.shared != nil {
		if ok, err := c.shared.Get(ctx, sharedKey, &rows); err == nil && ok && len(rows) > 0 {
			fromShared = true
		}
	}
	if !fromShared {
		var err error
		if rows, err = c.repo.ListCurrencies(ctx); err != nil {
			return nil, err
		}
	}
	now := c.clock.Now()
	t, err := NewTable(rows, now)
	if err != nil {
		return nil, err
	}
	if !fromShared && c.shared != nil {
		_ = c.shared.Set(ctx, sharedKey, rows, int(c.ttl.Seconds()))
	}
	c.mu.Lock()
	c.cur, c.expires = t, now.Add(c.ttl)
	c.mu.Unlock()
	return t, nil
}
