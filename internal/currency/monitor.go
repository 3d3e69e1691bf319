package currency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"staysearch/internal/adapters/observability"
	"staysearch/internal/shared"
)

// Freshness is the outcome of one staleness check.
type Freshness struct {
	Base      string        `json:"base"`
	Fresh     bool          `json:"fresh"`
	OldestAt  time.Time     `json:"oldestUpdatedAt"`
	OldestAge time.Duration `json:"-"`
	MaxAge    time.Duration `json:"-"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Monitor periodically reloads the rate table and flags stale rates.
// Stale rates never fail a search; they are only reported.
type Monitor struct {
	cache  *Cache
	maxAge time.Duration
	clock  shared.Clock
	cron   *cron.Cron
}

func NewMonitor(cache *Cache, maxAge time.Duration, clock shared.Clock) *Monitor {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	return &Monitor{cache: cache, maxAge: maxAge, clock: clock, cron: c}
}

// Check reloads the table and evaluates it.
func (m *Monitor) Check(ctx context.Context) (Freshness, error) {
	t, err := m.cache.Refresh(ctx)
	if err != nil {
		log.Error().Err(err).Msg("currency freshness check failed")
		return Freshness{}, err
	}
	return m.Evaluate(t), nil
}

// Evaluate computes freshness of t, updates gauges and logs stale rates.
func (m *Monitor) Evaluate(t *Table) Freshness {
	now := m.clock.Now()
	f := Freshness{
		Base:      t.Base(),
		Fresh:     t.RatesAreFresh(now, m.maxAge),
		OldestAt:  t.OldestUpdate(),
		MaxAge:    m.maxAge,
		CheckedAt: now,
	}
	if !f.OldestAt.IsZero() {
		f.OldestAge = now.Sub(f.OldestAt)
	}
	observability.SetRateFreshness(f.OldestAge, !f.Fresh)
	if !f.Fresh {
		log.Warn().
			Dur("oldest_age", f.OldestAge).
			Dur("max_age", m.maxAge).
			Time("oldest_updated_at", f.OldestAt).
			Msg("currency rates are stale")
	}
	return f
}

// Run schedules Check on a cron expression and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context, cronExpr string) error {
	if _, err := m.cron.AddFunc(cronExpr, func() {
		_, _ = m.Check(ctx)
	}); err != nil {
		return errors.Wrapf(err, "schedule currency monitor %q", cronExpr)
	}
	if _, err := m.Check(ctx); err != nil {
		log.Warn().Err(err).Msg("initial currency check failed")
	}
	m.cron.Start()
	log.Info().Str("schedule", cronExpr).Msg("currency monitor started")

	<-ctx.Done()
	stop := m.cron.Stop()
	<-stop.Done()
	log.Info().Msg("currency monitor stopped")
	return nil
}
