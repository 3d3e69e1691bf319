package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"staysearch/internal/domain"
	"staysearch/internal/shared"
)

const publisherActor = "horizon-publisher"

// HorizonPublisher pulls each unit's pricing/availability horizon from the
// property service and writes it into the schedule store.
type HorizonPublisher struct {
	source   domain.HorizonSource
	catalog  domain.CatalogReader
	schedule *ScheduleService
	clock    shared.Clock
	days     int
}

func NewHorizonPublisher(src domain.HorizonSource, cat domain.CatalogReader, sched *ScheduleService, clock shared.Clock, days int) *HorizonPublisher {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if days <= 0 {
		days = 365
	}
	days = min(days, domain.MaxSpanNights)
	return &HorizonPublisher{source: src, catalog: cat, schedule: sched, clock: clock, days: days}
}

type PublishResult struct {
	UnitID  int64
	Rows    int
	Cleared int64
	Skipped string // why nothing was written, if so
}

// Horizon is the window published for every unit, starting today.
func (p *HorizonPublisher) Horizon() domain.DateRange {
	from := domain.Day(p.clock.Now())
	return domain.DateRange{From: from, To: from.AddDate(0, 0, p.days)}
}

// PublishUnit refreshes one unit. With regenerate, non-booked days of the
// horizon are cleared first so days the property no longer sells disappear.
func (p *HorizonPublisher) PublishUnit(ctx context.Context, unitID int64, regenerate bool) (PublishResult, error) {
	res := PublishResult{UnitID: unitID}

	// 1) Unit must still be listed. A removed unit loses its schedule.
	u, err := p.catalog.GetUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			n, perr := p.schedule.PurgeUnit(ctx, unitID)
			if perr != nil {
				return res, perr
			}
			res.Cleared, res.Skipped = n, "unit removed"
			return res, nil
		}
		return res, err
	}

	// 2) Fetch. 404 means the property service has nothing published yet.
	h := p.Horizon()
	raw, err := p.source.GetHorizon(ctx, unitID, h.From, p.days)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Info().Int64("unit_id", unitID).Msg("no horizon published")
			res.Skipped = "no horizon"
			return res, nil
		}
		return res, errors.Wrapf(err, "fetch horizon for unit %d", unitID)
	}

	rows := mapHorizon(unitID, domain.NormalizeCode(u.Currency), raw, publisherActor)
	inWindow := rows[:0]
	for _, r := range rows {
		if h.Contains(r.Day) {
			inWindow = append(inWindow, r)
		}
	}
	rows = inWindow

	// 3) Regenerate, then upsert. Booked days survive both steps.
	if regenerate {
		if res.Cleared, err = p.schedule.ClearRange(ctx, unitID, h); err != nil {
			return res, err
		}
	}
	if len(rows) == 0 {
		res.Skipped = "empty horizon"
		return res, nil
	}
	if err := p.schedule.Publish(ctx, unitID, rows); err != nil {
		return res, errors.Wrapf(err, "publish unit %d", unitID)
	}
	res.Rows = len(rows)
	return res, nil
}

type PublishSummary struct {
	Units  int
	Failed int
	Rows   int64
}

// PublishAll refreshes every listed unit with at most workers in flight.
func (p *HorizonPublisher) PublishAll(ctx context.Context, workers int, regenerate bool) (PublishSummary, error) {
	ids, err := p.catalog.ListUnitIDs(ctx)
	if err != nil {
		return PublishSummary{}, err
	}
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	var failed, rows atomic.Int64

	for _, id := range ids {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(unitID int64) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := p.PublishUnit(ctx, unitID, regenerate)
			if err != nil {
				failed.Add(1)
				log.Warn().Int64("unit_id", unitID).Err(err).Msg("publish failed")
				return
			}
			rows.Add(int64(res.Rows))
			log.Debug().Int64("unit_id", unitID).Int("rows", res.Rows).Str("skipped", res.Skipped).Msg("publish ok")
		}(id)
	}
	wg.Wait()

	sum := PublishSummary{Units: len(ids), Failed: int(failed.Load()), Rows: rows.Load()}
	return sum, ctx.Err()
}
