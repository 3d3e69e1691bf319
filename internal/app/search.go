package app

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"staysearch/internal/adapters/observability"
	"staysearch/internal/currency"
	"staysearch/internal/domain"
	"staysearch/internal/shared"
)

// RateSource hands out the current rate table snapshot.
type RateSource interface {
	Table(ctx context.Context) (*currency.Table, error)
}

type SearchConfig struct {
	Timeout             time.Duration
	MaxPageSize         int
	DefaultPageSize     int
	MaxNights           int
	MissingDay          MissingDayPolicy
	SimilarityThreshold float64
	RateMaxAge          time.Duration
	RangeChunk          int // units per batched schedule read
	RangeParallelism    int
}

func SearchConfigFrom(c shared.Config) SearchConfig {
	return SearchConfig{
		Timeout:             c.SearchTimeout,
		MaxPageSize:         c.MaxPageSize,
		DefaultPageSize:     c.DefaultPageSize,
		MaxNights:           c.MaxNights,
		MissingDay:          MissingDayPolicy(c.MissingDayPolicy),
		SimilarityThreshold: c.SimilarityThreshold,
		RateMaxAge:          c.RateMaxAge,
	}
}

// SearchService composes catalog metadata, schedule state and currency rates
// into one ranked, paginated answer.
type SearchService struct {
	catalog  domain.CatalogReader
	schedule domain.ScheduleReader
	rates    RateSource
	clock    shared.Clock
	cfg      SearchConfig
}

func NewSearchService(cat domain.CatalogReader, sched domain.ScheduleReader, rates RateSource, clock shared.Clock, cfg SearchConfig) *SearchService {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.DefaultPageSize <= 0 || cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = min(20, cfg.MaxPageSize)
	}
	if cfg.MissingDay == "" {
		cfg.MissingDay = MissingUnavailable
	}
	if cfg.RangeChunk <= 0 {
		cfg.RangeChunk = 500
	}
	if cfg.RangeParallelism <= 0 {
		cfg.RangeParallelism = 4
	}
	return &SearchService{catalog: cat, schedule: sched, rates: rates, clock: clock, cfg: cfg}
}

// Search runs the filter pipeline: structural, availability, price, rating,
// text, geo, then totals, ranking and pagination.
func (s *SearchService) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchPage, error) {
	start := time.Now()
	page, err := s.search(ctx, req)
	dur := time.Since(start)
	switch {
	case err == nil:
		page.SearchTimeMs = float64(dur.Microseconds()) / 1000
		observability.ObserveSearch("ok", page.TotalCount, dur)
		log.Debug().
			Int("total", page.TotalCount).
			Int("page", page.PageNumber).
			Dur("took", dur).
			Msg("search completed")
	case errors.Is(err, domain.ErrUnavailable):
		observability.ObserveSearch("unavailable", 0, dur)
		log.Error().Err(err).Dur("took", dur).Msg("search failed")
	default:
		observability.ObserveSearch("invalid", 0, dur)
	}
	return page, err
}

func (s *SearchService) search(ctx context.Context, req domain.SearchRequest) (domain.SearchPage, error) {
	q, err := s.normalize(req)
	if err != nil {
		return domain.SearchPage{}, err
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	tb, err := s.rates.Table(ctx)
	if err != nil {
		return domain.SearchPage{}, infra(err, "rate table")
	}
	display := q.currency != ""
	if !display {
		q.currency = tb.Base()
	} else if !tb.Supports(q.currency) {
		ve := &domain.ValidationError{}
		ve.Add("currency", domain.ReasonUnsupported, "unknown currency "+q.currency)
		return domain.SearchPage{}, ve
	}
	stale := !tb.RatesAreFresh(s.clock.Now(), s.cfg.RateMaxAge)
	if stale {
		log.Warn().Time("oldest_rate", tb.OldestUpdate()).Msg("searching with stale currency rates")
	}

	// 1. structural
	units, err := s.catalog.ListCandidates(ctx, q.filter)
	if err != nil {
		return domain.SearchPage{}, infra(err, "list candidates")
	}

	// 2. availability reads, batched
	var schedules map[int64][]domain.ScheduleDay
	if q.hasStay && len(units) > 0 {
		if schedules, err = s.loadRanges(ctx, units, q.stay); err != nil {
			return domain.SearchPage{}, infra(err, "load schedules")
		}
	}

	bands := newBandConverter(q, tb)
	survivors := make([]ranked, 0, len(units))
	for i, u := range units {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return domain.SearchPage{}, infra(err, "evaluate candidates")
			}
		}
		r, ok := s.evaluate(u, q, schedules[u.UnitID], tb, bands)
		if ok {
			survivors = append(survivors, r)
		}
	}

	// 5. text
	survivors, match := s.filterText(survivors, q.text)

	// 6. geo
	if q.center != nil {
		kept := survivors[:0]
		for _, r := range survivors {
			if r.item.DistanceKm == nil {
				continue
			}
			if q.radiusKm > 0 && *r.item.DistanceKm > q.radiusKm {
				continue
			}
			kept = append(kept, r)
		}
		survivors = kept
	}

	if display {
		for i := range survivors {
			s.attachDisplay(&survivors[i].item, q.currency, tb)
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.SearchPage{}, infra(err, "rank")
	}

	rank(survivors, q.sort)
	items, pages := paginate(survivors, q.page, q.pageSize)
	return domain.SearchPage{
		Items:      items,
		TotalCount: len(survivors),
		PageNumber: q.page,
		PageSize:   q.pageSize,
		TotalPages: pages,
		StaleRates: stale,
		TextMatch:  match,
	}, nil
}

// evaluate applies availability, price, rating and distance to one unit.
func (s *SearchService) evaluate(u domain.UnitListing, q query, rows []domain.ScheduleDay, tb *currency.Table, bands *bandConverter) (ranked, bool) {
	u.Currency = domain.NormalizeCode(u.Currency)
	if !tb.Supports(u.Currency) {
		excluded(u.UnitID, reasonUnknownUnitCur)
		return ranked{}, false
	}
	item := domain.SearchResultItem{
		UnitID:        u.UnitID,
		PropertyID:    u.PropertyID,
		UnitName:      u.UnitName,
		PropertyName:  u.PropertyName,
		City:          u.City,
		MaxCapacity:   u.MaxCapacity,
		AverageRating: u.AverageRating,
		BasePrice:     tb.Money(u.BasePrice, u.Currency),
	}

	nightly := u.BasePrice
	if q.hasStay {
		total, ok, reason := quoteStay(u, rows, q.stay, s.cfg.MissingDay, tb)
		if reason != "" {
			excluded(u.UnitID, reason)
			return ranked{}, false
		}
		if !ok {
			return ranked{}, false
		}
		item.Nights = q.stay.Nights()
		nightly = total.Div(decimal.NewFromInt(int64(item.Nights)))
		tm := tb.Money(total, u.Currency)
		item.TotalPrice = &tm
	}
	item.NightlyPrice = tb.Money(nightly, u.Currency)

	// 3. price band, compared in the unit's currency
	if q.hasBand() {
		b, err := bands.in(u.Currency)
		if err != nil || !b.contains(nightly) {
			return ranked{}, false
		}
	}

	// 4. rating; zero means the property has no ratings yet
	if q.minRating > 0 && u.AverageRating > 0 && u.AverageRating < q.minRating {
		return ranked{}, false
	}

	if q.center != nil && u.Coords != nil {
		d := haversineKm(*q.center, *u.Coords)
		item.DistanceKm = &d
	}

	sortAmount := nightly
	if item.TotalPrice != nil {
		sortAmount = item.TotalPrice.Amount
	}
	base, err := tb.ToBase(sortAmount, u.Currency)
	if err != nil {
		excluded(u.UnitID, reasonUnknownUnitCur)
		return ranked{}, false
	}
	return ranked{item: item, price: base}, true
}

// filterText keeps substring matches, or similarity matches above the
// threshold when nothing matches as a substring.
func (s *SearchService) filterText(rs []ranked, text string) ([]ranked, domain.TextMatch) {
	if text == "" {
		return rs, domain.TextMatchNone
	}
	hits := make([]ranked, 0, len(rs))
	for _, r := range rs {
		if sc := substringScore(text, r.item.PropertyName, r.item.UnitName); sc > 0 {
			r.item.TextScore = sc
			hits = append(hits, r)
		}
	}
	if len(hits) > 0 || s.cfg.SimilarityThreshold <= 0 {
		return hits, domain.TextMatchSubstring
	}
	for _, r := range rs {
		if sc := similarityScore(text, r.item.PropertyName, r.item.UnitName); sc >= s.cfg.SimilarityThreshold {
			r.item.TextScore = sc
			hits = append(hits, r)
		}
	}
	return hits, domain.TextMatchSimilarity
}

func (s *SearchService) attachDisplay(item *domain.SearchResultItem, code string, tb *currency.Table) {
	if n, err := tb.Convert(item.NightlyPrice.Amount, item.NightlyPrice.Currency, code); err == nil {
		m := tb.Money(n, code)
		item.DisplayNightly = &m
	}
	if item.TotalPrice != nil {
		if t, err := tb.Convert(item.TotalPrice.Amount, item.TotalPrice.Currency, code); err == nil {
			m := tb.Money(t, code)
			item.DisplayTotal = &m
		}
	}
}

// loadRanges reads the stay for every candidate in chunks, a few chunks at a time.
func (s *SearchService) loadRanges(ctx context.Context, units []domain.UnitListing, stay domain.DateRange) (map[int64][]domain.ScheduleDay, error) {
	ids := make([]int64, len(units))
	for i, u := range units {
		ids[i] = u.UnitID
	}
	out := make(map[int64][]domain.ScheduleDay, len(ids))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RangeParallelism)
	for from := 0; from < len(ids); from += s.cfg.RangeChunk {
		chunk := ids[from:min(from+s.cfg.RangeChunk, len(ids))]
		g.Go(func() error {
			m, err := s.schedule.GetRanges(gctx, chunk, stay)
			if err != nil {
				return err
			}
			mu.Lock()
			for id, rows := range m {
				out[id] = rows
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func excluded(unitID int64, reason string) {
	observability.ObserveExcluded(reason)
	log.Warn().Int64("unit_id", unitID).Str("reason", reason).Msg("unit excluded")
}

// infra marks err unavailable unless it already is.
func infra(err error, msg string) error {
	if errors.Is(err, domain.ErrUnavailable) {
		return err
	}
	return domain.Unavailable(err, msg)
}
