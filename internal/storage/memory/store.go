// Package memory holds in-process implementations of the catalog, schedule
// and currency ports. It backs STORAGE=memory and the composer tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"staysearch/internal/domain"
	"staysearch/internal/shared"
)

var (
	_ domain.CatalogReader      = (*Store)(nil)
	_ domain.ScheduleStore      = (*Store)(nil)
	_ domain.CurrencyRepository = (*Store)(nil)
)

type Store struct {
	clock shared.Clock

	mu         sync.RWMutex
	units      map[int64]domain.UnitListing
	days       map[int64]map[int64]domain.ScheduleDay // unit -> unix day -> row
	currencies []domain.Currency
}

func New(clock shared.Clock) *Store {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Store{
		clock: clock,
		units: map[int64]domain.UnitListing{},
		days:  map[int64]map[int64]domain.ScheduleDay{},
	}
}

func key(t time.Time) int64 { return domain.Day(t).Unix() }

/********** catalog **********/

// PutUnit inserts or replaces catalog metadata.
func (s *Store) PutUnit(u domain.UnitListing) {
	s.mu.Lock()
	s.units[u.UnitID] = u
	s.mu.Unlock()
}

func (s *Store) ListCandidates(ctx context.Context, f domain.StructuralFilter) ([]domain.UnitListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable(err, "list candidates")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UnitListing, 0, len(s.units))
	for _, u := range s.units {
		if f.Matches(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}

func (s *Store) GetUnit(ctx context.Context, id int64) (domain.UnitListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok || u.DeletedAt != nil {
		return domain.UnitListing{}, errors.Wrapf(domain.ErrNotFound, "unit %d", id)
	}
	return u, nil
}

func (s *Store) ListUnitIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.units))
	for id, u := range s.units {
		if u.Eligible() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

/********** currencies **********/

func (s *Store) SetCurrencies(rows []domain.Currency) {
	s.mu.Lock()
	s.currencies = append([]domain.Currency(nil), rows...)
	s.mu.Unlock()
}

func (s *Store) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Currency(nil), s.currencies...), nil
}

/********** schedule reads **********/

func (s *Store) GetRange(ctx context.Context, unitID int64, r domain.DateRange) ([]domain.ScheduleDay, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rangeLocked(unitID, r), nil
}

func (s *Store) GetRanges(ctx context.Context, unitIDs []int64, r domain.DateRange) (map[int64][]domain.ScheduleDay, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable(err, "get ranges")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64][]domain.ScheduleDay, len(unitIDs))
	for _, id := range unitIDs {
		if rows := s.rangeLocked(id, r); len(rows) > 0 {
			out[id] = rows
		}
	}
	return out, nil
}

func (s *Store) IsAvailable(ctx context.Context, unitID int64, r domain.DateRange) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.rangeLocked(unitID, r)
	if len(rows) != r.Nights() {
		return false, nil
	}
	for _, d := range rows {
		if d.Status != domain.StatusAvailable {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) rangeLocked(unitID int64, r domain.DateRange) []domain.ScheduleDay {
	byDay := s.days[unitID]
	if len(byDay) == 0 {
		return nil
	}
	var out []domain.ScheduleDay
	if r.Nights() > len(byDay) {
		// walk the stored rows, not the calendar
		for _, d := range byDay {
			if r.Contains(d.Day) {
				out = append(out, d)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
		return out
	}
	for _, day := range r.Days() {
		if d, ok := byDay[key(day)]; ok {
			out = append(out, d)
		}
	}
	return out
}

/********** schedule writes **********/

func (s *Store) BulkUpsert(ctx context.Context, rows []domain.ScheduleDay) error {
	if err := domain.ValidateBatch(rows); err != nil {
		return err
	}
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Day = domain.Day(r.Day)
		r.Currency = domain.NormalizeCode(r.Currency)
		byDay := s.days[r.UnitID]
		if byDay == nil {
			byDay = map[int64]domain.ScheduleDay{}
			s.days[r.UnitID] = byDay
		}
		k := key(r.Day)
		r.UpdatedAt = now
		if prev, ok := byDay[k]; ok {
			r.CreatedAt, r.CreatedBy = prev.CreatedAt, prev.CreatedBy
			if prev.Status == domain.StatusBooked {
				r.Status, r.BookingRef = prev.Status, prev.BookingRef
			}
		} else {
			r.CreatedAt = now
		}
		byDay[k] = r
	}
	return nil
}

func (s *Store) MarkRangeStatus(ctx context.Context, t domain.RangeTransition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rangeLocked(t.UnitID, t.Range)
	if err := domain.CheckTransition(t, rows); err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	byDay := s.days[t.UnitID]
	for _, r := range rows {
		byDay[key(r.Day)] = t.Apply(r, now)
	}
	return nil
}

func (s *Store) DeleteRange(ctx context.Context, unitID int64, r domain.DateRange) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	byDay := s.days[unitID]
	for _, day := range r.Days() {
		k := key(day)
		if d, ok := byDay[k]; ok && d.Status != domain.StatusBooked {
			delete(byDay, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeUnit(ctx context.Context, unitID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.days[unitID]))
	delete(s.days, unitID)
	return n, nil
}
