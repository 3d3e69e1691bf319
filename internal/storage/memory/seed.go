package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"staysearch/internal/domain"
)

// seed file layout for STORAGE=memory
type seedFile struct {
	Currencies []domain.Currency `json:"currencies"`
	Units      []seedUnit        `json:"units"`
	Schedule   []seedDay         `json:"schedule"`
}

type seedUnit struct {
	UnitID         int64             `json:"unitId"`
	PropertyID     int64             `json:"propertyId"`
	UnitName       string            `json:"unitName"`
	PropertyName   string            `json:"propertyName"`
	City           string            `json:"city"`
	PropertyTypeID int64             `json:"propertyTypeId"`
	MaxCapacity    int               `json:"maxCapacity"`
	AverageRating  float64           `json:"averageRating"`
	Lat            *float64          `json:"lat"`
	Lon            *float64          `json:"lon"`
	BasePrice      decimal.Decimal   `json:"basePrice"`
	Currency       string            `json:"currency"`
	Tags           []string          `json:"tags"`
	Settings       map[string]string `json:"settings"`
	Approved       *bool             `json:"approved"`
	Active         *bool             `json:"active"`
}

type seedDay struct {
	UnitID   int64            `json:"unitId"`
	From     string           `json:"from"`
	To       string           `json:"to"`
	Status   string           `json:"status"`
	Price    *decimal.Decimal `json:"price"`
	Currency string           `json:"currency"`
	Tier     *string          `json:"tier"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// LoadSeed fills s from a JSON seed file. Schedule entries are ranges that
// expand to one row per day.
func (s *Store) LoadSeed(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read seed")
	}
	var f seedFile
	if err := json.Unmarshal(b, &f); err != nil {
		return errors.Wrap(err, "decode seed")
	}
	now := s.clock.Now().UTC()
	for i := range f.Currencies {
		if f.Currencies[i].UpdatedAt.IsZero() {
			f.Currencies[i].UpdatedAt = now
		}
	}
	s.SetCurrencies(f.Currencies)

	for _, u := range f.Units {
		l := domain.UnitListing{
			UnitID: u.UnitID, PropertyID: u.PropertyID,
			UnitName: u.UnitName, PropertyName: u.PropertyName,
			City: u.City, PropertyTypeID: u.PropertyTypeID,
			MaxCapacity: u.MaxCapacity, AverageRating: u.AverageRating,
			BasePrice: u.BasePrice, Currency: domain.NormalizeCode(u.Currency),
			Tags: u.Tags, Settings: u.Settings,
			PropertyApproved: boolOr(u.Approved, true),
			UnitActive:       boolOr(u.Active, true),
		}
		if u.Lat != nil && u.Lon != nil {
			l.Coords = &domain.Coords{Lat: *u.Lat, Lon: *u.Lon}
		}
		s.PutUnit(l)
	}

	var rows []domain.ScheduleDay
	var bookings []domain.RangeTransition
	for i, d := range f.Schedule {
		r, err := domain.ParseDateRange(d.From, d.To)
		if err != nil {
			return errors.Wrapf(err, "schedule[%d]", i)
		}
		st, err := domain.ParseDayStatus(d.Status)
		if err != nil {
			return errors.Wrapf(err, "schedule[%d]", i)
		}
		if st != domain.StatusAvailable {
			// applied over days published by an earlier entry
			ref := seedRef(st, d.UnitID, r)
			bookings = append(bookings, domain.RangeTransition{UnitID: d.UnitID, Range: r, Status: st, BookingRef: ref})
			continue
		}
		for _, day := range r.Days() {
			rows = append(rows, domain.ScheduleDay{
				UnitID: d.UnitID, Day: day, Status: domain.StatusAvailable,
				Price: d.Price, Currency: d.Currency, Tier: d.Tier,
			})
		}
	}
	if err := s.BulkUpsert(ctx, rows); err != nil {
		return errors.Wrap(err, "seed schedule")
	}
	for _, t := range bookings {
		if err := s.MarkRangeStatus(ctx, t); err != nil {
			return errors.Wrapf(err, "seed %s %d %s", t.Status, t.UnitID, t.Range)
		}
	}
	return nil
}

func seedRef(st domain.DayStatus, unitID int64, r domain.DateRange) *string {
	if st != domain.StatusBooked {
		return nil
	}
	ref := fmt.Sprintf("seed-%d-%s", unitID, r.From.Format("20060102"))
	return &ref
}
