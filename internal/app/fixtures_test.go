package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"staysearch/internal/app"
	"staysearch/internal/currency"
	"staysearch/internal/domain"
	"staysearch/internal/shared"
	"staysearch/internal/storage/memory"
)

// ---- fixture catalog ----

var day0 = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

func ptr[T any](v T) *T { return &v }

func dec(s string) *decimal.Decimal { d := decimal.RequireFromString(s); return &d }

var cities = []string{"Novi Sad", "Beograd", "Niš"}

var centers = map[string]domain.Coords{
	"Novi Sad": {Lat: 45.2671, Lon: 19.8335},
	"Beograd":  {Lat: 44.7866, Lon: 20.4489},
	"Niš":      {Lat: 43.3209, Lon: 21.8958},
}

var unitCurrencies = []string{"RSD", "EUR", "USD"}

const (
	generated     = 60
	unitNoRows    = 61 // eligible, never published
	unitHidden    = 62 // property not approved
	unitPartial   = 63 // days 3 and 4 missing
	unitMeridien  = 1
	horizonLength = 30
)

func basePrice(i int, cur string) decimal.Decimal {
	switch cur {
	case "EUR":
		return decimal.NewFromInt(int64(40 + (i*7)%90))
	case "USD":
		return decimal.NewFromInt(int64(45 + (i*11)%100))
	}
	return decimal.NewFromInt(int64(5000 + (i*731)%10000))
}

type fixture struct {
	store  *memory.Store
	clock  *shared.MockClock
	rates  *currency.Cache
	search *app.SearchService
	cfg    app.SearchConfig
}

func rateRows(updated time.Time) []domain.Currency {
	return []domain.Currency{
		{Code: "RSD", Rate: decimal.NewFromInt(1), IsDefault: true, MinorUnits: 2, UpdatedAt: updated},
		{Code: "EUR", Rate: decimal.RequireFromString("117.2"), MinorUnits: 2, UpdatedAt: updated},
		{Code: "USD", Rate: decimal.RequireFromString("108.5"), MinorUnits: 2, UpdatedAt: updated},
	}
}

func newFixture(t *testing.T, mutate ...func(*app.SearchConfig)) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := shared.NewMockClock(day0.Add(9 * time.Hour))
	st := memory.New(clock)
	st.SetCurrencies(rateRows(day0))

	var rows []domain.ScheduleDay
	for i := 1; i <= generated; i++ {
		city := cities[i%3]
		cur := unitCurrencies[(i/3)%3]
		c := centers[city]
		u := domain.UnitListing{
			UnitID: int64(i), PropertyID: int64(1000 + i),
			UnitName: "Room A", PropertyName: fmt.Sprintf("Residence %d", i),
			City: city, PropertyTypeID: int64(1 + i%2),
			MaxCapacity: 1 + i%6, AverageRating: float64(i % 11),
			Coords:    &domain.Coords{Lat: c.Lat + float64(i%7)*0.01, Lon: c.Lon + float64(i%5)*0.01},
			BasePrice: basePrice(i, cur), Currency: cur,
			PropertyApproved: true, UnitActive: true,
		}
		if i == unitMeridien {
			u.PropertyName = "Hôtel Mëridien"
		}
		st.PutUnit(u)

		for d := 0; d < horizonLength; d++ {
			r := domain.ScheduleDay{UnitID: u.UnitID, Day: day(d), Status: domain.StatusAvailable}
			if i%5 != 0 { // every fifth unit prices from its base
				p := u.BasePrice
				if d%7 == 5 || d%7 == 6 {
					p = p.Mul(decimal.RequireFromString("1.1"))
				}
				r.Price, r.Currency = &p, cur
			}
			rows = append(rows, r)
		}
	}
	st.PutUnit(domain.UnitListing{
		UnitID: unitNoRows, PropertyID: 2001, UnitName: "Attic", PropertyName: "Empty Horizon House",
		City: "Novi Sad", PropertyTypeID: 1, MaxCapacity: 4, AverageRating: 7,
		BasePrice: decimal.NewFromInt(9000), Currency: "RSD", PropertyApproved: true, UnitActive: true,
	})
	st.PutUnit(domain.UnitListing{
		UnitID: unitHidden, PropertyID: 2002, UnitName: "Suite", PropertyName: "Pending Review",
		City: "Novi Sad", PropertyTypeID: 1, MaxCapacity: 4, AverageRating: 7,
		BasePrice: decimal.NewFromInt(9000), Currency: "RSD", PropertyApproved: false, UnitActive: true,
	})
	st.PutUnit(domain.UnitListing{
		UnitID: unitPartial, PropertyID: 2003, UnitName: "Garden", PropertyName: "Half Published",
		City: "Novi Sad", PropertyTypeID: 1, MaxCapacity: 4, AverageRating: 7,
		BasePrice: decimal.NewFromInt(9000), Currency: "RSD", PropertyApproved: true, UnitActive: true,
	})
	for d := 0; d < horizonLength; d++ {
		if d == 3 || d == 4 {
			continue
		}
		rows = append(rows, domain.ScheduleDay{UnitID: unitPartial, Day: day(d), Status: domain.StatusAvailable})
	}
	if err := st.BulkUpsert(ctx, rows); err != nil {
		t.Fatal(err)
	}

	for i := 3; i <= generated; i += 3 {
		ref := fmt.Sprintf("BK-%d", i)
		if err := st.MarkRangeStatus(ctx, domain.RangeTransition{UnitID: int64(i), Range: rng(5, 9), Status: domain.StatusBooked, BookingRef: &ref}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 7; i <= generated; i += 7 {
		if err := st.MarkRangeStatus(ctx, domain.RangeTransition{UnitID: int64(i), Range: rng(12, 13), Status: domain.StatusBlocked}); err != nil {
			t.Fatal(err)
		}
	}

	cfg := app.SearchConfig{
		Timeout: 2 * time.Second, MaxPageSize: 100, DefaultPageSize: 20, MaxNights: 30,
		MissingDay: app.MissingUnavailable, SimilarityThreshold: 0.3, RateMaxAge: 24 * time.Hour,
		RangeChunk: 16,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	rates := currency.NewCache(st, nil, time.Hour, clock)
	return &fixture{
		store: st, clock: clock, rates: rates, cfg: cfg,
		search: app.NewSearchService(st, st, rates, clock, cfg),
	}
}

func rng(from, to int) domain.DateRange { return domain.DateRange{From: day(from), To: day(to)} }

// all runs req with a page size large enough to see every match.
func (f *fixture) all(t *testing.T, req domain.SearchRequest) domain.SearchPage {
	t.Helper()
	req.PageSize = ptr(100)
	p, err := f.search.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(p.Items) != p.TotalCount {
		t.Fatalf("fixture catalog must fit one page: %d of %d", len(p.Items), p.TotalCount)
	}
	return p
}

func (f *fixture) table(t *testing.T) *currency.Table {
	t.Helper()
	tb, err := f.rates.Table(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return tb
}

func ids(items []domain.SearchResultItem) map[int64]bool {
	out := make(map[int64]bool, len(items))
	for _, it := range items {
		out[it.UnitID] = true
	}
	return out
}
