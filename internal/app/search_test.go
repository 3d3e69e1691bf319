package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"staysearch/internal/app"
	"staysearch/internal/domain"
)

func TestSearch_BrowseReturnsEligibleCatalog(t *testing.T) {
	f := newFixture(t)
	p := f.all(t, domain.SearchRequest{})

	got := ids(p.Items)
	if p.TotalCount != generated+2 {
		t.Fatalf("browse total: want %d, got %d", generated+2, p.TotalCount)
	}
	if got[unitHidden] {
		t.Fatal("unapproved property must never be listed")
	}
	if !got[unitNoRows] {
		t.Fatal("browse mode must include units without schedule rows")
	}
	for _, it := range p.Items {
		if it.TotalPrice != nil || it.Nights != 0 {
			t.Fatalf("browse items carry no stay total: %+v", it)
		}
		if !it.NightlyPrice.Amount.Equal(it.BasePrice.Amount) {
			t.Fatalf("browse nightly price is the base price: %+v", it)
		}
	}
}

func TestSearch_CityExactness(t *testing.T) {
	f := newFixture(t)
	p := f.all(t, domain.SearchRequest{City: "  novi SAD "})
	if p.TotalCount == 0 {
		t.Fatal("expected matches")
	}
	for _, it := range p.Items {
		if it.City != "Novi Sad" {
			t.Fatalf("city leak: %q", it.City)
		}
	}
	if nis := f.all(t, domain.SearchRequest{City: "NIŠ"}); nis.TotalCount == 0 {
		t.Fatal("non-ascii city must fold")
	}
}

func TestSearch_PriceBandUnderConversion(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t)
	lo, hi := decimal.NewFromInt(60), decimal.NewFromInt(95)

	p := f.all(t, domain.SearchRequest{MinPrice: &lo, MaxPrice: &hi, Currency: "eur"})
	if p.TotalCount == 0 {
		t.Fatal("expected matches across currencies")
	}
	cents := decimal.RequireFromString("0.01")
	seen := map[string]bool{}
	for _, it := range p.Items {
		seen[it.NightlyPrice.Currency] = true
		inEUR, err := tb.Convert(it.NightlyPrice.Amount, it.NightlyPrice.Currency, "EUR")
		if err != nil {
			t.Fatal(err)
		}
		if inEUR.LessThan(lo.Sub(cents)) || inEUR.GreaterThan(hi.Add(cents)) {
			t.Fatalf("unit %d nightly %s = %s EUR outside band", it.UnitID, it.NightlyPrice, inEUR)
		}
		if it.DisplayNightly == nil || it.DisplayNightly.Currency != "EUR" {
			t.Fatalf("display amount missing: %+v", it)
		}
	}
	if len(seen) < 2 {
		t.Fatalf("band should match units priced in several currencies, saw %v", seen)
	}
}

func TestSearch_CrossCurrencyEquivalence(t *testing.T) {
	f := newFixture(t)
	rate := decimal.RequireFromString("117.2")
	loRSD, hiRSD := decimal.NewFromInt(6000), decimal.NewFromInt(11000)
	loEUR, hiEUR := loRSD.Div(rate), hiRSD.Div(rate)

	for _, stay := range []bool{false, true} {
		a := domain.SearchRequest{MinPrice: &loRSD, MaxPrice: &hiRSD, Currency: "RSD"}
		b := domain.SearchRequest{MinPrice: &loEUR, MaxPrice: &hiEUR, Currency: "EUR"}
		if stay {
			a.CheckIn, a.CheckOut = ptr(day(1)), ptr(day(4))
			b.CheckIn, b.CheckOut = a.CheckIn, a.CheckOut
		}
		pa, pb := f.all(t, a), f.all(t, b)
		diff := pa.TotalCount - pb.TotalCount
		if diff < -2 || diff > 2 {
			t.Fatalf("stay=%v: RSD band %d vs EUR band %d", stay, pa.TotalCount, pb.TotalCount)
		}
		if pa.TotalCount == 0 {
			t.Fatalf("stay=%v: expected matches", stay)
		}
	}
}

func TestSearch_AvailabilityCorrectness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stay := rng(4, 13)

	p := f.all(t, domain.SearchRequest{CheckIn: &stay.From, CheckOut: &stay.To})
	if p.TotalCount == 0 {
		t.Fatal("expected available units")
	}
	for _, it := range p.Items {
		rows, err := f.store.GetRange(ctx, it.UnitID, stay)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != stay.Nights() {
			t.Fatalf("unit %d returned with %d of %d days", it.UnitID, len(rows), stay.Nights())
		}
		for _, r := range rows {
			if r.Status != domain.StatusAvailable {
				t.Fatalf("unit %d is %s on %s", it.UnitID, r.Status, r.Day.Format(domain.DateLayout))
			}
		}
		if it.Nights != 9 || it.TotalPrice == nil {
			t.Fatalf("stay fields: %+v", it)
		}
	}
	got := ids(p.Items)
	for _, hidden := range []int64{3, 7, 21, unitNoRows, unitPartial} {
		if got[hidden] {
			t.Fatalf("unit %d must be excluded", hidden)
		}
	}
}

func TestSearch_CapacityAndRating(t *testing.T) {
	f := newFixture(t)
	p := f.all(t, domain.SearchRequest{Adults: ptr(2), Children: ptr(2), Guests: ptr(3), MinRating: ptr(6.0)})
	if p.TotalCount == 0 {
		t.Fatal("expected matches")
	}
	sawUnrated := false
	for _, it := range p.Items {
		if it.MaxCapacity < 4 {
			t.Fatalf("unit %d capacity %d < 4", it.UnitID, it.MaxCapacity)
		}
		if it.AverageRating == 0 {
			sawUnrated = true
			continue
		}
		if it.AverageRating < 6 {
			t.Fatalf("unit %d rating %.1f", it.UnitID, it.AverageRating)
		}
	}
	if !sawUnrated {
		t.Fatal("unrated properties are not failing the rating filter")
	}
}

func TestSearch_GeoRadius(t *testing.T) {
	f := newFixture(t)
	c := centers["Beograd"]
	p := f.all(t, domain.SearchRequest{Lat: &c.Lat, Lon: &c.Lon, RadiusKm: ptr(5.0), SortBy: domain.SortDistanceAsc})
	if p.TotalCount == 0 {
		t.Fatal("expected units near the center")
	}
	for i, it := range p.Items {
		if it.DistanceKm == nil || *it.DistanceKm > 5 {
			t.Fatalf("unit %d outside radius: %v", it.UnitID, it.DistanceKm)
		}
		if it.City != "Beograd" {
			t.Fatalf("unit %d from %s inside a 5km radius of Beograd", it.UnitID, it.City)
		}
		if i > 0 && *p.Items[i-1].DistanceKm > *it.DistanceKm {
			t.Fatal("distance sort not monotonic")
		}
	}
}

func TestSearch_SortMonotonicity(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t)
	base := func(m domain.Money) decimal.Decimal {
		v, err := tb.ToBase(m.Amount, m.Currency)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}

	for _, stay := range []bool{false, true} {
		req := domain.SearchRequest{}
		if stay {
			req.CheckIn, req.CheckOut = ptr(day(14)), ptr(day(17))
		}
		req.SortBy = domain.SortPriceAsc
		asc := f.all(t, req).Items
		req.SortBy = domain.SortPriceDesc
		desc := f.all(t, req).Items
		req.SortBy = domain.SortRatingDesc
		rating := f.all(t, req).Items

		price := func(it domain.SearchResultItem) decimal.Decimal {
			if it.TotalPrice != nil {
				return base(*it.TotalPrice)
			}
			return base(it.NightlyPrice)
		}
		for i := 1; i < len(asc); i++ {
			if price(asc[i-1]).GreaterThan(price(asc[i])) {
				t.Fatalf("price_asc broken at %d", i)
			}
			if price(asc[i-1]).Equal(price(asc[i])) && asc[i-1].UnitID > asc[i].UnitID {
				t.Fatalf("tie-break broken at %d", i)
			}
		}
		for i := 1; i < len(desc); i++ {
			if price(desc[i-1]).LessThan(price(desc[i])) {
				t.Fatalf("price_desc broken at %d", i)
			}
		}
		for i := 1; i < len(rating); i++ {
			if rating[i-1].AverageRating < rating[i].AverageRating {
				t.Fatalf("rating_desc broken at %d", i)
			}
		}
	}
}

func TestSearch_PaginationDisjointAndStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := domain.SearchRequest{SortBy: domain.SortRatingDesc, PageSize: ptr(10)}

	seen := map[int64]int{}
	var total int
	for page := 1; ; page++ {
		req.Page = ptr(page)
		p, err := f.search.Search(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if page == 1 {
			total = p.TotalCount
			if p.TotalPages != (total+9)/10 {
				t.Fatalf("total pages %d for %d items", p.TotalPages, total)
			}
		} else if p.TotalCount != total {
			t.Fatalf("total changed across pages: %d vs %d", p.TotalCount, total)
		}
		if len(p.Items) == 0 {
			break
		}
		for _, it := range p.Items {
			if prev, dup := seen[it.UnitID]; dup {
				t.Fatalf("unit %d on pages %d and %d", it.UnitID, prev, page)
			}
			seen[it.UnitID] = page
		}
	}
	if len(seen) != total {
		t.Fatalf("pages covered %d of %d", len(seen), total)
	}

	// identical request twice yields the identical page
	req.Page = ptr(2)
	a, _ := f.search.Search(ctx, req)
	b, _ := f.search.Search(ctx, req)
	for i := range a.Items {
		if a.Items[i].UnitID != b.Items[i].UnitID {
			t.Fatal("page order not deterministic")
		}
	}
}

func TestSearch_EmptyHorizonScenario(t *testing.T) {
	f := newFixture(t)
	dated := f.all(t, domain.SearchRequest{City: "Novi Sad", CheckIn: ptr(day(1)), CheckOut: ptr(day(3))})
	if ids(dated.Items)[unitNoRows] {
		t.Fatal("unit without rows must not be available")
	}
	browse := f.all(t, domain.SearchRequest{City: "Novi Sad"})
	if !ids(browse.Items)[unitNoRows] {
		t.Fatal("unit without rows must be browsable")
	}

	none := f.all(t, domain.SearchRequest{CheckIn: ptr(day(40)), CheckOut: ptr(day(42))})
	if none.TotalCount != 0 || len(none.Items) != 0 || none.TotalPages != 0 {
		t.Fatalf("range beyond every horizon must be an empty page: %+v", none)
	}
}

func TestSearch_ExactBoundaryDates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const unit = 4
	ref := "EDGE"

	// book the checkout day of the requested stay
	if err := f.store.MarkRangeStatus(ctx, domain.RangeTransition{UnitID: unit, Range: rng(20, 21), Status: domain.StatusBooked, BookingRef: &ref}); err != nil {
		t.Fatal(err)
	}
	p := f.all(t, domain.SearchRequest{CheckIn: ptr(day(17)), CheckOut: ptr(day(20))})
	if !ids(p.Items)[unit] {
		t.Fatal("checkout day does not need to be available")
	}
	p = f.all(t, domain.SearchRequest{CheckIn: ptr(day(18)), CheckOut: ptr(day(21))})
	if ids(p.Items)[unit] {
		t.Fatal("last night of the stay is booked")
	}
}

func TestSearch_TotalsSumStoredPrices(t *testing.T) {
	f := newFixture(t)
	// unit 2: EUR, per-day prices, days 5 and 6 carry a 10% surcharge
	// unit 10: every fifth unit has no per-day price and uses its base
	p := f.all(t, domain.SearchRequest{CheckIn: ptr(day(3)), CheckOut: ptr(day(7))})
	byID := map[int64]domain.SearchResultItem{}
	for _, it := range p.Items {
		byID[it.UnitID] = it
	}

	u2, ok := byID[2]
	if !ok {
		t.Fatal("unit 2 missing")
	}
	b := basePrice(2, "RSD") // unit 2 is priced in RSD: (2/3)%3 == 0
	want := b.Mul(decimal.NewFromInt(2)).Add(b.Mul(decimal.RequireFromString("1.1")).Mul(decimal.NewFromInt(2)))
	if !u2.TotalPrice.Amount.Equal(want) || u2.Nights != 4 {
		t.Fatalf("unit 2 total %s, want %s", u2.TotalPrice.Amount, want)
	}
	if !u2.NightlyPrice.Amount.Equal(want.Div(decimal.NewFromInt(4))) {
		t.Fatalf("nightly must be the stay average: %s", u2.NightlyPrice.Amount)
	}

	u10, ok := byID[10]
	if !ok {
		t.Fatal("unit 10 missing")
	}
	if !u10.TotalPrice.Amount.Equal(u10.BasePrice.Amount.Mul(decimal.NewFromInt(4))) {
		t.Fatalf("unit 10 total %s should fall back to base %s", u10.TotalPrice.Amount, u10.BasePrice.Amount)
	}
}

func TestSearch_CombinedFilterIntersection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tb := f.table(t)
	lo, hi := decimal.NewFromInt(40), decimal.NewFromInt(110)
	stay := rng(2, 6)
	req := domain.SearchRequest{
		City: "Beograd", MinPrice: &lo, MaxPrice: &hi, Currency: "EUR",
		Guests: ptr(2), MinRating: ptr(5.0), CheckIn: &stay.From, CheckOut: &stay.To,
	}
	p := f.all(t, req)

	// brute force over the whole catalog
	all, _ := f.store.ListCandidates(ctx, domain.StructuralFilter{})
	want := 0
	for _, u := range all {
		ok, _ := f.store.IsAvailable(ctx, u.UnitID, stay)
		if u.City != "Beograd" || u.MaxCapacity < 2 || (u.AverageRating > 0 && u.AverageRating < 5) || !ok {
			continue
		}
		rows, _ := f.store.GetRange(ctx, u.UnitID, stay)
		sum := decimal.Zero
		for _, r := range rows {
			if r.Price != nil {
				sum = sum.Add(*r.Price)
			} else {
				sum = sum.Add(u.BasePrice)
			}
		}
		nightly, _ := tb.Convert(sum.Div(decimal.NewFromInt(4)), u.Currency, "EUR")
		if nightly.LessThan(lo) || nightly.GreaterThan(hi) {
			continue
		}
		want++
	}
	if want == 0 {
		t.Fatal("fixture should produce at least one match")
	}
	if d := p.TotalCount - want; d < -1 || d > 1 {
		t.Fatalf("combined filters: got %d, brute force %d", p.TotalCount, want)
	}
	for _, it := range p.Items {
		if it.City != "Beograd" || it.MaxCapacity < 2 || (it.AverageRating > 0 && it.AverageRating < 5) {
			t.Fatalf("unit %d violates a filter: %+v", it.UnitID, it)
		}
	}
}

func TestSearch_TextSubstringThenSimilarity(t *testing.T) {
	f := newFixture(t)

	p := f.all(t, domain.SearchRequest{Query: "MERIDIEN"})
	if p.TextMatch != domain.TextMatchSubstring || p.TotalCount != 1 || p.Items[0].UnitID != unitMeridien {
		t.Fatalf("substring: %+v", p)
	}
	p = f.all(t, domain.SearchRequest{Query: "meridian"})
	if p.TextMatch != domain.TextMatchSimilarity || !ids(p.Items)[unitMeridien] {
		t.Fatalf("similarity fallback: %+v", p)
	}
	p = f.all(t, domain.SearchRequest{Query: "zzqx"})
	if p.TotalCount != 0 {
		t.Fatalf("nonsense query: %d results", p.TotalCount)
	}
	// relevance puts the strongest match first
	p = f.all(t, domain.SearchRequest{Query: "residence 1"})
	if p.Items[0].PropertyName != "Residence 1" && p.Items[0].PropertyName != "Residence 10" {
		t.Fatalf("relevance order: first is %q", p.Items[0].PropertyName)
	}
}

func TestSearch_MissingDayPolicyAvailable(t *testing.T) {
	f := newFixture(t, func(c *app.SearchConfig) { c.MissingDay = app.MissingAvailable })
	p := f.all(t, domain.SearchRequest{City: "Novi Sad", CheckIn: ptr(day(2)), CheckOut: ptr(day(6))})
	got := ids(p.Items)
	if !got[unitNoRows] || !got[unitPartial] {
		t.Fatal("missing days count as available under this policy")
	}
	for _, it := range p.Items {
		if it.UnitID == unitPartial && !it.TotalPrice.Amount.Equal(decimal.NewFromInt(36000)) {
			t.Fatalf("missing days are priced at base: %s", it.TotalPrice.Amount)
		}
	}
}

func TestSearch_StaleRatesAnnotated(t *testing.T) {
	f := newFixture(t)
	f.clock.Add(72 * time.Hour)
	p := f.all(t, domain.SearchRequest{})
	if !p.StaleRates {
		t.Fatal("stale rates must be flagged")
	}
	if p.TotalCount == 0 {
		t.Fatal("stale rates never fail a search")
	}
}

// ---- failure modes ----

type dupRows struct {
	domain.ScheduleReader
	unit int64
}

func (d dupRows) GetRanges(ctx context.Context, ids []int64, r domain.DateRange) (map[int64][]domain.ScheduleDay, error) {
	m, err := d.ScheduleReader.GetRanges(ctx, ids, r)
	if rows, ok := m[d.unit]; ok && len(rows) > 0 {
		m[d.unit] = append(rows, rows[0])
	}
	return m, err
}

func TestSearch_ContradictoryDataExcluded(t *testing.T) {
	f := newFixture(t)
	req := domain.SearchRequest{CheckIn: ptr(day(1)), CheckOut: ptr(day(3))}
	if !ids(f.all(t, req).Items)[2] {
		t.Fatal("unit 2 should be available in the baseline")
	}
	f.search = app.NewSearchService(f.store, dupRows{ScheduleReader: f.store, unit: 2}, f.rates, f.clock, f.cfg)
	p := f.all(t, req)
	if ids(p.Items)[2] {
		t.Fatal("unit with duplicate day rows must be excluded")
	}
	if p.TotalCount == 0 {
		t.Fatal("other units are unaffected")
	}
}

type stuckSchedule struct{ domain.ScheduleReader }

func (stuckSchedule) GetRanges(ctx context.Context, _ []int64, _ domain.DateRange) (map[int64][]domain.ScheduleDay, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSearch_TimeoutIsRetriableNotEmpty(t *testing.T) {
	f := newFixture(t)
	f.cfg.Timeout = 20 * time.Millisecond
	svc := app.NewSearchService(f.store, stuckSchedule{f.store}, f.rates, f.clock, f.cfg)

	_, err := svc.Search(context.Background(), domain.SearchRequest{CheckIn: ptr(day(1)), CheckOut: ptr(day(2))})
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("want unavailable, got %v", err)
	}
	// browse mode never touches the schedule
	if _, err := svc.Search(context.Background(), domain.SearchRequest{}); err != nil {
		t.Fatalf("browse: %v", err)
	}
}

func TestSearch_ConcurrentCallsAgree(t *testing.T) {
	f := newFixture(t)
	req := domain.SearchRequest{CheckIn: ptr(day(1)), CheckOut: ptr(day(8)), SortBy: domain.SortPriceAsc, PageSize: ptr(100)}
	want, err := f.search.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.search.Search(context.Background(), req)
			if err != nil || got.TotalCount != want.TotalCount {
				errs <- "diverged"
				return
			}
			for j := range got.Items {
				if got.Items[j].UnitID != want.Items[j].UnitID {
					errs <- "order diverged"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}
