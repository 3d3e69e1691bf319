package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	httpserver "staysearch/internal/adapters/http_server"
	"staysearch/internal/app"
	"staysearch/internal/currency"
	"staysearch/internal/domain"
	"staysearch/internal/shared"
	"staysearch/internal/storage/memory"
)

var day0 = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

type env struct {
	store *memory.Store
	srv   *httptest.Server
}

func newEnv(t *testing.T, rl *httpserver.RateLimiter, catalog domain.CatalogReader) *env {
	t.Helper()
	clock := shared.NewMockClock(day0.Add(9 * time.Hour))
	st := memory.New(clock)
	st.SetCurrencies([]domain.Currency{
		{Code: "RSD", Rate: decimal.NewFromInt(1), IsDefault: true, MinorUnits: 2, UpdatedAt: day0},
		{Code: "EUR", Rate: decimal.RequireFromString("117.2"), MinorUnits: 2, UpdatedAt: day0},
	})
	st.PutUnit(domain.UnitListing{
		UnitID: 1, PropertyID: 10, UnitName: "Loft", PropertyName: "Petrovaradin Lofts", City: "Novi Sad",
		PropertyTypeID: 2, MaxCapacity: 2, AverageRating: 8, Coords: &domain.Coords{Lat: 45.25, Lon: 19.86},
		BasePrice: decimal.NewFromInt(70), Currency: "EUR", PropertyApproved: true, UnitActive: true,
	})
	var rows []domain.ScheduleDay
	for d := 0; d < 10; d++ {
		p := decimal.RequireFromString("75.5")
		rows = append(rows, domain.ScheduleDay{UnitID: 1, Day: day0.AddDate(0, 0, d), Status: domain.StatusAvailable, Price: &p, Currency: "EUR"})
	}
	if err := st.BulkUpsert(context.Background(), rows); err != nil {
		t.Fatal(err)
	}
	if catalog == nil {
		catalog = st
	}

	rates := currency.NewCache(st, nil, time.Minute, clock)
	cfg := app.SearchConfig{Timeout: time.Second, MaxPageSize: 50, DefaultPageSize: 20, MaxNights: 30, RateMaxAge: 24 * time.Hour, SimilarityThreshold: 0.3}
	h := &httpserver.Handlers{
		Search:   app.NewSearchService(catalog, st, rates, clock, cfg),
		Schedule: app.NewScheduleService(st, st),
		Rates:    rates,
		Monitor:  currency.NewMonitor(rates, 24*time.Hour, clock),
	}
	s := httpserver.New(5 * time.Second)
	s.MountHandlers(h, rl)
	ts := httptest.NewServer(s.Mux())
	t.Cleanup(ts.Close)
	return &env{store: st, srv: ts}
}

func (e *env) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	req.Header.Set("X-Actor", "ops@example.com")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

type problemBody struct {
	Status int `json:"status"`
	Errors []struct {
		Field  string `json:"field"`
		Reason string `json:"reason"`
	} `json:"errors"`
}

func TestSearch_OK(t *testing.T) {
	e := newEnv(t, nil, nil)
	res := e.do(t, http.MethodGet, "/v1/search?city=novi%20sad&checkIn=2025-07-02&checkOut=2025-07-04&currency=RSD", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	var body struct {
		Items []struct {
			UnitID     int64 `json:"unitId"`
			TotalPrice struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"totalPrice"`
			Display struct {
				Total struct {
					Amount   string `json:"amount"`
					Currency string `json:"currency"`
				} `json:"total"`
			} `json:"display"`
		} `json:"items"`
		TotalCount int  `json:"totalCount"`
		StaleRates bool `json:"staleRates"`
	}
	decode(t, res, &body)
	if body.TotalCount != 1 || body.Items[0].UnitID != 1 {
		t.Fatalf("body: %+v", body)
	}
	if it := body.Items[0]; it.TotalPrice.Amount != "151.00" || it.TotalPrice.Currency != "EUR" {
		t.Fatalf("total: %+v", it.TotalPrice)
	}
	// 151 EUR * 117.2
	if d := body.Items[0].Display.Total; d.Amount != "17697.20" || d.Currency != "RSD" {
		t.Fatalf("display: %+v", d)
	}
}

func TestSearch_ValidationProblem(t *testing.T) {
	e := newEnv(t, nil, nil)
	res := e.do(t, http.MethodGet, "/v1/search?checkIn=2025-07-05&checkOut=2025-07-02&pageSize=abc&minPrice=-1", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type %q", ct)
	}
	var p problemBody
	decode(t, res, &p)
	if len(p.Errors) != 1 || p.Errors[0].Field != "pageSize" {
		t.Fatalf("unparsable values are reported before semantic checks: %+v", p)
	}

	res = e.do(t, http.MethodGet, "/v1/search?checkIn=2025-07-05&checkOut=2025-07-02&minPrice=-1", "")
	decode(t, res, &p)
	if res.StatusCode != http.StatusBadRequest || len(p.Errors) != 2 {
		t.Fatalf("every offending field: %d %+v", res.StatusCode, p)
	}
}

func TestSearch_RejectsNonFiniteAndHugeNumbers(t *testing.T) {
	e := newEnv(t, nil, nil)
	tests := []struct {
		query, field, reason string
	}{
		{"lat=45.25&lon=19.86&radiusKm=NaN", "radiusKm", domain.ReasonInvalid},
		{"lat=Inf&lon=19.86", "lat", domain.ReasonInvalid},
		{"lat=45.25&lon=-Inf", "lon", domain.ReasonInvalid},
		{"minRating=NaN", "minRating", domain.ReasonInvalid},
		{"page=9223372036854775807", "page", domain.ReasonOutOfRange},
	}
	for _, tt := range tests {
		res := e.do(t, http.MethodGet, "/v1/search?"+tt.query, "")
		var p problemBody
		decode(t, res, &p)
		if res.StatusCode != http.StatusBadRequest || len(p.Errors) != 1 || p.Errors[0].Field != tt.field || p.Errors[0].Reason != tt.reason {
			t.Errorf("%s: status %d %+v", tt.query, res.StatusCode, p)
		}
	}
}

type failingCatalog struct{ domain.CatalogReader }

func (failingCatalog) ListCandidates(ctx context.Context, f domain.StructuralFilter) ([]domain.UnitListing, error) {
	return nil, domain.Unavailable(errors.New("connection refused"), "list candidates")
}

func TestSearch_InfrastructureFailureIs503(t *testing.T) {
	e := newEnv(t, nil, failingCatalog{})
	res := e.do(t, http.MethodGet, "/v1/search", "")
	if res.StatusCode != http.StatusServiceUnavailable || res.Header.Get("Retry-After") == "" {
		t.Fatalf("status %d retry-after %q", res.StatusCode, res.Header.Get("Retry-After"))
	}
}

func TestSchedule_Lifecycle(t *testing.T) {
	e := newEnv(t, nil, nil)

	res := e.do(t, http.MethodPut, "/v1/units/1/schedule", `{"days":[{"date":"2025-07-11","price":"80","currency":"eur"},{"date":"2025-07-12","status":"blocked"}]}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put: %d", res.StatusCode)
	}

	res = e.do(t, http.MethodGet, "/v1/units/1/schedule?from=2025-07-10&to=2025-07-13", "")
	var sched struct {
		Days []struct {
			Date   string `json:"date"`
			Status string `json:"status"`
		} `json:"days"`
	}
	decode(t, res, &sched)
	if len(sched.Days) != 3 || sched.Days[2].Status != "blocked" {
		t.Fatalf("schedule: %+v", sched)
	}
	etag := res.Header.Get("ETag")
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/units/1/schedule?from=2025-07-10&to=2025-07-13", nil)
	req.Header.Set("If-None-Match", etag)
	if r2, err := http.DefaultClient.Do(req); err != nil || r2.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional get: %v %v", err, r2)
	} else {
		r2.Body.Close()
	}

	res = e.do(t, http.MethodPost, "/v1/units/1/schedule/status", `{"from":"2025-07-02","to":"2025-07-04","status":"booked","bookingRef":"R-1"}`)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("book: %d", res.StatusCode)
	}
	res = e.do(t, http.MethodPost, "/v1/units/1/schedule/status", `{"from":"2025-07-03","to":"2025-07-05","status":"booked","bookingRef":"R-2"}`)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("overlap: %d", res.StatusCode)
	}
	res = e.do(t, http.MethodPost, "/v1/units/1/schedule/status", `{"from":"2025-07-10","to":"2025-07-13","status":"booked","bookingRef":"R-3"}`)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("blocked day inside range: %d", res.StatusCode)
	}

	res = e.do(t, http.MethodGet, "/v1/units/1/availability?from=2025-07-02&to=2025-07-04", "")
	var av struct {
		Available bool `json:"available"`
		Nights    int  `json:"nights"`
	}
	decode(t, res, &av)
	if av.Available || av.Nights != 2 {
		t.Fatalf("availability: %+v", av)
	}

	res = e.do(t, http.MethodDelete, "/v1/units/1/schedule?from=2025-07-01&to=2025-07-05", "")
	var del struct {
		Deleted int64 `json:"deleted"`
	}
	decode(t, res, &del)
	if del.Deleted != 2 {
		t.Fatalf("booked days survive delete: %+v", del)
	}

	rows, _ := e.store.GetRange(context.Background(), 1, domain.DateRange{From: day0.AddDate(0, 0, 10), To: day0.AddDate(0, 0, 11)})
	if len(rows) != 1 || rows[0].CreatedBy == nil || *rows[0].CreatedBy != "ops@example.com" {
		t.Fatalf("actor recorded: %+v", rows)
	}
}

func TestSchedule_Errors(t *testing.T) {
	e := newEnv(t, nil, nil)
	tests := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodGet, "/v1/units/abc/schedule?from=2025-07-01&to=2025-07-02", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/units/404/schedule?from=2025-07-01&to=2025-07-02", "", http.StatusNotFound},
		{http.MethodGet, "/v1/units/1/schedule?from=2025-07-03&to=2025-07-02", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/units/1/availability", "", http.StatusBadRequest},
		{http.MethodPut, "/v1/units/1/schedule", `{"days":[{"date":"2025-07-01","status":"booked","bookingRef":"X"}]}`, http.StatusBadRequest},
		{http.MethodPut, "/v1/units/1/schedule", `{"days":[{"date":"2025-07-01"},{"date":"2025-07-01"}]}`, http.StatusConflict},
		{http.MethodPut, "/v1/units/1/schedule", `{"rows":[]}`, http.StatusBadRequest},
		{http.MethodPost, "/v1/units/1/schedule/status", `{"from":"2025-07-01","to":"2025-07-02","status":"booked"}`, http.StatusBadRequest},
		{http.MethodPost, "/v1/units/1/schedule/status", `{"from":"2025-07-20","to":"2025-07-22","status":"blocked"}`, http.StatusConflict},
		{http.MethodGet, "/v1/units/1/schedule?from=0001-01-02&to=9999-12-31", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/units/1/availability?from=2025-07-01&to=2030-07-01", "", http.StatusBadRequest},
		{http.MethodDelete, "/v1/units/1/schedule?from=2025-07-01&to=2030-07-01", "", http.StatusBadRequest},
		{http.MethodPost, "/v1/units/1/schedule/status", `{"from":"2025-07-01","to":"2030-07-01","status":"blocked"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		res := e.do(t, tt.method, tt.path, tt.body)
		if res.StatusCode != tt.status {
			t.Errorf("%s %s: status %d, want %d", tt.method, tt.path, res.StatusCode, tt.status)
		}
	}
}

func TestCurrencies(t *testing.T) {
	e := newEnv(t, nil, nil)
	res := e.do(t, http.MethodGet, "/v1/currencies/convert?amount=100&from=eur&to=RSD", "")
	var conv struct {
		Result struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"result"`
	}
	decode(t, res, &conv)
	if conv.Result.Amount != "11720.00" || conv.Result.Currency != "RSD" {
		t.Fatalf("convert: %+v", conv)
	}

	res = e.do(t, http.MethodGet, "/v1/currencies/convert?amount=1&from=EUR&to=GBP", "")
	var p problemBody
	decode(t, res, &p)
	if res.StatusCode != http.StatusBadRequest || p.Errors[0].Field != "to" || p.Errors[0].Reason != domain.ReasonUnsupported {
		t.Fatalf("unknown currency: %d %+v", res.StatusCode, p)
	}

	res = e.do(t, http.MethodGet, "/v1/currencies/freshness", "")
	var f struct {
		Base  string `json:"base"`
		Fresh bool   `json:"fresh"`
	}
	decode(t, res, &f)
	if f.Base != "RSD" || !f.Fresh {
		t.Fatalf("freshness: %+v", f)
	}
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, httpserver.NewRateLimiter(0.001, 2), nil)
	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, e.do(t, http.MethodGet, "/v1/currencies", "").StatusCode)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes: %v", codes)
	}
	if res := e.do(t, http.MethodGet, "/healthz", ""); res.StatusCode != 200 {
		t.Fatal("health checks are not rate limited")
	}
}
