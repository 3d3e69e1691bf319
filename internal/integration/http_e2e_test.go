//go:build integration

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	server "staysearch/internal/adapters/http_server"
	redisad "staysearch/internal/adapters/redis"
	"staysearch/internal/app"
	"staysearch/internal/currency"
	"staysearch/internal/domain"
	"staysearch/internal/shared"
	"staysearch/internal/storage/memory"
	mysqlrepo "staysearch/internal/storage/mysql"
)

var now = time.Date(2025, 6, 30, 9, 0, 0, 0, time.UTC)

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=staysearch"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/staysearch?parseTime=true&multiStatements=true&charset=utf8mb4&loc=UTC",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	pool.MaxWait = 2 * time.Minute
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := mysqlrepo.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// copySeed loads the shared seed file into memory and writes it to repo.
func copySeed(t *testing.T, repo *mysqlrepo.Repo, clock shared.Clock) {
	t.Helper()
	ctx := context.Background()
	mem := memory.New(clock)
	if err := mem.LoadSeed(ctx, "../storage/memory/testdata/seed.json"); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	cs, _ := mem.ListCurrencies(ctx)
	for _, c := range cs {
		if err := repo.UpsertCurrency(ctx, c); err != nil {
			t.Fatalf("UpsertCurrency: %v", err)
		}
	}
	units, _ := mem.ListCandidates(ctx, domain.StructuralFilter{})
	ids := make([]int64, 0, len(units))
	for _, u := range units {
		if err := repo.UpsertListing(ctx, u); err != nil {
			t.Fatalf("UpsertListing: %v", err)
		}
		ids = append(ids, u.UnitID)
	}
	july, _ := domain.ParseDateRange("2025-07-01", "2025-08-01")
	byUnit, _ := mem.GetRanges(ctx, ids, july)
	for _, rows := range byUnit {
		// bookings cannot be upserted; publish the day, then book it
		var booked []domain.ScheduleDay
		for i := range rows {
			if rows[i].Status == domain.StatusBooked {
				booked = append(booked, rows[i])
				rows[i].Status, rows[i].BookingRef = domain.StatusAvailable, nil
			}
		}
		if err := repo.BulkUpsert(ctx, rows); err != nil {
			t.Fatalf("BulkUpsert: %v", err)
		}
		for _, b := range booked {
			tr := domain.RangeTransition{UnitID: b.UnitID, Range: domain.DateRange{From: b.Day, To: b.Day.AddDate(0, 0, 1)},
				Status: domain.StatusBooked, BookingRef: b.BookingRef}
			if err := repo.MarkRangeStatus(ctx, tr); err != nil {
				t.Fatalf("MarkRangeStatus: %v", err)
			}
		}
	}
}

type searchBody struct {
	TotalCount int `json:"totalCount"`
	Items      []struct {
		UnitID     int64 `json:"unitId"`
		TotalPrice *struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"totalPrice"`
	} `json:"items"`
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	if dst != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return res.StatusCode
}

// ---------- the test ----------
func TestHTTP_EndToEnd_SearchAndBook(t *testing.T) {
	db := startMySQL(t)
	clock := shared.NewMockClock(now)
	repo := mysqlrepo.New(db, clock)
	copySeed(t, repo, clock)

	mr := miniredis.RunT(t)
	redis := redisad.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = redis.Close() })

	cfg := shared.Config{
		SearchTimeout: 5 * time.Second, MaxPageSize: 50, DefaultPageSize: 10, MaxNights: 30,
		MissingDayPolicy: "unavailable", SimilarityThreshold: 0.3, RateMaxAge: 24 * time.Hour,
	}
	rates := currency.NewCache(repo, redis, 5*time.Minute, clock)
	srv := server.New(10 * time.Second)
	srv.MountHandlers(&server.Handlers{
		Search:   app.NewSearchService(repo, repo, rates, clock, app.SearchConfigFrom(cfg)),
		Schedule: app.NewScheduleService(repo, repo),
		Rates:    rates,
		Monitor:  currency.NewMonitor(rates, cfg.RateMaxAge, clock),
		Ready:    repo.Ping,
	}, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	search := ts.URL + "/v1/search?city=novi%20sad&checkIn=2025-07-01&checkOut=2025-07-04&currency=EUR"

	// unit 10 is booked on 07-03, so only the loft qualifies
	var body searchBody
	if code := getJSON(t, search, &body); code != http.StatusOK {
		t.Fatalf("search status %d", code)
	}
	if body.TotalCount != 1 || body.Items[0].UnitID != 11 || body.Items[0].TotalPrice == nil || body.Items[0].TotalPrice.Amount != "225.00" {
		t.Fatalf("unexpected search: %+v", body)
	}
	if len(mr.Keys()) == 0 {
		t.Fatal("rate snapshot was not shared through redis")
	}

	// book the loft over the same stay
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/units/11/schedule/status",
		strings.NewReader(`{"from":"2025-07-02","to":"2025-07-03","status":"booked","bookingRef":"E2E-1"}`))
	req.Header.Set("X-Actor", "e2e")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("booking status %d", res.StatusCode)
	}

	body = searchBody{}
	if code := getJSON(t, search, &body); code != http.StatusOK || body.TotalCount != 0 {
		t.Fatalf("booked loft still listed: %d %+v", code, body)
	}

	var avail struct {
		Available bool `json:"available"`
	}
	getJSON(t, ts.URL+"/v1/units/11/availability?from=2025-07-04&to=2025-07-06", &avail)
	if !avail.Available {
		t.Fatal("nights after the booking stay available")
	}

	if code := getJSON(t, ts.URL+"/readyz", nil); code != http.StatusOK {
		t.Fatalf("readyz %d", code)
	}
}
