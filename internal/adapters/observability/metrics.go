package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysearch", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staysearch", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysearch", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staysearch", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysearch", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del|stale
	)
	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staysearch", Name: "search_duration_seconds",
			Help:    "Search composer duration seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"outcome"}, // ok|invalid|unavailable
	)
	SearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "staysearch", Name: "search_total_count",
			Help:    "Total matching units per search.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	ExcludedUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysearch", Name: "search_excluded_units_total", Help: "Units dropped for inconsistent data."},
		[]string{"reason"},
	)
	ScheduleWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "staysearch", Name: "schedule_writes_total", Help: "Schedule store write operations."},
		[]string{"op", "result"}, // result: ok|conflict|invalid|error
	)
	RateAge = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "staysearch", Name: "currency_rate_oldest_age_seconds", Help: "Age of the oldest currency rate."},
	)
	RatesStale = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "staysearch", Name: "currency_rates_stale", Help: "1 when any rate is older than the allowed age."},
	)
)

// Serve exposes reg on a dedicated listener; an empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		SearchLatency, SearchResults, ExcludedUnits, ScheduleWrites, RateAge, RatesStale)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) {
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveSearch(outcome string, total int, dur time.Duration) {
	SearchLatency.WithLabelValues(outcome).Observe(dur.Seconds())
	if outcome == "ok" {
		SearchResults.Observe(float64(total))
	}
}

func ObserveExcluded(reason string) {
	ExcludedUnits.WithLabelValues(reason).Inc()
}

func ObserveScheduleWrite(op, result string) {
	ScheduleWrites.WithLabelValues(op, result).Inc()
}

func SetRateFreshness(oldest time.Duration, stale bool) {
	RateAge.Set(oldest.Seconds())
	if stale {
		RatesStale.Set(1)
		return
	}
	RatesStale.Set(0)
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
