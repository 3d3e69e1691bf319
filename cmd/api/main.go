package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	server "staysearch/internal/adapters/http_server"
	"staysearch/internal/adapters/observability"
	redisad "staysearch/internal/adapters/redis"
	"staysearch/internal/app"
	"staysearch/internal/currency"
	"staysearch/internal/domain"
	"staysearch/internal/shared"
	"staysearch/internal/storage"
)

func main() {
	_ = godotenv.Load()
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := shared.NewRealClock()
	backend, err := storage.Open(ctx, cfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}
	defer backend.Close()

	// shared rate snapshot across replicas, optional
	var sharedCache domain.Cache
	var redis *redisad.Cache
	if cfg.RedisAddr != "" {
		redis = redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer redis.Close()
		sharedCache = redis
	}

	rates := currency.NewCache(backend.Currencies, sharedCache, cfg.CurrencyTTL, clock)
	monitor := currency.NewMonitor(rates, cfg.RateMaxAge, clock)
	go func() {
		if err := monitor.Run(ctx, cfg.RateCheckSchedule); err != nil {
			log.Error().Err(err).Msg("currency monitor failed")
		}
	}()

	search := app.NewSearchService(backend.Catalog, backend.Schedule, rates, clock, app.SearchConfigFrom(cfg))
	schedule := app.NewScheduleService(backend.Schedule, backend.Catalog)

	rl := server.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go rl.RunSweeper(ctx, time.Minute)

	// http
	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	srv := server.New(cfg.SearchTimeout + time.Second)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Search:   search,
		Schedule: schedule,
		Rates:    rates,
		Monitor:  monitor,
		Ready: func(ctx context.Context) error {
			if err := backend.Ping(ctx); err != nil {
				return err
			}
			if redis != nil {
				return redis.Ping(ctx)
			}
			return nil
		},
	}, rl)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("storage", cfg.Storage).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
