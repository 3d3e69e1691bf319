package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"staysearch/internal/adapters/horizonapi"
	"staysearch/internal/adapters/observability"
	"staysearch/internal/app"
	"staysearch/internal/shared"
	"staysearch/internal/storage"
)

func main() {
	unit := flag.Int64("unit", 0, "publish a single unit id (0 = every listed unit)")
	regenerate := flag.Bool("regenerate", false, "clear non-booked days of the horizon before writing")
	flag.Parse()

	_ = godotenv.Load()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "publisher", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("base", cfg.HorizonBase).
		Int("workers", cfg.Workers).
		Int("days", cfg.HorizonDays).
		Bool("regenerate", *regenerate).
		Msg("publisher starting")

	clock := shared.NewRealClock()
	backend, err := storage.Open(ctx, cfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}
	defer backend.Close()

	client, err := horizonapi.New(cfg.HorizonBase, cfg.HorizonKey, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize horizon client")
	}
	schedule := app.NewScheduleService(backend.Schedule, backend.Catalog)
	pub := app.NewHorizonPublisher(client, backend.Catalog, schedule, clock, cfg.HorizonDays)

	if *unit > 0 {
		res, err := pub.PublishUnit(ctx, *unit, *regenerate)
		if err != nil {
			log.Fatal().Int64("unit_id", *unit).Err(err).Msg("publish failed")
		}
		log.Info().Int64("unit_id", res.UnitID).Int("rows", res.Rows).Int64("cleared", res.Cleared).Str("skipped", res.Skipped).Msg("publish ok")
		return
	}

	sum, err := pub.PublishAll(ctx, cfg.Workers, *regenerate)
	if err != nil {
		log.Error().Err(err).Msg("publishing interrupted")
	}
	log.Info().Int("units", sum.Units).Int("failed", sum.Failed).Int64("rows", sum.Rows).Msg("publishing completed")
}
