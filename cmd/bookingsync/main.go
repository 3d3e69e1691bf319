package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"staysearch/internal/adapters/kafka"
	"staysearch/internal/adapters/observability"
	"staysearch/internal/app"
	"staysearch/internal/shared"
	"staysearch/internal/storage"
)

func main() {
	_ = godotenv.Load()
	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv, "bookingsync", cfg.LogLevel)

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, cfg, shared.NewRealClock())
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}
	defer backend.Close()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	var dlq *kafka.Producer
	if cfg.KafkaDLQ != "" {
		dlq, err = kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("dead-letter producer init failed")
		}
		defer dlq.Close()
	}

	schedule := app.NewScheduleService(backend.Schedule, backend.Catalog)
	handler := kafka.NewBookingHandler(schedule, dlq, cfg.KafkaDLQ)
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, handler, app.Retriable)
	if err != nil {
		log.Fatal().Err(err).Msg("consumer init failed")
	}
	defer consumer.Close()

	log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Str("group", cfg.KafkaGroupID).Str("dlq", cfg.KafkaDLQ).Msg("booking sync started")
	if err := consumer.Run(ctx, []string{cfg.KafkaTopic}); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("booking sync stopped")
}
