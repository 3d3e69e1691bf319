package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	Storage     string // mysql|memory
	SeedFile    string
	MySQLDSN    string
	RunMigrate  bool
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	CurrencyTTL       time.Duration
	RateMaxAge        time.Duration
	RateCheckSchedule string

	SearchTimeout       time.Duration
	MaxPageSize         int
	DefaultPageSize     int
	MaxNights           int
	MissingDayPolicy    string // unavailable|available
	SimilarityThreshold float64
	RateLimitRPS        float64
	RateLimitBurst      int

	HorizonBase string
	HorizonKey  string
	HorizonDays int
	Workers     int

	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string
	KafkaDLQ     string
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	atof := func(k string, def float64) float64 {
		if v := os.Getenv(k); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),
		Storage:     strings.ToLower(env("STORAGE", "mysql")),
		SeedFile:    env("SEED_FILE", ""),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/staysearch?parseTime=true&multiStatements=true&charset=utf8mb4&loc=UTC"),
		RunMigrate:  env("RUN_MIGRATIONS", "false") == "true",
		RedisAddr:   env("REDIS_ADDR", ""),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		CurrencyTTL:       time.Duration(atoi("CURRENCY_CACHE_TTL_SECONDS", 300)) * time.Second,
		RateMaxAge:        time.Duration(atoi("RATE_MAX_AGE_HOURS", 24)) * time.Hour,
		RateCheckSchedule: env("RATE_CHECK_SCHEDULE", "*/5 * * * *"),

		SearchTimeout:       time.Duration(atoi("SEARCH_TIMEOUT_MS", 3000)) * time.Millisecond,
		MaxPageSize:         atoi("SEARCH_MAX_PAGE_SIZE", 100),
		DefaultPageSize:     atoi("SEARCH_DEFAULT_PAGE_SIZE", 20),
		MaxNights:           atoi("SEARCH_MAX_NIGHTS", 90),
		MissingDayPolicy:    strings.ToLower(env("MISSING_DAY_POLICY", "unavailable")),
		SimilarityThreshold: atof("TEXT_SIMILARITY_THRESHOLD", 0.3),
		RateLimitRPS:        atof("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      atoi("RATE_LIMIT_BURST", 40),

		HorizonBase: env("HORIZON_API_BASE_URL", "http://localhost:8090/v1"),
		HorizonKey:  env("HORIZON_API_KEY", ""),
		HorizonDays: atoi("PUBLISH_HORIZON_DAYS", 365),
		Workers:     atoi("PUBLISH_WORKERS", 8),

		KafkaGroupID: env("KAFKA_GROUP_ID", "staysearch-bookingsync"),
		KafkaTopic:   env("KAFKA_BOOKING_TOPIC", "bookings.events"),
		KafkaDLQ:     env("KAFKA_DEAD_LETTER_TOPIC", ""),
	}
	if b := env("KAFKA_BROKERS", ""); b != "" {
		c.KafkaBrokers = strings.Split(b, ",")
	}
	if c.MissingDayPolicy != "unavailable" && c.MissingDayPolicy != "available" {
		log.Warn().Str("value", c.MissingDayPolicy).Msg("unknown MISSING_DAY_POLICY, using unavailable")
		c.MissingDayPolicy = "unavailable"
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
