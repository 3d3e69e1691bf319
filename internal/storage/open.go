// Package storage picks the backing store named in the configuration.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"staysearch/internal/domain"
	"staysearch/internal/shared"
	"staysearch/internal/storage/memory"
	mysqlrepo "staysearch/internal/storage/mysql"
)

// Backend bundles the ports every binary needs. Ping and Close are never nil.
type Backend struct {
	Catalog    domain.CatalogReader
	Schedule   domain.ScheduleStore
	Currencies domain.CurrencyRepository
	Ping       func(ctx context.Context) error
	Close      func() error
}

func Open(ctx context.Context, cfg shared.Config, clock shared.Clock) (*Backend, error) {
	switch cfg.Storage {
	case "memory":
		st := memory.New(clock)
		if cfg.SeedFile != "" {
			if err := st.LoadSeed(ctx, cfg.SeedFile); err != nil {
				return nil, errors.Wrapf(err, "seed %s", cfg.SeedFile)
			}
		}
		log.Warn().Str("seed", cfg.SeedFile).Msg("using in-memory storage")
		return &Backend{
			Catalog: st, Schedule: st, Currencies: st,
			Ping:  func(context.Context) error { return nil },
			Close: func() error { return nil },
		}, nil
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, errors.Wrap(err, "sql.Open")
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pctx); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "db.Ping")
		}
		log.Info().Msg("database connection ok")

		if cfg.RunMigrate {
			if err := mysqlrepo.Migrate(db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		repo := mysqlrepo.New(db, clock)
		return &Backend{Catalog: repo, Schedule: repo, Currencies: repo, Ping: repo.Ping, Close: db.Close}, nil
	}
	return nil, errors.Newf("unknown STORAGE %q (want mysql or memory)", cfg.Storage)
}
