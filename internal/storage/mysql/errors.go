package mysql

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"staysearch/internal/domain"
)

// MySQL server error numbers handled specially.
const (
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
	erDupEntry        = 1062
)

func lockConflict(err error) bool {
	var me *gomysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == erLockDeadlock || me.Number == erLockWaitTimeout
}

// classify maps driver errors onto the domain sentinels. Errors that already
// carry a domain meaning pass through unchanged.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsValidation(err); ok {
		return err
	}
	if errors.IsAny(err, domain.ErrConflict, domain.ErrNotFound, domain.ErrIncompleteRange, domain.ErrUnavailable) {
		return err
	}
	var me *gomysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erLockDeadlock, erLockWaitTimeout, erDupEntry:
			return errors.Mark(errors.Wrap(err, op), domain.ErrConflict)
		}
	}
	return domain.Unavailable(err, op)
}

// runInTx commits when fn succeeds and rolls back otherwise.
func runInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Warn().Err(rbErr).Msg("rollback failed")
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// runInTxWithRetry retries fn on deadlock or lock wait timeout with jittered
// linear backoff.
func runInTxWithRetry(ctx context.Context, db *sql.DB, maxRetries int, fn func(tx *sql.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := runInTx(ctx, db, fn)
		if err == nil || !lockConflict(err) {
			return err
		}
		if attempt == maxRetries {
			log.Error().Int("attempts", attempt+1).Err(err).Msg("transaction failed after max retries")
			return err
		}
		wait := time.Duration(attempt+1)*50*time.Millisecond + jitter(25*time.Millisecond)
		log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Err(err).Msg("retrying transaction")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
