package mysql

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"staysearch/internal/domain"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanDay(s scanner) (domain.ScheduleDay, error) {
	var (
		d                             domain.ScheduleDay
		status                        string
		ref, cur, tier, reason, notes sql.NullString
		createdBy, modifiedBy         sql.NullString
		price                         decimal.NullDecimal
	)
	if err := s.Scan(
		&d.UnitID, &d.Day, &status, &ref, &price, &cur, &tier, &reason, &notes,
		&createdBy, &modifiedBy, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return domain.ScheduleDay{}, err
	}
	d.Day = domain.Day(d.Day)
	d.Status = domain.DayStatus(status)
	d.BookingRef = ptrStr(ref)
	if price.Valid {
		p := price.Decimal
		d.Price = &p
	}
	d.Currency = domain.NormalizeCode(cur.String)
	d.Tier, d.Reason, d.Notes = ptrStr(tier), ptrStr(reason), ptrStr(notes)
	d.CreatedBy, d.ModifiedBy = ptrStr(createdBy), ptrStr(modifiedBy)
	return d, nil
}

func queryDays(ctx context.Context, q queryer, query string, args ...any) ([]domain.ScheduleDay, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ScheduleDay
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

/********** reads **********/

func (r *Repo) GetRange(ctx context.Context, unitID int64, rg domain.DateRange) ([]domain.ScheduleDay, error) {
	if err := rg.Validate(); err != nil {
		return nil, err
	}
	out, err := queryDays(ctx, r.db, getRangeSQL, unitID, rg.From, rg.To)
	return out, classify(err, "get range")
}

// GetRanges issues one query per chunk of units.
func (r *Repo) GetRanges(ctx context.Context, unitIDs []int64, rg domain.DateRange) (map[int64][]domain.ScheduleDay, error) {
	if err := rg.Validate(); err != nil {
		return nil, err
	}
	out := make(map[int64][]domain.ScheduleDay, len(unitIDs))
	for start := 0; start < len(unitIDs); start += rangesChunk {
		end := min(start+rangesChunk, len(unitIDs))
		chunk := unitIDs[start:end]

		args := make([]any, 0, len(chunk)+2)
		for _, id := range chunk {
			args = append(args, id)
		}
		args = append(args, rg.From, rg.To)
		q := getRangesPrefix + placeholders(len(chunk)) + getRangesSuffix

		days, err := queryDays(ctx, r.db, q, args...)
		if err != nil {
			return nil, classify(err, "get ranges")
		}
		for _, d := range days {
			out[d.UnitID] = append(out[d.UnitID], d)
		}
	}
	return out, nil
}

func (r *Repo) IsAvailable(ctx context.Context, unitID int64, rg domain.DateRange) (bool, error) {
	if err := rg.Validate(); err != nil {
		return false, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, countAvailableSQL, unitID, rg.From, rg.To).Scan(&n); err != nil {
		return false, classify(err, "is available")
	}
	return n == rg.Nights(), nil
}

/********** writes **********/

// BulkUpsert writes rows in one transaction, in (unit, day) order so
// concurrent batches lock rows in the same sequence.
func (r *Repo) BulkUpsert(ctx context.Context, rows []domain.ScheduleDay) error {
	if err := domain.ValidateBatch(rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	sorted := append([]domain.ScheduleDay(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].UnitID != sorted[j].UnitID {
			return sorted[i].UnitID < sorted[j].UnitID
		}
		return sorted[i].Day.Before(sorted[j].Day)
	})
	now := r.clock.Now().UTC()

	err := runInTx(ctx, r.db, func(tx *sql.Tx) error {
		for start := 0; start < len(sorted); start += upsertBatchSize {
			batch := sorted[start:min(start+upsertBatchSize, len(sorted))]
			values := make([]string, 0, len(batch))
			args := make([]any, 0, len(batch)*13)
			for _, d := range batch {
				values = append(values, "(?,?,?,?,?,?,?,?,?,?,?,?,?)")
				var cur any
				if c := domain.NormalizeCode(d.Currency); c != "" {
					cur = c
				}
				args = append(args,
					d.UnitID,
					domain.Day(d.Day),
					string(d.Status),
					valStr(d.BookingRef),
					valDec(d.Price),
					cur,
					valStr(d.Tier),
					valStr(d.Reason),
					valStr(d.Notes),
					valStr(d.CreatedBy),
					valStr(d.ModifiedBy),
					now, // created_at, kept on update
					now,
				)
			}
			q := upsertSchedulePrefix + strings.Join(values, ",") + upsertScheduleOnDup
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return err
			}
		}
		return nil
	})
	return classify(err, "bulk upsert")
}

// MarkRangeStatus locks every row of the range, checks the transition against
// them and updates them in the same transaction.
func (r *Repo) MarkRangeStatus(ctx context.Context, t domain.RangeTransition) error {
	if err := t.Validate(); err != nil {
		return err
	}
	err := runInTxWithRetry(ctx, r.db, markRetries, func(tx *sql.Tx) error {
		rows, err := queryDays(ctx, tx, lockRangeSQL, t.UnitID, t.Range.From, t.Range.To)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(t, rows); err != nil {
			return err
		}
		var ref any
		if t.Status == domain.StatusBooked {
			ref = *t.BookingRef
		}
		res, err := tx.ExecContext(ctx, markRangeSQL,
			string(t.Status), ref, valStr(t.ModifiedBy), r.clock.Now().UTC(),
			t.UnitID, t.Range.From, t.Range.To)
		if err != nil {
			return err
		}
		// rows already in the target state count as unaffected
		if n, _ := res.RowsAffected(); n > int64(len(rows)) {
			return errors.Newf("unit %d: updated %d rows, locked %d", t.UnitID, n, len(rows))
		}
		return nil
	})
	return classify(err, "mark range status")
}

func (r *Repo) DeleteRange(ctx context.Context, unitID int64, rg domain.DateRange) (int64, error) {
	if err := rg.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, deleteRangeSQL, unitID, rg.From, rg.To)
	if err != nil {
		return 0, classify(err, "delete range")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repo) PurgeUnit(ctx context.Context, unitID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, purgeUnitSQL, unitID)
	if err != nil {
		return 0, classify(err, "purge unit")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
