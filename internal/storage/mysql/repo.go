package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"staysearch/internal/domain"
	"staysearch/internal/shared"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}
func valDec(p *decimal.Decimal) any {
	if p == nil {
		return nil
	}
	return p.String()
}
func valJSON(b []byte) any {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return string(b)
}
func ptrStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

const (
	rangesChunk     = 500
	upsertBatchSize = 500
	markRetries     = 3
)

var (
	_ domain.CatalogReader      = (*Repo)(nil)
	_ domain.ScheduleStore      = (*Repo)(nil)
	_ domain.CurrencyRepository = (*Repo)(nil)
)

// Repo is the relational implementation of the catalog reader, the schedule
// store and the currency repository. The DSN must set parseTime=true and loc=UTC.
type Repo struct {
	db    *sql.DB
	clock shared.Clock
}

func New(db *sql.DB, clock shared.Clock) *Repo {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Repo{db: db, clock: clock}
}

func (r *Repo) Ping(ctx context.Context) error {
	return classify(r.db.PingContext(ctx), "ping")
}

/********** catalog **********/

type scanner interface{ Scan(dest ...any) error }

func scanUnit(s scanner) (domain.UnitListing, error) {
	var (
		u              domain.UnitListing
		lat, lon       sql.NullFloat64
		tags, settings []byte
		deleted        sql.NullTime
	)
	if err := s.Scan(
		&u.UnitID, &u.PropertyID, &u.UnitName, &u.PropertyName, &u.City, &u.PropertyTypeID,
		&u.MaxCapacity, &u.AverageRating, &lat, &lon,
		&u.BasePrice, &u.Currency, &tags, &settings,
		&u.PropertyApproved, &u.UnitActive, &deleted,
	); err != nil {
		return domain.UnitListing{}, err
	}
	if lat.Valid && lon.Valid {
		u.Coords = &domain.Coords{Lat: lat.Float64, Lon: lon.Float64}
	}
	if deleted.Valid {
		t := deleted.Time
		u.DeletedAt = &t
	}
	u.Currency = domain.NormalizeCode(u.Currency)
	_ = json.Unmarshal(tags, &u.Tags)
	_ = json.Unmarshal(settings, &u.Settings)
	return u, nil
}

func (r *Repo) ListCandidates(ctx context.Context, f domain.StructuralFilter) ([]domain.UnitListing, error) {
	city := strings.TrimSpace(f.City)
	rows, err := r.db.QueryContext(ctx, listCandidatesSQL,
		city, city,
		f.PropertyTypeID, f.PropertyTypeID,
		f.MinCapacity, f.MinCapacity,
	)
	if err != nil {
		return nil, classify(err, "list candidates")
	}
	defer rows.Close()

	var out []domain.UnitListing
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, classify(err, "scan candidate")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list candidates")
	}
	return out, nil
}

func (r *Repo) GetUnit(ctx context.Context, unitID int64) (domain.UnitListing, error) {
	u, err := scanUnit(r.db.QueryRowContext(ctx, getUnitSQL, unitID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UnitListing{}, errors.Wrapf(domain.ErrNotFound, "unit %d", unitID)
		}
		return domain.UnitListing{}, classify(err, "get unit")
	}
	return u, nil
}

func (r *Repo) ListUnitIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, listUnitIDsSQL)
	if err != nil {
		return nil, classify(err, "list unit ids")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err, "scan unit id")
		}
		ids = append(ids, id)
	}
	return ids, classify(rows.Err(), "list unit ids")
}

// UpsertListing writes the property and unit halves of u. The catalog service
// owns these tables; this exists for fixtures and local seeding.
func (r *Repo) UpsertListing(ctx context.Context, u domain.UnitListing) error {
	var lat, lon any
	if u.Coords != nil {
		lat, lon = u.Coords.Lat, u.Coords.Lon
	}
	tags, _ := json.Marshal(u.Tags)
	settings, _ := json.Marshal(u.Settings)
	return classify(runInTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertPropertySQL,
			u.PropertyID,
			u.PropertyName,
			u.City,
			u.PropertyTypeID,
			lat, lon,
			u.AverageRating,
			u.PropertyApproved,
			nil,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, upsertUnitSQL,
			u.UnitID,
			u.PropertyID,
			u.UnitName,
			u.MaxCapacity,
			u.BasePrice.String(),
			domain.NormalizeCode(u.Currency),
			valJSON(tags),
			valJSON(settings),
			u.UnitActive,
			valTime(u.DeletedAt),
		)
		return err
	}), "upsert listing")
}

/********** currencies **********/

func (r *Repo) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	rows, err := r.db.QueryContext(ctx, listCurrenciesSQL)
	if err != nil {
		return nil, classify(err, "list currencies")
	}
	defer rows.Close()
	var out []domain.Currency
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(&c.Code, &c.Rate, &c.IsDefault, &c.MinorUnits, &c.UpdatedAt); err != nil {
			return nil, classify(err, "scan currency")
		}
		c.Code = domain.NormalizeCode(c.Code)
		out = append(out, c)
	}
	return out, classify(rows.Err(), "list currencies")
}

// UpsertCurrency is used by fixtures; the rate refresh job owns the table.
func (r *Repo) UpsertCurrency(ctx context.Context, c domain.Currency) error {
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = r.clock.Now()
	}
	_, err := r.db.ExecContext(ctx, upsertCurrencySQL,
		domain.NormalizeCode(c.Code), c.Rate.String(), c.IsDefault, c.MinorUnits, updated.UTC())
	return classify(err, "upsert currency")
}
