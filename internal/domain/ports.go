package domain

import (
	"context"
	"time"
)

// CatalogReader is read-only access to unit/property metadata owned by the catalog service.
type CatalogReader interface {
	ListCandidates(ctx context.Context, f StructuralFilter) ([]UnitListing, error)
	GetUnit(ctx context.Context, unitID int64) (UnitListing, error)
	ListUnitIDs(ctx context.Context) ([]int64, error)
}

// ScheduleReader is the read half of the schedule store.
type ScheduleReader interface {
	// GetRange returns the stored rows of r ordered by day; missing days are absent.
	GetRange(ctx context.Context, unitID int64, r DateRange) ([]ScheduleDay, error)
	// GetRanges is GetRange for many units in batched queries.
	GetRanges(ctx context.Context, unitIDs []int64, r DateRange) (map[int64][]ScheduleDay, error)
	// IsAvailable is true only if every day of r has an explicit available row.
	IsAvailable(ctx context.Context, unitID int64, r DateRange) (bool, error)
}

// ScheduleStore is the durable per-day truth for availability and price.
type ScheduleStore interface {
	ScheduleReader
	// BulkUpsert is idempotent per (unit, day). Booked rows keep status and reference.
	BulkUpsert(ctx context.Context, rows []ScheduleDay) error
	// MarkRangeStatus transitions every day of the range or none.
	MarkRangeStatus(ctx context.Context, t RangeTransition) error
	// DeleteRange removes non-booked rows of r and returns how many were deleted.
	DeleteRange(ctx context.Context, unitID int64, r DateRange) (int64, error)
	// PurgeUnit removes every row of a removed unit.
	PurgeUnit(ctx context.Context, unitID int64) (int64, error)
}

// CurrencyRepository reads the externally maintained rate table.
type CurrencyRepository interface {
	ListCurrencies(ctx context.Context) ([]Currency, error)
}

// HorizonSource fetches a unit's published pricing/availability horizon.
type HorizonSource interface {
	GetHorizon(ctx context.Context, unitID int64, from time.Time, days int) ([]map[string]any, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
