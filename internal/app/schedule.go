package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"staysearch/internal/adapters/observability"
	"staysearch/internal/domain"
)

// ScheduleService fronts the schedule store for the HTTP API, the horizon
// publisher and the booking sync. It checks that units exist and records
// write outcomes.
type ScheduleService struct {
	store   domain.ScheduleStore
	catalog domain.CatalogReader
}

func NewScheduleService(store domain.ScheduleStore, catalog domain.CatalogReader) *ScheduleService {
	return &ScheduleService{store: store, catalog: catalog}
}

// checkSpan rejects ranges the store should never be asked to scan.
func checkSpan(r domain.DateRange) error {
	switch err := r.CheckSpan(); {
	case errors.Is(err, domain.ErrRangeTooLong):
		ve := &domain.ValidationError{}
		ve.Add("to", domain.ReasonOutOfRange, err.Error())
		return ve
	case err != nil:
		ve := &domain.ValidationError{}
		ve.Add("to", domain.ReasonBeforeCheckIn, err.Error())
		return ve
	}
	return nil
}

func (s *ScheduleService) Range(ctx context.Context, unitID int64, r domain.DateRange) ([]domain.ScheduleDay, error) {
	if err := checkSpan(r); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetUnit(ctx, unitID); err != nil {
		return nil, err
	}
	return s.store.GetRange(ctx, unitID, r)
}

// Availability reports whether every night of r is explicitly available.
func (s *ScheduleService) Availability(ctx context.Context, unitID int64, r domain.DateRange) (bool, error) {
	if err := checkSpan(r); err != nil {
		return false, err
	}
	if _, err := s.catalog.GetUnit(ctx, unitID); err != nil {
		return false, err
	}
	return s.store.IsAvailable(ctx, unitID, r)
}

// Publish upserts rows for one unit.
func (s *ScheduleService) Publish(ctx context.Context, unitID int64, rows []domain.ScheduleDay) error {
	for i := range rows {
		if rows[i].UnitID == 0 {
			rows[i].UnitID = unitID
		}
		if rows[i].UnitID != unitID {
			ve := &domain.ValidationError{}
			ve.Add("rows", domain.ReasonInvalid, "every row must belong to the addressed unit")
			return ve
		}
	}
	err := s.store.BulkUpsert(ctx, rows)
	observeWrite("bulk_upsert", err)
	if err == nil {
		log.Info().Int64("unit_id", unitID).Int("rows", len(rows)).Msg("schedule published")
	}
	return err
}

func (s *ScheduleService) MarkRange(ctx context.Context, t domain.RangeTransition) error {
	if _, err := s.catalog.GetUnit(ctx, t.UnitID); err != nil {
		return err
	}
	err := s.store.MarkRangeStatus(ctx, t)
	observeWrite("mark_range", err)
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Int64("unit_id", t.UnitID).Str("range", t.Range.String()).Str("status", string(t.Status)).Msg("range status change")
	return err
}

// ClearRange removes every non-booked day of r.
func (s *ScheduleService) ClearRange(ctx context.Context, unitID int64, r domain.DateRange) (int64, error) {
	if err := checkSpan(r); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteRange(ctx, unitID, r)
	observeWrite("delete_range", err)
	return n, err
}

func (s *ScheduleService) PurgeUnit(ctx context.Context, unitID int64) (int64, error) {
	n, err := s.store.PurgeUnit(ctx, unitID)
	observeWrite("purge_unit", err)
	if err == nil {
		log.Info().Int64("unit_id", unitID).Int64("rows", n).Msg("unit schedule purged")
	}
	return n, err
}

func observeWrite(op string, err error) {
	observability.ObserveScheduleWrite(op, writeResult(err))
}

func writeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrIncompleteRange):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidRange):
		return "invalid"
	}
	if _, ok := domain.AsValidation(err); ok {
		return "invalid"
	}
	return "error"
}

// Retriable reports whether err is worth retrying with the same input.
// Validation failures, conflicts and missing units are final.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	switch writeResult(err) {
	case "conflict", "invalid":
		return false
	}
	return !errors.Is(err, domain.ErrNotFound)
}
