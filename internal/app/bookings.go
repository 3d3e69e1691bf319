package app

import (
	"context"

	"github.com/cockroachdb/errors"

	"staysearch/internal/domain"
)

const (
	BookingConfirmed = "booking.confirmed"
	BookingCancelled = "booking.cancelled"
)

// BookingEvent is published by the booking subsystem when a reservation is
// confirmed or cancelled. Dates are YYYY-MM-DD, check-out exclusive.
type BookingEvent struct {
	Type       string `json:"type"`
	BookingRef string `json:"bookingRef"`
	UnitID     int64  `json:"unitId"`
	CheckIn    string `json:"checkIn"`
	CheckOut   string `json:"checkOut"`
	Actor      string `json:"actor,omitempty"`
}

// Transition translates the event into a range status change.
func (e BookingEvent) Transition() (domain.RangeTransition, error) {
	r, err := domain.ParseDateRange(e.CheckIn, e.CheckOut)
	if err != nil {
		ve := &domain.ValidationError{}
		ve.Add("checkOut", domain.ReasonInvalid, err.Error())
		return domain.RangeTransition{}, ve
	}
	t := domain.RangeTransition{UnitID: e.UnitID, Range: r, BookingRef: &e.BookingRef}
	if e.Actor != "" {
		t.ModifiedBy = &e.Actor
	}
	switch e.Type {
	case BookingConfirmed:
		t.Status = domain.StatusBooked
	case BookingCancelled:
		t.Status = domain.StatusAvailable
	default:
		ve := &domain.ValidationError{}
		ve.Add("type", domain.ReasonUnsupported, "unknown booking event "+e.Type)
		return domain.RangeTransition{}, ve
	}
	return t, nil
}

// ApplyBooking flips the booked range. Replaying an already applied event is
// a no-op rather than a conflict, so redelivery is safe.
func (s *ScheduleService) ApplyBooking(ctx context.Context, e BookingEvent) error {
	t, err := e.Transition()
	if err != nil {
		return err
	}
	err = s.MarkRange(ctx, t)
	if err == nil || !errors.Is(err, domain.ErrConflict) {
		return err
	}
	if applied, rerr := s.alreadyApplied(ctx, t); rerr == nil && applied {
		return nil
	}
	return err
}

func (s *ScheduleService) alreadyApplied(ctx context.Context, t domain.RangeTransition) (bool, error) {
	rows, err := s.store.GetRange(ctx, t.UnitID, t.Range)
	if err != nil || len(rows) != t.Range.Nights() {
		return false, err
	}
	for _, r := range rows {
		if r.Status != t.Status {
			return false, nil
		}
		if t.Status == domain.StatusBooked && (r.BookingRef == nil || *r.BookingRef != *t.BookingRef) {
			return false, nil
		}
	}
	return true, nil
}
