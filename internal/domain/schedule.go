package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type DayStatus string

const (
	StatusAvailable DayStatus = "available"
	StatusBooked    DayStatus = "booked"
	StatusBlocked   DayStatus = "blocked"
)

func (s DayStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBooked, StatusBlocked:
		return true
	}
	return false
}

// ParseDayStatus accepts any letter case.
func ParseDayStatus(s string) (DayStatus, error) {
	st := DayStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", errors.Newf("unknown day status %q", s)
	}
	return st, nil
}

// ScheduleDay is the state of one unit on one calendar day.
// At most one row exists per (UnitID, Day).
type ScheduleDay struct {
	UnitID     int64
	Day        time.Time // UTC midnight
	Status     DayStatus
	BookingRef *string          // set only when Status == StatusBooked
	Price      *decimal.Decimal // nil: use the unit's base nightly price
	Currency   string
	Tier       *string
	Reason     *string
	Notes      *string
	CreatedBy  *string
	ModifiedBy *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Contradiction reports why a row cannot be trusted, or "" when it is consistent.
func (d ScheduleDay) Contradiction() string {
	switch {
	case !d.Status.Valid():
		return "invalid_status"
	case d.Status == StatusBooked && (d.BookingRef == nil || *d.BookingRef == ""):
		return "booked_without_reference"
	case d.Status != StatusBooked && d.BookingRef != nil && *d.BookingRef != "":
		return "reference_on_unbooked_day"
	case d.Price != nil && d.Price.IsNegative():
		return "negative_price"
	case d.Price != nil && d.Currency == "":
		return "price_without_currency"
	}
	return ""
}

// RangeTransition is a request to flip every day of a range to one status.
type RangeTransition struct {
	UnitID     int64
	Range      DateRange
	Status     DayStatus
	BookingRef *string
	ModifiedBy *string
}

// Validate checks the shape of the transition; day-level rules are enforced by the store.
func (t RangeTransition) Validate() error {
	ve := &ValidationError{}
	if t.UnitID <= 0 {
		ve.Add("unitId", ReasonInvalid, "unit id must be positive")
	}
	switch err := t.Range.CheckSpan(); {
	case errors.Is(err, ErrRangeTooLong):
		ve.Add("to", ReasonOutOfRange, err.Error())
	case err != nil:
		ve.Add("to", ReasonBeforeCheckIn, err.Error())
	}
	if !t.Status.Valid() {
		ve.Add("status", ReasonUnsupported, "status must be available, booked or blocked")
	}
	if t.Status == StatusBooked && (t.BookingRef == nil || *t.BookingRef == "") {
		ve.Add("bookingRef", ReasonRequired, "booking reference is required to book a range")
	}
	if t.Status == StatusBlocked && t.BookingRef != nil && *t.BookingRef != "" {
		ve.Add("bookingRef", ReasonUnsupported, "blocked days carry no booking reference")
	}
	return ve.OrNil()
}

// CheckTransition applies the per-day rules of a range transition to the current rows.
// rows must be the complete, locked content of t.Range.
func CheckTransition(t RangeTransition, rows []ScheduleDay) error {
	if len(rows) != t.Range.Nights() {
		return errors.Wrapf(ErrIncompleteRange, "unit %d: %d of %d days present", t.UnitID, len(rows), t.Range.Nights())
	}
	ref := ""
	if t.BookingRef != nil {
		ref = *t.BookingRef
	}
	for _, r := range rows {
		cur := ""
		if r.BookingRef != nil {
			cur = *r.BookingRef
		}
		ok := false
		switch t.Status {
		case StatusBooked:
			ok = r.Status == StatusAvailable
		case StatusBlocked:
			ok = r.Status == StatusAvailable || r.Status == StatusBlocked
		case StatusAvailable:
			if ref != "" {
				ok = r.Status == StatusAvailable || (r.Status == StatusBooked && cur == ref)
			} else {
				ok = r.Status == StatusAvailable || r.Status == StatusBlocked
			}
		}
		if !ok {
			return errors.Wrapf(ErrConflict, "unit %d day %s is %s", t.UnitID, r.Day.Format(DateLayout), r.Status)
		}
	}
	return nil
}

// Apply returns row with the transition applied.
func (t RangeTransition) Apply(row ScheduleDay, now time.Time) ScheduleDay {
	row.Status = t.Status
	if t.Status == StatusBooked {
		ref := *t.BookingRef
		row.BookingRef = &ref
	} else {
		row.BookingRef = nil
	}
	row.ModifiedBy = t.ModifiedBy
	row.UpdatedAt = now
	return row
}

// ValidateBatch checks a bulk upsert before it touches the store. Rows may not
// book days, and a batch may not name the same (unit, day) twice.
func ValidateBatch(rows []ScheduleDay) error {
	ve := &ValidationError{}
	seen := make(map[[2]int64]int, len(rows))
	for i, r := range rows {
		field := fmt.Sprintf("rows[%d]", i)
		switch {
		case r.UnitID <= 0:
			ve.Add(field+".unitId", ReasonInvalid, "unit id must be positive")
		case r.Day.IsZero():
			ve.Add(field+".date", ReasonRequired, "date is required")
		case r.Status == StatusBooked:
			ve.Add(field+".status", ReasonUnsupported, "bookings are applied with a range status change")
		case r.Contradiction() != "":
			ve.Add(field, ReasonInvalid, r.Contradiction())
		}
		k := [2]int64{r.UnitID, Day(r.Day).Unix()}
		if j, dup := seen[k]; dup {
			return errors.Wrapf(ErrConflict, "rows[%d] and rows[%d] target unit %d on %s",
				j, i, r.UnitID, Day(r.Day).Format(DateLayout))
		}
		seen[k] = i
	}
	return ve.OrNil()
}
