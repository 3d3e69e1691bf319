package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

const DateLayout = "2006-01-02"

// MaxSpanNights bounds every schedule read and write range.
const MaxSpanNights = 3 * 366

var (
	ErrInvalidRange = errors.New("check-out must be after check-in")
	ErrRangeTooLong = errors.Newf("date range exceeds %d nights", MaxSpanNights)
)

// DateRange is the half-open day interval [From, To).
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange truncates both ends to UTC days and validates the interval.
func NewDateRange(from, to time.Time) (DateRange, error) {
	r := DateRange{From: Day(from), To: Day(to)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return DateRange{}, errors.Wrap(err, "parse from")
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return DateRange{}, errors.Wrap(err, "parse to")
	}
	return NewDateRange(f, t)
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRange
	}
	return nil
}

func (r DateRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

// Nights is the number of days in [From, To).
func (r DateRange) Nights() int {
	if !r.To.After(r.From) {
		return 0
	}
	return int((Day(r.To).Unix() - Day(r.From).Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60

// CheckSpan is Validate plus the MaxSpanNights limit.
func (r DateRange) CheckSpan() error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Nights() > MaxSpanNights {
		return ErrRangeTooLong
	}
	return nil
}

// Days lists every day in [From, To) in order.
func (r DateRange) Days() []time.Time {
	n := r.Nights()
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.From.AddDate(0, 0, i))
	}
	return out
}

func (r DateRange) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(r.From) && d.Before(r.To)
}

func (r DateRange) Overlaps(o DateRange) bool {
	return r.From.Before(o.To) && o.From.Before(r.To)
}

func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
