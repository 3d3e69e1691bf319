package app

import (
	"github.com/shopspring/decimal"

	"staysearch/internal/currency"
	"staysearch/internal/domain"
)

type MissingDayPolicy string

const (
	// MissingUnavailable treats a day without a schedule row as not bookable.
	MissingUnavailable MissingDayPolicy = "unavailable"
	// MissingAvailable treats it as open at the unit's base nightly price.
	MissingAvailable MissingDayPolicy = "available"
)

// Reasons a unit is dropped for inconsistent data.
const (
	reasonDuplicateDay      = "duplicate_day"
	reasonUnknownUnitCur    = "unknown_unit_currency"
	reasonUnknownPriceCur   = "unknown_price_currency"
	reasonRowOutsideRequest = "row_outside_request"
)

// quoteStay checks that u can host every night of stay and sums the nightly
// prices in the unit's currency. ok is false when the unit is not bookable.
// A non-empty reason means the rows contradict each other and the unit must
// be excluded regardless of availability.
func quoteStay(u domain.UnitListing, rows []domain.ScheduleDay, stay domain.DateRange,
	policy MissingDayPolicy, tb *currency.Table) (total decimal.Decimal, ok bool, reason string) {

	byDay := make(map[int64]domain.ScheduleDay, len(rows))
	for _, r := range rows {
		if r.UnitID != u.UnitID || !stay.Contains(r.Day) {
			return decimal.Zero, false, reasonRowOutsideRequest
		}
		k := domain.Day(r.Day).Unix()
		if _, dup := byDay[k]; dup {
			return decimal.Zero, false, reasonDuplicateDay
		}
		if c := r.Contradiction(); c != "" {
			return decimal.Zero, false, c
		}
		byDay[k] = r
	}

	total = decimal.Zero
	for _, day := range stay.Days() {
		r, present := byDay[day.Unix()]
		switch {
		case !present && policy != MissingAvailable:
			return decimal.Zero, false, ""
		case !present:
			total = total.Add(u.BasePrice)
			continue
		case r.Status != domain.StatusAvailable:
			return decimal.Zero, false, ""
		case r.Price == nil:
			total = total.Add(u.BasePrice)
			continue
		}
		p := *r.Price
		if domain.NormalizeCode(r.Currency) != u.Currency {
			var err error
			if p, err = tb.Convert(p, r.Currency, u.Currency); err != nil {
				return decimal.Zero, false, reasonUnknownPriceCur
			}
		}
		total = total.Add(p)
	}
	return total, true, ""
}

// band is a price band expressed in one unit currency.
type band struct {
	lo, hi *decimal.Decimal
}

func (b band) contains(p decimal.Decimal) bool {
	if b.lo != nil && p.LessThan(*b.lo) {
		return false
	}
	if b.hi != nil && p.GreaterThan(*b.hi) {
		return false
	}
	return true
}

// bandConverter converts the request band into each unit currency once.
type bandConverter struct {
	q     query
	tb    *currency.Table
	cache map[string]band
}

func newBandConverter(q query, tb *currency.Table) *bandConverter {
	return &bandConverter{q: q, tb: tb, cache: map[string]band{}}
}

func (c *bandConverter) in(code string) (band, error) {
	if b, ok := c.cache[code]; ok {
		return b, nil
	}
	var b band
	conv := func(p *decimal.Decimal) (*decimal.Decimal, error) {
		if p == nil {
			return nil, nil
		}
		v, err := c.tb.Convert(*p, c.q.currency, code)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	var err error
	if b.lo, err = conv(c.q.minPrice); err != nil {
		return band{}, err
	}
	if b.hi, err = conv(c.q.maxPrice); err != nil {
		return band{}, err
	}
	c.cache[code] = b
	return b, nil
}
