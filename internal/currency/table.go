// Package currency is the single place where money crosses currencies.
package currency

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"staysearch/internal/domain"
)

const defaultMinorUnits = 2

// Table is an immutable snapshot of the rate table. Every method is a pure
// function of the snapshot, so one search sees one consistent set of rates.
type Table struct {
	byCode   map[string]domain.Currency
	base     string
	loadedAt time.Time
}

// NewTable validates rows and builds a snapshot. Rows with a non-positive rate
// are treated as inactive and skipped; the default currency's rate is forced to 1.
func NewTable(rows []domain.Currency, loadedAt time.Time) (*Table, error) {
	t := &Table{byCode: make(map[string]domain.Currency, len(rows)), loadedAt: loadedAt}
	for _, r := range rows {
		r.Code = domain.NormalizeCode(r.Code)
		if r.Code == "" {
			continue
		}
		if _, dup := t.byCode[r.Code]; dup {
			return nil, errors.Newf("currency %s listed twice", r.Code)
		}
		if r.MinorUnits < 0 {
			r.MinorUnits = defaultMinorUnits
		}
		if r.IsDefault {
			if t.base != "" {
				return nil, errors.Newf("currencies %s and %s are both default", t.base, r.Code)
			}
			t.base = r.Code
			r.Rate = decimal.NewFromInt(1)
		} else if !r.Rate.IsPositive() {
			continue
		}
		t.byCode[r.Code] = r
	}
	if t.base == "" {
		return nil, errors.New("currency table has no default currency")
	}
	return t, nil
}

func (t *Table) Base() string { return t.base }

func (t *Table) LoadedAt() time.Time { return t.loadedAt }

func (t *Table) Lookup(code string) (domain.Currency, bool) {
	c, ok := t.byCode[domain.NormalizeCode(code)]
	return c, ok
}

func (t *Table) Supports(code string) bool {
	_, ok := t.Lookup(code)
	return ok
}

func (t *Table) rate(code string) (decimal.Decimal, error) {
	c, ok := t.Lookup(code)
	if !ok {
		return decimal.Zero, errors.Wrapf(domain.ErrUnknownCurrency, "%q", code)
	}
	return c.Rate, nil
}

// ToBase converts amount in code into the base currency.
func (t *Table) ToBase(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	r, err := t.rate(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(r), nil
}

// FromBase converts a base-currency amount into code.
func (t *Table) FromBase(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	r, err := t.rate(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Div(r), nil
}

// Convert is FromBase(ToBase(amount, from), to). Same-currency conversion
// returns amount untouched.
func (t *Table) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = domain.NormalizeCode(from), domain.NormalizeCode(to)
	if from == to {
		if _, err := t.rate(from); err != nil {
			return decimal.Zero, err
		}
		return amount, nil
	}
	b, err := t.ToBase(amount, from)
	if err != nil {
		return decimal.Zero, err
	}
	return t.FromBase(b, to)
}

// Money attaches the currency's minor-unit precision to an exact amount.
func (t *Table) Money(amount decimal.Decimal, code string) domain.Money {
	m := domain.Money{Amount: amount, Currency: domain.NormalizeCode(code), MinorUnits: defaultMinorUnits}
	if c, ok := t.Lookup(code); ok {
		m.MinorUnits = c.MinorUnits
	}
	return m
}

// OldestUpdate returns the least recent rate timestamp, ignoring the base
// currency and rows without a timestamp.
func (t *Table) OldestUpdate() time.Time {
	var oldest time.Time
	for code, c := range t.byCode {
		if code == t.base || c.UpdatedAt.IsZero() {
			continue
		}
		if oldest.IsZero() || c.UpdatedAt.Before(oldest) {
			oldest = c.UpdatedAt
		}
	}
	return oldest
}

// RatesAreFresh reports whether every non-base rate was updated within maxAge of now.
func (t *Table) RatesAreFresh(now time.Time, maxAge time.Duration) bool {
	oldest := t.OldestUpdate()
	if oldest.IsZero() {
		return true
	}
	return now.Sub(oldest) <= maxAge
}

// Currencies lists the snapshot ordered by code.
func (t *Table) Currencies() []domain.Currency {
	out := make([]domain.Currency, 0, len(t.byCode))
	for _, c := range t.byCode {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
