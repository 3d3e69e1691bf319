package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is one row of the externally maintained rate table.
// Rate is the value of one unit of Code expressed in the default (base) currency.
type Currency struct {
	Code       string          `json:"code"`
	Rate       decimal.Decimal `json:"rate"`
	IsDefault  bool            `json:"isDefault"`
	MinorUnits int32           `json:"minorUnits"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Money is an exact amount; rounding to MinorUnits happens only in Rounded.
type Money struct {
	Amount     decimal.Decimal
	Currency   string
	MinorUnits int32
}

func (m Money) Rounded() decimal.Decimal {
	return m.Amount.Round(m.MinorUnits)
}

func (m Money) String() string {
	return m.Rounded().StringFixed(m.MinorUnits) + " " + m.Currency
}
