package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitListing is the read model of one bookable unit joined with its property.
type UnitListing struct {
	UnitID         int64
	PropertyID     int64
	UnitName       string
	PropertyName   string
	City           string
	PropertyTypeID int64
	MaxCapacity    int
	AverageRating  float64 // 0 means no ratings yet
	Coords         *Coords
	BasePrice      decimal.Decimal
	Currency       string
	Tags           []string
	Settings       map[string]string

	PropertyApproved bool
	UnitActive       bool
	DeletedAt        *time.Time
}

type Coords struct{ Lat, Lon float64 }

// Eligible is the single search-eligibility predicate: approved property,
// active unit, not soft-deleted.
func (u UnitListing) Eligible() bool {
	return u.PropertyApproved && u.UnitActive && u.DeletedAt == nil
}

// StructuralFilter selects candidates from slow-changing metadata.
// Zero values mean "no constraint".
type StructuralFilter struct {
	City           string
	PropertyTypeID int64
	MinCapacity    int
}

// Matches mirrors the SQL structural predicate for in-process stores.
func (f StructuralFilter) Matches(u UnitListing) bool {
	if !u.Eligible() {
		return false
	}
	if f.City != "" && !EqualFoldCity(u.City, f.City) {
		return false
	}
	if f.PropertyTypeID > 0 && u.PropertyTypeID != f.PropertyTypeID {
		return false
	}
	if f.MinCapacity > 0 && u.MaxCapacity < f.MinCapacity {
		return false
	}
	return true
}
