package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SortKey string

const (
	SortRelevance   SortKey = "relevance"
	SortPriceAsc    SortKey = "price_asc"
	SortPriceDesc   SortKey = "price_desc"
	SortRatingDesc  SortKey = "rating_desc"
	SortDistanceAsc SortKey = "distance_asc"
)

func (k SortKey) Valid() bool {
	switch k {
	case "", SortRelevance, SortPriceAsc, SortPriceDesc, SortRatingDesc, SortDistanceAsc:
		return true
	}
	return false
}

// SearchRequest is caller supplied and never persisted. Nil pointers mean "not supplied".
type SearchRequest struct {
	City           string
	PropertyTypeID *int64
	MinPrice       *decimal.Decimal
	MaxPrice       *decimal.Decimal
	Currency       string // currency of the price band and of display amounts; default currency when empty
	CheckIn        *time.Time
	CheckOut       *time.Time
	Guests         *int
	Adults         *int
	Children       *int
	MinRating      *float64
	Query          string
	Lat            *float64
	Lon            *float64
	RadiusKm       *float64
	SortBy         SortKey
	Page           *int
	PageSize       *int
}

// RequestedGuests is the capacity the unit must hold.
// When both a total and an adults/children split are given the larger wins.
func (r SearchRequest) RequestedGuests() int {
	n := 0
	if r.Guests != nil {
		n = *r.Guests
	}
	split := 0
	if r.Adults != nil {
		split += *r.Adults
	}
	if r.Children != nil {
		split += *r.Children
	}
	if split > n {
		n = split
	}
	return n
}

// Stay returns the requested interval, or false in browse mode.
func (r SearchRequest) Stay() (DateRange, bool) {
	if r.CheckIn == nil || r.CheckOut == nil {
		return DateRange{}, false
	}
	return DateRange{From: Day(*r.CheckIn), To: Day(*r.CheckOut)}, true
}

func (r SearchRequest) HasCenter() bool { return r.Lat != nil && r.Lon != nil }

// SearchResultItem is derived per request. Amounts are exact; present with Money.Rounded.
type SearchResultItem struct {
	UnitID        int64
	PropertyID    int64
	UnitName      string
	PropertyName  string
	City          string
	MaxCapacity   int
	AverageRating float64
	BasePrice     Money
	NightlyPrice  Money // average over the stay, or BasePrice in browse mode
	TotalPrice    *Money
	Nights        int
	DistanceKm    *float64

	// Display amounts in the request currency, set when the caller named one.
	DisplayNightly *Money
	DisplayTotal   *Money

	TextScore float64
}

// TextMatch says how the free-text filter selected results.
type TextMatch string

const (
	TextMatchNone       TextMatch = ""
	TextMatchSubstring  TextMatch = "substring"
	TextMatchSimilarity TextMatch = "similarity"
)

type SearchPage struct {
	Items        []SearchResultItem
	TotalCount   int
	PageNumber   int
	PageSize     int
	TotalPages   int
	SearchTimeMs float64
	StaleRates   bool
	TextMatch    TextMatch
}
