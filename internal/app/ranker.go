package app

import (
	"sort"

	"github.com/shopspring/decimal"

	"staysearch/internal/domain"
)

// ranked pairs a result with the price it is ordered by. Price is in the
// base currency so units listed in different currencies compare correctly.
type ranked struct {
	item  domain.SearchResultItem
	price decimal.Decimal
}

// rank orders rs in place. Equal primary keys fall back to unit id ascending,
// which keeps pages stable across repeated calls.
func rank(rs []ranked, key domain.SortKey) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if c := compare(a, b, key); c != 0 {
			return c < 0
		}
		return a.item.UnitID < b.item.UnitID
	})
}

func compare(a, b ranked, key domain.SortKey) int {
	switch key {
	case domain.SortPriceAsc:
		return a.price.Cmp(b.price)
	case domain.SortPriceDesc:
		return b.price.Cmp(a.price)
	case domain.SortRatingDesc:
		return cmpFloat(b.item.AverageRating, a.item.AverageRating)
	case domain.SortDistanceAsc:
		return cmpDistance(a.item.DistanceKm, b.item.DistanceKm)
	default: // relevance: text strength, rating, price
		if c := cmpFloat(b.item.TextScore, a.item.TextScore); c != 0 {
			return c
		}
		if c := cmpFloat(b.item.AverageRating, a.item.AverageRating); c != 0 {
			return c
		}
		return a.price.Cmp(b.price)
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// units without a distance sort last
func cmpDistance(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmpFloat(*a, *b)
}

// paginate returns the 1-based page of rs and the page count over all of rs.
func paginate(rs []ranked, page, size int) ([]domain.SearchResultItem, int) {
	total := len(rs)
	pages := (total + size - 1) / size
	if page < 1 || page > pages {
		return []domain.SearchResultItem{}, pages
	}
	from := (page - 1) * size
	to := from + size
	if to > total {
		to = total
	}
	out := make([]domain.SearchResultItem, 0, to-from)
	for _, r := range rs[from:to] {
		out = append(out, r.item)
	}
	return out, pages
}
