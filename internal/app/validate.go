package app

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"staysearch/internal/domain"
)

const (
	maxTextLen  = 200
	maxRating   = 10.0
	maxRadiusKm = 20000.0
)

// query is a validated, normalized SearchRequest.
type query struct {
	filter    domain.StructuralFilter
	stay      domain.DateRange
	hasStay   bool
	minPrice  *decimal.Decimal
	maxPrice  *decimal.Decimal
	currency  string // empty until resolved against the rate table
	minRating float64
	text      string // folded
	center    *domain.Coords
	radiusKm  float64 // 0 = no radius
	sort      domain.SortKey
	page      int
	pageSize  int
}

func (q query) hasBand() bool { return q.minPrice != nil || q.maxPrice != nil }

// normalize validates req and returns the query it describes. Every offending
// field is reported; page sizes above the maximum are clamped, not rejected.
func (s *SearchService) normalize(req domain.SearchRequest) (query, error) {
	ve := &domain.ValidationError{}
	q := query{sort: req.SortBy, page: 1, pageSize: s.cfg.DefaultPageSize}

	q.filter.City = strings.TrimSpace(req.City)
	if utf8.RuneCountInString(q.filter.City) > maxTextLen {
		ve.Add("city", domain.ReasonTooLong, fmt.Sprintf("at most %d characters", maxTextLen))
	}
	if req.PropertyTypeID != nil {
		if *req.PropertyTypeID <= 0 {
			ve.Add("propertyTypeId", domain.ReasonInvalid, "must be positive")
		}
		q.filter.PropertyTypeID = *req.PropertyTypeID
	}

	for _, c := range []struct {
		field string
		v     *int
	}{{"guests", req.Guests}, {"adults", req.Adults}, {"children", req.Children}} {
		if c.v != nil && *c.v < 0 {
			ve.Add(c.field, domain.ReasonOutOfRange, "must not be negative")
		}
	}
	q.filter.MinCapacity = req.RequestedGuests()

	if req.MinPrice != nil && req.MinPrice.IsNegative() {
		ve.Add("minPrice", domain.ReasonOutOfRange, "must not be negative")
	}
	if req.MaxPrice != nil && req.MaxPrice.IsNegative() {
		ve.Add("maxPrice", domain.ReasonOutOfRange, "must not be negative")
	}
	if req.MinPrice != nil && req.MaxPrice != nil && req.MinPrice.GreaterThan(*req.MaxPrice) {
		ve.Add("maxPrice", domain.ReasonMinGtMax, "must not be below minPrice")
	}
	q.minPrice, q.maxPrice = req.MinPrice, req.MaxPrice
	if req.Currency != "" {
		q.currency = domain.NormalizeCode(req.Currency)
		if len(q.currency) != 3 {
			ve.Add("currency", domain.ReasonInvalid, "must be a 3-letter code")
		}
	}

	switch {
	case req.CheckIn != nil && req.CheckOut == nil:
		ve.Add("checkOut", domain.ReasonRequired, "checkOut is required with checkIn")
	case req.CheckIn == nil && req.CheckOut != nil:
		ve.Add("checkIn", domain.ReasonRequired, "checkIn is required with checkOut")
	case req.CheckIn != nil:
		stay, _ := req.Stay()
		switch {
		case stay.Validate() != nil:
			ve.Add("checkOut", domain.ReasonBeforeCheckIn, "must be after checkIn")
		case s.cfg.MaxNights > 0 && stay.Nights() > s.cfg.MaxNights:
			ve.Add("checkOut", domain.ReasonOutOfRange, fmt.Sprintf("stay is limited to %d nights", s.cfg.MaxNights))
		default:
			q.stay, q.hasStay = stay, true
		}
	}

	if req.MinRating != nil {
		switch {
		case !finite(*req.MinRating):
			ve.Add("minRating", domain.ReasonInvalid, "must be a finite number")
		case *req.MinRating < 0 || *req.MinRating > maxRating:
			ve.Add("minRating", domain.ReasonOutOfRange, fmt.Sprintf("must be between 0 and %g", maxRating))
		}
		q.minRating = *req.MinRating
	}

	text := strings.TrimSpace(req.Query)
	if utf8.RuneCountInString(text) > maxTextLen {
		ve.Add("q", domain.ReasonTooLong, fmt.Sprintf("at most %d characters", maxTextLen))
	}
	q.text = domain.FoldText(text)

	switch {
	case req.Lat != nil && req.Lon == nil:
		ve.Add("lon", domain.ReasonRequired, "lon is required with lat")
	case req.Lat == nil && req.Lon != nil:
		ve.Add("lat", domain.ReasonRequired, "lat is required with lon")
	case req.HasCenter():
		switch {
		case !finite(*req.Lat):
			ve.Add("lat", domain.ReasonInvalid, "must be a finite number")
		case *req.Lat < -90 || *req.Lat > 90:
			ve.Add("lat", domain.ReasonOutOfRange, "must be between -90 and 90")
		}
		switch {
		case !finite(*req.Lon):
			ve.Add("lon", domain.ReasonInvalid, "must be a finite number")
		case *req.Lon < -180 || *req.Lon > 180:
			ve.Add("lon", domain.ReasonOutOfRange, "must be between -180 and 180")
		}
		q.center = &domain.Coords{Lat: *req.Lat, Lon: *req.Lon}
	}
	if req.RadiusKm != nil {
		switch {
		case !finite(*req.RadiusKm):
			ve.Add("radiusKm", domain.ReasonInvalid, "must be a finite number")
		case *req.RadiusKm <= 0 || *req.RadiusKm > maxRadiusKm:
			ve.Add("radiusKm", domain.ReasonOutOfRange, "must be positive and within the earth's circumference")
		}
		if !req.HasCenter() {
			ve.Add("lat", domain.ReasonRequired, "radiusKm needs a center")
		}
		q.radiusKm = *req.RadiusKm
	}

	if !req.SortBy.Valid() {
		ve.Add("sortBy", domain.ReasonUnsupported, "unknown sort key")
	}
	if req.SortBy == "" {
		q.sort = domain.SortRelevance
	}
	if q.sort == domain.SortDistanceAsc && !req.HasCenter() {
		ve.Add("sortBy", domain.ReasonRequired, "distance sort needs lat and lon")
	}

	if req.Page != nil {
		if *req.Page < 1 {
			ve.Add("page", domain.ReasonOutOfRange, "must be at least 1")
		}
		q.page = *req.Page
	}
	if req.PageSize != nil {
		if *req.PageSize <= 0 {
			ve.Add("pageSize", domain.ReasonOutOfRange, "must be positive")
		}
		q.pageSize = *req.PageSize
	}
	if q.pageSize > s.cfg.MaxPageSize {
		q.pageSize = s.cfg.MaxPageSize
	}
	if q.pageSize > 0 && q.page > 1 && q.page-1 > math.MaxInt/q.pageSize {
		ve.Add("page", domain.ReasonOutOfRange, "page is too large")
	}
	return q, ve.OrNil()
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
