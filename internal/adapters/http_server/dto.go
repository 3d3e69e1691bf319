package httpserver

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"staysearch/internal/domain"
)

// ---- query parsing ----

// params reads typed query values and records a field error for each value
// that does not parse.
type params struct {
	q  url.Values
	ve *domain.ValidationError
}

func newParams(q url.Values) *params { return &params{q: q, ve: &domain.ValidationError{}} }

func (p *params) str(k string) string { return strings.TrimSpace(p.q.Get(k)) }

func (p *params) int(k string) *int {
	s := p.str(k)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.ve.Add(k, domain.ReasonInvalid, "must be an integer")
		return nil
	}
	return &n
}

func (p *params) int64(k string) *int64 {
	s := p.str(k)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.ve.Add(k, domain.ReasonInvalid, "must be an integer")
		return nil
	}
	return &n
}

func (p *params) float(k string) *float64 {
	s := p.str(k)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.ve.Add(k, domain.ReasonInvalid, "must be a finite number")
		return nil
	}
	return &f
}

func (p *params) decimal(k string) *decimal.Decimal {
	s := p.str(k)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.ve.Add(k, domain.ReasonInvalid, "must be a decimal amount")
		return nil
	}
	return &d
}

func (p *params) date(k string) *time.Time {
	s := p.str(k)
	if s == "" {
		return nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		p.ve.Add(k, domain.ReasonInvalid, "must be a date (YYYY-MM-DD)")
		return nil
	}
	return &t
}

// dateRange reads a required from/to pair.
func (p *params) dateRange(fromKey, toKey string) domain.DateRange {
	from, to := p.date(fromKey), p.date(toKey)
	if from == nil && p.str(fromKey) == "" {
		p.ve.Add(fromKey, domain.ReasonRequired, "")
	}
	if to == nil && p.str(toKey) == "" {
		p.ve.Add(toKey, domain.ReasonRequired, "")
	}
	if from == nil || to == nil {
		return domain.DateRange{}
	}
	r := domain.DateRange{From: domain.Day(*from), To: domain.Day(*to)}
	switch err := r.CheckSpan(); {
	case errors.Is(err, domain.ErrRangeTooLong):
		p.ve.Add(toKey, domain.ReasonOutOfRange, err.Error())
	case err != nil:
		p.ve.Add(toKey, domain.ReasonBeforeCheckIn, err.Error())
	}
	return r
}

func (p *params) err() error { return p.ve.OrNil() }

func parseSearchRequest(q url.Values) (domain.SearchRequest, error) {
	p := newParams(q)
	req := domain.SearchRequest{
		City:           p.str("city"),
		PropertyTypeID: p.int64("propertyTypeId"),
		MinPrice:       p.decimal("minPrice"),
		MaxPrice:       p.decimal("maxPrice"),
		Currency:       p.str("currency"),
		CheckIn:        p.date("checkIn"),
		CheckOut:       p.date("checkOut"),
		Guests:         p.int("guests"),
		Adults:         p.int("adults"),
		Children:       p.int("children"),
		MinRating:      p.float("minRating"),
		Query:          p.str("q"),
		Lat:            p.float("lat"),
		Lon:            p.float("lon"),
		RadiusKm:       p.float("radiusKm"),
		SortBy:         domain.SortKey(p.str("sortBy")),
		Page:           p.int("page"),
		PageSize:       p.int("pageSize"),
	}
	return req, p.err()
}

// ---- responses ----

type moneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoney(m domain.Money) moneyDTO {
	return moneyDTO{Amount: m.Rounded().StringFixed(m.MinorUnits), Currency: m.Currency}
}

func toMoneyPtr(m *domain.Money) *moneyDTO {
	if m == nil {
		return nil
	}
	v := toMoney(*m)
	return &v
}

type searchItemDTO struct {
	UnitID        int64       `json:"unitId"`
	PropertyID    int64       `json:"propertyId"`
	UnitName      string      `json:"unitName"`
	PropertyName  string      `json:"propertyName"`
	City          string      `json:"city"`
	MaxCapacity   int         `json:"maxCapacity"`
	AverageRating float64     `json:"averageRating"`
	BasePrice     moneyDTO    `json:"basePrice"`
	NightlyPrice  moneyDTO    `json:"nightlyPrice"`
	TotalPrice    *moneyDTO   `json:"totalPrice,omitempty"`
	Nights        int         `json:"nights,omitempty"`
	DistanceKm    *float64    `json:"distanceKm,omitempty"`
	Display       *displayDTO `json:"display,omitempty"`
}

// displayDTO holds amounts converted into the currency the caller asked for.
type displayDTO struct {
	Nightly moneyDTO  `json:"nightly"`
	Total   *moneyDTO `json:"total,omitempty"`
}

type searchResponse struct {
	Items        []searchItemDTO `json:"items"`
	TotalCount   int             `json:"totalCount"`
	PageNumber   int             `json:"pageNumber"`
	PageSize     int             `json:"pageSize"`
	TotalPages   int             `json:"totalPages"`
	SearchTimeMs float64         `json:"searchTimeMs"`
	StaleRates   bool            `json:"staleRates"`
	TextMatch    string          `json:"textMatch,omitempty"`
}

func toSearchResponse(p domain.SearchPage) searchResponse {
	out := searchResponse{
		Items:      make([]searchItemDTO, 0, len(p.Items)),
		TotalCount: p.TotalCount, PageNumber: p.PageNumber, PageSize: p.PageSize,
		TotalPages: p.TotalPages, SearchTimeMs: p.SearchTimeMs,
		StaleRates: p.StaleRates, TextMatch: string(p.TextMatch),
	}
	for _, it := range p.Items {
		d := searchItemDTO{
			UnitID: it.UnitID, PropertyID: it.PropertyID,
			UnitName: it.UnitName, PropertyName: it.PropertyName, City: it.City,
			MaxCapacity: it.MaxCapacity, AverageRating: it.AverageRating,
			BasePrice: toMoney(it.BasePrice), NightlyPrice: toMoney(it.NightlyPrice),
			TotalPrice: toMoneyPtr(it.TotalPrice), Nights: it.Nights,
		}
		if it.DistanceKm != nil {
			km := math.Round(*it.DistanceKm*100) / 100
			d.DistanceKm = &km
		}
		if it.DisplayNightly != nil {
			d.Display = &displayDTO{Nightly: toMoney(*it.DisplayNightly), Total: toMoneyPtr(it.DisplayTotal)}
		}
		out.Items = append(out.Items, d)
	}
	return out
}

// scheduleDayDTO is both the wire form of a stored day and the PUT body row.
type scheduleDayDTO struct {
	Date       string           `json:"date"`
	Status     string           `json:"status"`
	BookingRef *string          `json:"bookingRef,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	Tier       *string          `json:"tier,omitempty"`
	Reason     *string          `json:"reason,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
	UpdatedAt  *time.Time       `json:"updatedAt,omitempty"`
}

func toScheduleDTO(rows []domain.ScheduleDay) []scheduleDayDTO {
	out := make([]scheduleDayDTO, 0, len(rows))
	for _, r := range rows {
		upd := r.UpdatedAt
		out = append(out, scheduleDayDTO{
			Date: r.Day.Format(domain.DateLayout), Status: string(r.Status), BookingRef: r.BookingRef,
			Price: r.Price, Currency: r.Currency, Tier: r.Tier, Reason: r.Reason, Notes: r.Notes,
			UpdatedAt: &upd,
		})
	}
	return out
}

type putScheduleBody struct {
	Days []scheduleDayDTO `json:"days"`
}

// toRows converts the PUT body; a missing status means available.
func (b putScheduleBody) toRows(unitID int64, actor *string) ([]domain.ScheduleDay, error) {
	ve := &domain.ValidationError{}
	if len(b.Days) == 0 {
		ve.Add("days", domain.ReasonRequired, "at least one day is required")
	}
	rows := make([]domain.ScheduleDay, 0, len(b.Days))
	for i, d := range b.Days {
		field := "days[" + strconv.Itoa(i) + "]"
		day, err := time.Parse(domain.DateLayout, strings.TrimSpace(d.Date))
		if err != nil {
			ve.Add(field+".date", domain.ReasonInvalid, "must be a date (YYYY-MM-DD)")
			continue
		}
		status := domain.StatusAvailable
		if d.Status != "" {
			if status, err = domain.ParseDayStatus(d.Status); err != nil {
				ve.Add(field+".status", domain.ReasonUnsupported, err.Error())
				continue
			}
		}
		rows = append(rows, domain.ScheduleDay{
			UnitID: unitID, Day: day, Status: status, BookingRef: d.BookingRef,
			Price: d.Price, Currency: domain.NormalizeCode(d.Currency),
			Tier: d.Tier, Reason: d.Reason, Notes: d.Notes,
			CreatedBy: actor, ModifiedBy: actor,
		})
	}
	return rows, ve.OrNil()
}

type statusBody struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Status     string  `json:"status"`
	BookingRef *string `json:"bookingRef,omitempty"`
}

func (b statusBody) toTransition(unitID int64, actor *string) (domain.RangeTransition, error) {
	ve := &domain.ValidationError{}
	r, err := domain.ParseDateRange(b.From, b.To)
	if err != nil {
		ve.Add("to", domain.ReasonInvalid, err.Error())
	}
	st, err := domain.ParseDayStatus(b.Status)
	if err != nil {
		ve.Add("status", domain.ReasonUnsupported, err.Error())
	}
	if err := ve.OrNil(); err != nil {
		return domain.RangeTransition{}, err
	}
	return domain.RangeTransition{UnitID: unitID, Range: r, Status: st, BookingRef: b.BookingRef, ModifiedBy: actor}, nil
}
