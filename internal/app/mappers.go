package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"staysearch/internal/domain"
)

/********** alias registry (single source of truth) **********/

var horizonAliases = map[string][]string{
	"date":     {"date", "day", "night", "stay_date", "calendar.date"},
	"status":   {"status", "state", "availability", "calendar.status"},
	"price":    {"price", "amount", "rate", "nightly_price", "price.amount", "pricing.amount"},
	"currency": {"currency", "currency_code", "currencyCode", "price.currency", "pricing.currency"},
	"tier":     {"tier", "price_tier", "season", "pricing.tier"},
	"reason":   {"reason", "price_reason", "pricing.reason"},
	"notes":    {"notes", "note", "comment"},
	"closed":   {"closed", "blocked", "is_blocked", "stop_sell"},
}

// statuses the property service uses for days it does not sell
var blockedWords = map[string]bool{
	"blocked": true, "closed": true, "unavailable": true, "maintenance": true, "stop_sell": true,
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// firstNonEmptyAlias: first non-empty string for a named alias set.
func firstNonEmptyAlias(m map[string]any, key string) *string {
	for _, p := range horizonAliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return &s
		}
	}
	return nil
}

// firstDecimalFlexible: exact amount from float64/int/string ("95,50") values.
// JSON numbers arrive as float64; they are formatted back with the shortest
// representation so 95.1 stays 95.1.
func firstDecimalFlexible(m map[string]any, key string) *decimal.Decimal {
	for _, p := range horizonAliases[key] {
		switch v := lookupAny(m, p).(type) {
		case float64:
			d, err := decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
			if err == nil {
				return &d
			}
		case int:
			d := decimal.NewFromInt(int64(v))
			return &d
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if d, err := decimal.NewFromString(s); err == nil {
				return &d
			}
		}
	}
	return nil
}

func firstBool(m map[string]any, key string) bool {
	for _, p := range horizonAliases[key] {
		switch v := lookupAny(m, p).(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		}
	}
	return false
}

func parseDay(s string) (time.Time, bool) {
	for _, layout := range []string{domain.DateLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.Day(t), true
		}
	}
	return time.Time{}, false
}

/********** horizon mapper **********/

// mapHorizon turns the property service's loosely shaped day objects into
// schedule rows. Booked days are skipped: only the booking subsystem books.
// Rows without a usable date, or repeated dates, are dropped and logged.
func mapHorizon(unitID int64, fallbackCurrency string, in []map[string]any, by string) []domain.ScheduleDay {
	out := make([]domain.ScheduleDay, 0, len(in))
	seen := make(map[int64]bool, len(in))
	var modifiedBy *string
	if by != "" {
		modifiedBy = &by
	}
	for i, raw := range in {
		ds := firstNonEmptyAlias(raw, "date")
		if ds == nil {
			log.Warn().Int64("unit_id", unitID).Int("index", i).Msg("horizon row without date")
			continue
		}
		day, ok := parseDay(*ds)
		if !ok {
			log.Warn().Int64("unit_id", unitID).Str("date", *ds).Msg("horizon row with unparsable date")
			continue
		}
		if seen[day.Unix()] {
			log.Warn().Int64("unit_id", unitID).Str("date", *ds).Msg("horizon repeats a date")
			continue
		}
		seen[day.Unix()] = true

		status := domain.StatusAvailable
		if s := firstNonEmptyAlias(raw, "status"); s != nil {
			w := strings.ToLower(*s)
			switch {
			case w == "booked" || w == "reserved" || w == "sold":
				continue
			case blockedWords[w]:
				status = domain.StatusBlocked
			}
		}
		if firstBool(raw, "closed") {
			status = domain.StatusBlocked
		}

		row := domain.ScheduleDay{
			UnitID:     unitID,
			Day:        day,
			Status:     status,
			Price:      firstDecimalFlexible(raw, "price"),
			Tier:       firstNonEmptyAlias(raw, "tier"),
			Reason:     firstNonEmptyAlias(raw, "reason"),
			Notes:      firstNonEmptyAlias(raw, "notes"),
			CreatedBy:  modifiedBy,
			ModifiedBy: modifiedBy,
		}
		if row.Price != nil {
			row.Currency = fallbackCurrency
			if c := firstNonEmptyAlias(raw, "currency"); c != nil {
				row.Currency = domain.NormalizeCode(*c)
			}
			if row.Price.IsNegative() {
				log.Warn().Int64("unit_id", unitID).Str("date", *ds).Msg("horizon row with negative price")
				row.Price, row.Currency = nil, ""
			}
		}
		out = append(out, row)
	}
	return out
}
