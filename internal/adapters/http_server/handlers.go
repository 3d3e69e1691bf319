package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"staysearch/internal/app"
	"staysearch/internal/currency"
	"staysearch/internal/domain"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	Search   *app.SearchService
	Schedule *app.ScheduleService
	Rates    *currency.Cache
	Monitor  *currency.Monitor
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

func (s *Server) MountHandlers(h *Handlers, rl *RateLimiter) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/readyz", h.ready)

	s.mux.Route("/v1", func(v1 chi.Router) {
		if rl != nil {
			v1.Use(rl.Middleware)
		}
		v1.Get("/search", h.search)

		v1.Route("/units/{id}", func(u chi.Router) {
			u.Get("/schedule", h.getSchedule)
			u.Put("/schedule", h.putSchedule)
			u.Delete("/schedule", h.deleteSchedule)
			u.Post("/schedule/status", h.markStatus)
			u.Get("/availability", h.availability)
		})

		v1.Get("/currencies", h.listCurrencies)
		v1.Get("/currencies/convert", h.convert)
		v1.Get("/currencies/freshness", h.freshness)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, body
}

// writeCacheable serves v with a weak ETag and answers 304 when it matches.
func writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write body")
	}
}

func unitID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, r, &domain.ValidationError{Fields: []domain.FieldError{{Field: "id", Reason: domain.ReasonInvalid, Message: "id must be a positive number"}}})
		return 0, false
	}
	return id, true
}

func actor(r *http.Request) *string {
	a := strings.TrimSpace(r.Header.Get("X-Actor"))
	if a == "" {
		return nil
	}
	return &a
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, r, &domain.ValidationError{Fields: []domain.FieldError{{Field: "body", Reason: domain.ReasonInvalid, Message: err.Error()}}})
		return false
	}
	return true
}

/********** search **********/

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.Search.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page.StaleRates {
		w.Header().Set("Warning", `199 - "currency rates are stale"`)
	}
	writeJSON(w, http.StatusOK, toSearchResponse(page))
}

/********** schedule **********/

func (h *Handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := unitID(w, r)
	if !ok {
		return
	}
	p := newParams(r.URL.Query())
	rg := p.dateRange("from", "to")
	if err := p.err(); err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.Schedule.Range(r.Context(), id, rg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCacheable(w, r, map[string]any{
		"unitId": id,
		"from":   rg.From.Format(domain.DateLayout),
		"to":     rg.To.Format(domain.DateLayout),
		"days":   toScheduleDTO(rows),
	})
}

func (h *Handlers) availability(w http.ResponseWriter, r *http.Request) {
	id, ok := unitID(w, r)
	if !ok {
		return
	}
	p := newParams(r.URL.Query())
	rg := p.dateRange("from", "to")
	if err := p.err(); err != nil {
		writeError(w, r, err)
		return
	}
	avail, err := h.Schedule.Availability(r.Context(), id, rg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unitId":    id,
		"from":      rg.From.Format(domain.DateLayout),
		"to":        rg.To.Format(domain.DateLayout),
		"nights":    rg.Nights(),
		"available": avail,
	})
}

func (h *Handlers) putSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := unitID(w, r)
	if !ok {
		return
	}
	var body putScheduleBody
	if !decodeBody(w, r, &body) {
		return
	}
	rows, err := body.toRows(id, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Schedule.Publish(r.Context(), id, rows); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unitId": id, "upserted": len(rows)})
}

func (h *Handlers) markStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := unitID(w, r)
	if !ok {
		return
	}
	var body statusBody
	if !decodeBody(w, r, &body) {
		return
	}
	t, err := body.toTransition(id, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Schedule.MarkRange(r.Context(), t); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := unitID(w, r)
	if !ok {
		return
	}
	p := newParams(r.URL.Query())
	rg := p.dateRange("from", "to")
	if err := p.err(); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.Schedule.ClearRange(r.Context(), id, rg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unitId": id, "deleted": n})
}

/********** currencies **********/

func (h *Handlers) listCurrencies(w http.ResponseWriter, r *http.Request) {
	tb, err := h.Rates.Table(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCacheable(w, r, map[string]any{"base": tb.Base(), "currencies": tb.Currencies()})
}

func (h *Handlers) convert(w http.ResponseWriter, r *http.Request) {
	p := newParams(r.URL.Query())
	amount := p.decimal("amount")
	from, to := domain.NormalizeCode(p.str("from")), domain.NormalizeCode(p.str("to"))
	if amount == nil && p.str("amount") == "" {
		p.ve.Add("amount", domain.ReasonRequired, "")
	}
	if from == "" {
		p.ve.Add("from", domain.ReasonRequired, "")
	}
	if to == "" {
		p.ve.Add("to", domain.ReasonRequired, "")
	}
	if err := p.err(); err != nil {
		writeError(w, r, err)
		return
	}
	tb, err := h.Rates.Table(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ve := &domain.ValidationError{}
	if !tb.Supports(from) {
		ve.Add("from", domain.ReasonUnsupported, "unknown currency "+from)
	}
	if !tb.Supports(to) {
		ve.Add("to", domain.ReasonUnsupported, "unknown currency "+to)
	}
	if err := ve.OrNil(); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := tb.Convert(*amount, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount": toMoney(tb.Money(*amount, from)),
		"result": toMoney(tb.Money(out, to)),
		"exact":  out.String(),
	})
}

type freshnessDTO struct {
	currency.Freshness
	OldestAgeSeconds int64 `json:"oldestAgeSeconds"`
	MaxAgeSeconds    int64 `json:"maxAgeSeconds"`
}

func (h *Handlers) freshness(w http.ResponseWriter, r *http.Request) {
	tb, err := h.Rates.Table(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := h.Monitor.Evaluate(tb)
	writeJSON(w, http.StatusOK, freshnessDTO{
		Freshness:        f,
		OldestAgeSeconds: int64(f.OldestAge / time.Second),
		MaxAgeSeconds:    int64(f.MaxAge / time.Second),
	})
}

/********** health **********/

func (h *Handlers) ready(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			writeError(w, r, domain.Unavailable(err, "readiness"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
