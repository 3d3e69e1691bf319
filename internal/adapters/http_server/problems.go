package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"staysearch/internal/domain"
)

// problem is an RFC 7807 body.
type problem struct {
	Type     string              `json:"type"`
	Title    string              `json:"title"`
	Status   int                 `json:"status"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   []domain.FieldError `json:"errors,omitempty"`
}

const retryAfterSeconds = "1"

func writeProblem(w http.ResponseWriter, r *http.Request, p problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	if p.Instance == "" && r != nil {
		p.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, ve *domain.ValidationError) {
	writeProblem(w, r, problem{
		Type: "/problems/validation", Title: "Invalid request", Status: http.StatusBadRequest,
		Detail: ve.Error(), Errors: ve.Fields,
	})
}

// writeError maps service errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := domain.AsValidation(err); ok {
		badRequest(w, r, ve)
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, r, problem{Title: "Not Found", Status: http.StatusNotFound, Detail: err.Error()})
	case errors.Is(err, domain.ErrUnknownCurrency):
		writeProblem(w, r, problem{
			Type: "/problems/validation", Title: "Invalid request", Status: http.StatusBadRequest,
			Detail: err.Error(), Errors: []domain.FieldError{{Field: "currency", Reason: domain.ReasonUnsupported}},
		})
	case errors.IsAny(err, domain.ErrConflict, domain.ErrIncompleteRange):
		writeProblem(w, r, problem{Type: "/problems/conflict", Title: "Conflict", Status: http.StatusConflict, Detail: err.Error()})
	case errors.IsAny(err, domain.ErrUnavailable, context.DeadlineExceeded):
		w.Header().Set("Retry-After", retryAfterSeconds)
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", chimw.GetReqID(r.Context())).Msg("service unavailable")
		writeProblem(w, r, problem{Title: "Service Unavailable", Status: http.StatusServiceUnavailable, Detail: "temporarily unavailable, retry later"})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", chimw.GetReqID(r.Context())).Msg("unhandled error")
		writeProblem(w, r, problem{Title: "Internal Server Error", Status: http.StatusInternalServerError})
	}
}
