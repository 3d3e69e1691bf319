package domain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrIncompleteRange = errors.New("schedule range has missing days")
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrUnavailable marks infrastructure failures (store unreachable, deadline exceeded).
	// Callers may retry; it is never a synonym for an empty result.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// Reason codes reported per offending request field.
const (
	ReasonRequired      = "required"
	ReasonInvalid       = "invalid"
	ReasonOutOfRange    = "out_of_range"
	ReasonBeforeCheckIn = "before_check_in"
	ReasonMinGtMax      = "min_gt_max"
	ReasonUnsupported   = "unsupported"
	ReasonTooLong       = "too_long"
)

type FieldError struct {
	Field   string `json:"field"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// ValidationError is returned before any query runs when a request is malformed.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Reason))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// Add records a field failure. Only the first failure per field is kept.
func (e *ValidationError) Add(field, reason, msg string) {
	for _, f := range e.Fields {
		if f.Field == field {
			return
		}
	}
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason, Message: msg})
}

// OrNil returns e when at least one field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// AsValidation unwraps a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Unavailable marks err as a retriable infrastructure failure.
func Unavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrUnavailable)
}
