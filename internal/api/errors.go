package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lalithlochan/slotwise/internal/ai"
	"github.com/lalithlochan/slotwise/internal/availability"
	"github.com/lalithlochan/slotwise/internal/booking"
	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/lifecycle"
	"github.com/lalithlochan/slotwise/internal/opportunity"
	"github.com/lalithlochan/slotwise/internal/redis"
)

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type problem struct {
	status    int
	errType   string
	title     string
	retryable bool
}

// classify maps domain errors onto HTTP problems. Order matters: the most
// specific sentinels come first.
func classify(err error) problem {
	switch {
	case errors.Is(err, booking.ErrConflictOnCommit), errors.Is(err, availability.ErrSlotTaken):
		return problem{http.StatusConflict, "conflict_on_commit", "Slot no longer available", true}
	case errors.Is(err, redis.ErrDuplicateRequest):
		return problem{http.StatusConflict, "duplicate_request", "Request is already being processed", true}
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return problem{http.StatusConflict, "invalid_transition", "Notification cannot make that transition", false}
	case errors.Is(err, db.ErrNotFound):
		return problem{http.StatusNotFound, "not_found", "Resource not found", false}
	case errors.Is(err, booking.ErrInvalidRequest),
		errors.Is(err, availability.ErrInvalidSlot),
		errors.Is(err, availability.ErrOutsideBusinessHours),
		errors.Is(err, availability.ErrRangeTooLarge),
		errors.Is(err, lifecycle.ErrInvalidSnooze):
		return problem{http.StatusBadRequest, "invalid_request", "Invalid request", false}
	case errors.Is(err, availability.ErrConfigurationMissing),
		errors.Is(err, opportunity.ErrConfigurationMissing),
		errors.Is(err, ai.ErrNoEstimate):
		return problem{http.StatusUnprocessableEntity, "configuration_missing", "Business is not configured for this request", false}
	default:
		return problem{http.StatusInternalServerError, "internal_error", "Internal server error", false}
	}
}

// writeProblem renders err. Internal errors never leak their text.
func writeProblem(w http.ResponseWriter, err error) {
	p := classify(err)
	detail := err.Error()
	if p.status == http.StatusInternalServerError {
		detail = ""
	}
	writeJSON(w, p.status, "application/problem+json", ErrorResponse{
		Type:      p.errType,
		Title:     p.title,
		Status:    p.status,
		Detail:    detail,
		Retryable: p.retryable,
	})
}

func writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeJSON(w, status, "application/problem+json", ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
