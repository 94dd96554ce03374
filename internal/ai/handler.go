package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Estimator is what the handler needs from SizeEstimator.
type Estimator interface {
	EstimateSize(ctx context.Context, photoURL string) (*Estimate, error)
}

// Handler exposes photo analysis as an HTTP endpoint.
type Handler struct {
	estimator Estimator
	logger    *zap.Logger
}

// NewHandler creates a new AI HTTP handler.
func NewHandler(estimator Estimator, logger *zap.Logger) *Handler {
	return &Handler{
		estimator: estimator,
		logger:    logger,
	}
}

// EstimateRequest is the body of POST /v1/vehicle-size/estimate.
type EstimateRequest struct {
	PhotoURL string `json:"photo_url"`
}

// HandleEstimate handles POST /v1/vehicle-size/estimate
//
// Request body:
//
//	{"photo_url": "https://cdn.example.com/uploads/car.jpg"}
//
// Response:
//
//	{"vehicle_size": "large", "confidence": 0.86, "reasoning": "Full-size pickup."}
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.PhotoURL == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "Missing photo_url", "photo_url field is required")
		return
	}

	est, err := h.estimator.EstimateSize(r.Context(), req.PhotoURL)
	if err != nil {
		h.logger.Error("vehicle size estimate failed", zap.Error(err))
		if errors.Is(err, ErrNoEstimate) {
			writeErr(w, http.StatusUnprocessableEntity, "no_estimate", "Could not size the vehicle", err.Error())
			return
		}
		writeErr(w, http.StatusBadGateway, "ai_error", "Photo analysis failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(est)
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
