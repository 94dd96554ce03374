package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/booking"
	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/metrics"
	"github.com/lalithlochan/slotwise/internal/redis"
	"github.com/lalithlochan/slotwise/internal/sqs"
	"github.com/lalithlochan/slotwise/internal/worker"
)

// BookingService lists slots and books jobs.
type BookingService interface {
	AvailableSlots(ctx context.Context, businessID uuid.UUID, req booking.SlotsRequest) (*booking.SlotsResult, error)
	Book(ctx context.Context, businessID uuid.UUID, req booking.BookRequest) (*db.Job, error)
}

// NotificationRepository reads notifications for display.
type NotificationRepository interface {
	ListActiveNotifications(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]*db.SmartNotification, error)
}

// Transitioner applies user actions to a notification.
type Transitioner interface {
	Dismiss(ctx context.Context, id uuid.UUID) (*db.SmartNotification, error)
	Act(ctx context.Context, id uuid.UUID) (*db.SmartNotification, error)
	Snooze(ctx context.Context, id uuid.UUID, until time.Time) (*db.SmartNotification, error)
}

// Scanner runs an on-demand scan of one business.
type Scanner interface {
	ScanBusiness(ctx context.Context, businessID uuid.UUID) (*worker.Report, error)
}

// Enqueuer hands a scan to the queue consumer instead of running it inline.
type Enqueuer interface {
	Enqueue(ctx context.Context, req sqs.ScanRequest) (string, error)
}

// Idempotency makes booking retries safe.
type Idempotency interface {
	CheckOrReserve(ctx context.Context, businessID, idempotencyKey string) (*redis.IdempotencyResult, error)
	Store(ctx context.Context, businessID, idempotencyKey string, result *redis.IdempotencyResult) error
	Release(ctx context.Context, businessID, idempotencyKey string) error
}

// Deps are the handler's collaborators. Idempotency and Enqueuer are optional.
type Deps struct {
	Bookings      BookingService
	Notifications NotificationRepository
	Transitions   Transitioner
	Scanner       Scanner
	Enqueuer      Enqueuer
	Idempotency   Idempotency
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	deps   Deps
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	return &Handler{logger: logger, deps: deps}
}

const dateLayout = "2006-01-02"

func businessID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "businessID"))
	return id, err == nil
}

// GetAvailability handles GET /v1/businesses/{businessID}/availability
//
//	?from=2026-10-12&to=2026-10-18&duration_minutes=90
//	?from=2026-10-12&to=2026-10-18&service_id=...&vehicle_size=large
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	bizID, ok := businessID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid business ID", "business ID must be a valid UUID")
		return
	}

	q := r.URL.Query()
	from, errFrom := time.Parse(dateLayout, q.Get("from"))
	to, errTo := time.Parse(dateLayout, q.Get("to"))
	if errFrom != nil || errTo != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date range", "from and to must be YYYY-MM-DD dates")
		return
	}

	req := booking.SlotsRequest{From: from, To: to}
	req.VehicleSize = q.Get("vehicle_size")
	req.PhotoURL = q.Get("photo_url")
	if v := q.Get("duration_minutes"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid duration_minutes", "duration_minutes must be an integer")
			return
		}
		req.DurationMinutes = minutes
	}
	if v := q.Get("service_id"); v != "" {
		svcID, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid service_id", "service_id must be a valid UUID")
			return
		}
		req.ServiceID = &svcID
	}

	result, err := h.deps.Bookings.AvailableSlots(r.Context(), bizID, req)
	if err != nil {
		h.logFailure("availability lookup failed", bizID, err)
		writeProblem(w, err)
		return
	}
	metrics.RecordSlotsReturned(len(result.Slots))

	writeJSON(w, http.StatusOK, "application/json", result)
}

// CreateBooking handles POST /v1/businesses/{businessID}/bookings
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bizID, ok := businessID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid business ID", "business ID must be a valid UUID")
		return
	}

	var req booking.BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	key := r.Header.Get("Idempotency-Key")
	reserved := false
	if key != "" && h.deps.Idempotency != nil {
		cached, err := h.deps.Idempotency.CheckOrReserve(ctx, bizID.String(), key)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			writeProblem(w, err)
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", key),
			)
		case cached != nil:
			metrics.RecordIdempotencyHit()
			metrics.RecordBooking("replayed")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		default:
			reserved = true
		}
	}

	job, err := h.deps.Bookings.Book(ctx, bizID, req)
	if err != nil {
		if reserved {
			// A failed booking must not pin the key; the client may retry.
			if rerr := h.deps.Idempotency.Release(context.WithoutCancel(ctx), bizID.String(), key); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		p := classify(err)
		switch p.status {
		case http.StatusConflict:
			metrics.RecordBooking("conflict")
		case http.StatusInternalServerError:
			metrics.RecordBooking("error")
		default:
			metrics.RecordBooking("rejected")
		}
		h.logFailure("booking failed", bizID, err)
		writeProblem(w, err)
		return
	}

	body, err := json.Marshal(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode booking", "")
		return
	}

	if reserved {
		result := &redis.IdempotencyResult{JobID: job.ID.String(), StatusCode: http.StatusCreated, Body: body}
		if err := h.deps.Idempotency.Store(ctx, bizID.String(), key, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", key),
			)
		}
	}

	metrics.RecordBooking("booked")
	h.logger.Info("job booked",
		zap.String("business_id", bizID.String()),
		zap.String("job_id", job.ID.String()),
		zap.Time("start", *job.ScheduledStart),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

// ListNotifications handles GET /v1/businesses/{businessID}/notifications?limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	bizID, ok := businessID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid business ID", "business ID must be a valid UUID")
		return
	}

	// Parse pagination parameters with defaults
	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.deps.Notifications.ListActiveNotifications(r.Context(), bizID, limit, offset)
	if err != nil {
		h.logFailure("failed to list notifications", bizID, err)
		writeProblem(w, err)
		return
	}
	if notifications == nil {
		notifications = []*db.SmartNotification{}
	}

	writeJSON(w, http.StatusOK, "application/json", map[string]any{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// DismissNotification handles POST /v1/notifications/{id}/dismiss
func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "dismiss", h.deps.Transitions.Dismiss)
}

// ActNotification handles POST /v1/notifications/{id}/act
func (h *Handler) ActNotification(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "act", h.deps.Transitions.Act)
}

// SnoozeNotification handles POST /v1/notifications/{id}/snooze
//
//	{"until": "2026-10-14T09:00:00Z"}
func (h *Handler) SnoozeNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Until time.Time `json:"until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Until.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing until", "until must be an RFC3339 timestamp")
		return
	}

	h.transition(w, r, "snooze", func(ctx context.Context, id uuid.UUID) (*db.SmartNotification, error) {
		return h.deps.Transitions.Snooze(ctx, id, req.Until)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, uuid.UUID) (*db.SmartNotification, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	n, err := fn(r.Context(), id)
	if err != nil {
		writeProblem(w, err)
		return
	}

	h.logger.Info("notification updated",
		zap.String("id", id.String()),
		zap.String("action", action),
		zap.String("status", n.Status),
	)
	writeJSON(w, http.StatusOK, "application/json", n)
}

// TriggerScan handles POST /v1/businesses/{businessID}/scan
// With ?async=true and a queue configured the scan is enqueued and 202 returned.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bizID, ok := businessID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid business ID", "business ID must be a valid UUID")
		return
	}

	if r.URL.Query().Get("async") == "true" && h.deps.Enqueuer != nil {
		msgID, err := h.deps.Enqueuer.Enqueue(ctx, sqs.ScanRequest{
			BusinessID:  bizID.String(),
			Reason:      sqs.ReasonManual,
			RequestedAt: time.Now().Unix(),
		})
		if err != nil {
			h.logFailure("failed to enqueue scan", bizID, err)
			writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue scan", "")
			return
		}
		writeJSON(w, http.StatusAccepted, "application/json", map[string]string{
			"business_id": bizID.String(),
			"message_id":  msgID,
		})
		return
	}

	report, err := h.deps.Scanner.ScanBusiness(ctx, bizID)
	if err != nil {
		h.logFailure("scan failed", bizID, err)
		writeProblem(w, err)
		return
	}

	writeJSON(w, http.StatusOK, "application/json", report)
}

func (h *Handler) logFailure(msg string, bizID uuid.UUID, err error) {
	if classify(err).status < http.StatusInternalServerError {
		h.logger.Info(msg, zap.String("business_id", bizID.String()), zap.Error(err))
		return
	}
	h.logger.Error(msg, zap.String("business_id", bizID.String()), zap.Error(err))
}
