package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/availability"
	"github.com/lalithlochan/slotwise/internal/booking"
	"github.com/lalithlochan/slotwise/internal/db"
	"github.com/lalithlochan/slotwise/internal/lifecycle"
	"github.com/lalithlochan/slotwise/internal/redis"
	"github.com/lalithlochan/slotwise/internal/sqs"
	"github.com/lalithlochan/slotwise/internal/worker"
)

// ErrDatabaseError stands in for any storage failure.
var ErrDatabaseError = errors.New("database error")

type mockBookings struct {
	slotsReq  booking.SlotsRequest
	bookCalls int
	slotsErr  error
	bookErr   error
}

func (m *mockBookings) AvailableSlots(ctx context.Context, businessID uuid.UUID, req booking.SlotsRequest) (*booking.SlotsResult, error) {
	m.slotsReq = req
	if m.slotsErr != nil {
		return nil, m.slotsErr
	}
	start := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	return &booking.SlotsResult{
		Duration: &booking.Duration{Minutes: 60},
		Timezone: "UTC",
		Slots: []availability.Slot{
			{Start: start, End: start.Add(time.Hour)},
			{Start: start.Add(15 * time.Minute), End: start.Add(75 * time.Minute)},
		},
	}, nil
}

func (m *mockBookings) Book(ctx context.Context, businessID uuid.UUID, req booking.BookRequest) (*db.Job, error) {
	m.bookCalls++
	if m.bookErr != nil {
		return nil, m.bookErr
	}
	end := req.Start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	return &db.Job{
		ID:             uuid.New(),
		BusinessID:     businessID,
		Status:         db.JobStatusScheduled,
		ScheduledStart: &req.Start,
		ScheduledEnd:   &end,
	}, nil
}

type mockNotifications struct {
	limit, offset int
	items         []*db.SmartNotification
	err           error
}

func (m *mockNotifications) ListActiveNotifications(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]*db.SmartNotification, error) {
	m.limit, m.offset = limit, offset
	return m.items, m.err
}

type mockTransitions struct {
	until time.Time
	err   error
}

func (m *mockTransitions) result(id uuid.UUID, status string) (*db.SmartNotification, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &db.SmartNotification{ID: id, Type: db.TypeGapOpportunity, Status: status}, nil
}

func (m *mockTransitions) Dismiss(ctx context.Context, id uuid.UUID) (*db.SmartNotification, error) {
	return m.result(id, db.StatusDismissed)
}

func (m *mockTransitions) Act(ctx context.Context, id uuid.UUID) (*db.SmartNotification, error) {
	return m.result(id, db.StatusActed)
}

func (m *mockTransitions) Snooze(ctx context.Context, id uuid.UUID, until time.Time) (*db.SmartNotification, error) {
	m.until = until
	return m.result(id, db.StatusSnoozed)
}

type mockScanner struct {
	err error
}

func (m *mockScanner) ScanBusiness(ctx context.Context, id uuid.UUID) (*worker.Report, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &worker.Report{BusinessID: id, Created: 2, Resolved: 1}, nil
}

type mockEnqueuer struct {
	requests []sqs.ScanRequest
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, req sqs.ScanRequest) (string, error) {
	m.requests = append(m.requests, req)
	return "msg-1", nil
}

type testServer struct {
	bookings      *mockBookings
	notifications *mockNotifications
	transitions   *mockTransitions
	scanner       *mockScanner
	enqueuer      *mockEnqueuer
	router        http.Handler
}

func newTestServer(t *testing.T, idem Idempotency) *testServer {
	t.Helper()
	s := &testServer{
		bookings:      &mockBookings{},
		notifications: &mockNotifications{},
		transitions:   &mockTransitions{},
		scanner:       &mockScanner{},
		enqueuer:      &mockEnqueuer{},
	}
	deps := Deps{
		Bookings:      s.bookings,
		Notifications: s.notifications,
		Transitions:   s.transitions,
		Scanner:       s.scanner,
		Enqueuer:      s.enqueuer,
	}
	if idem != nil {
		deps.Idempotency = idem
	}
	s.router = NewRouter(RouterConfig{
		Handler:     NewHandler(zap.NewNop(), deps),
		CORSOrigins: []string{"*"},
		Logger:      zap.NewNop(),
	})
	return s
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var errResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
	return errResp
}

func newIdempotency(t *testing.T) *redis.IdempotencyService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())
	return redis.NewIdempotencyService(client, zap.NewNop())
}

func TestGetAvailability(t *testing.T) {
	bizID := uuid.New()
	svcID := uuid.New()

	tests := []struct {
		name           string
		query          string
		slotsErr       error
		expectedStatus int
	}{
		{"explicit duration", "from=2026-10-12&to=2026-10-18&duration_minutes=60", nil, http.StatusOK},
		{"service and size", "from=2026-10-12&to=2026-10-18&service_id=" + svcID.String() + "&vehicle_size=large", nil, http.StatusOK},
		{"missing dates", "duration_minutes=60", nil, http.StatusBadRequest},
		{"bad duration", "from=2026-10-12&to=2026-10-18&duration_minutes=an-hour", nil, http.StatusBadRequest},
		{"bad service id", "from=2026-10-12&to=2026-10-18&service_id=nope", nil, http.StatusBadRequest},
		{"range too large", "from=2026-10-12&to=2027-10-18&duration_minutes=60", availability.ErrRangeTooLarge, http.StatusBadRequest},
		{"no working hours", "from=2026-10-12&to=2026-10-18&duration_minutes=60", fmt.Errorf("hours: %w", availability.ErrConfigurationMissing), http.StatusUnprocessableEntity},
		{"unknown business", "from=2026-10-12&to=2026-10-18&duration_minutes=60", db.ErrNotFound, http.StatusNotFound},
		{"storage failure", "from=2026-10-12&to=2026-10-18&duration_minutes=60", ErrDatabaseError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.bookings.slotsErr = tt.slotsErr

			rec := s.do("GET", "/v1/businesses/"+bizID.String()+"/availability?"+tt.query, nil, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				if e := decodeError(t, rec); e.Status != tt.expectedStatus {
					t.Errorf("body status %d, want %d", e.Status, tt.expectedStatus)
				}
				return
			}

			var result booking.SlotsResult
			if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(result.Slots) != 2 {
				t.Errorf("expected 2 slots, got %d", len(result.Slots))
			}
			if s.bookings.slotsReq.From.Format(dateLayout) != "2026-10-12" {
				t.Errorf("unexpected from %v", s.bookings.slotsReq.From)
			}
		})
	}
}

func TestGetAvailability_PassesServiceAndSize(t *testing.T) {
	s := newTestServer(t, nil)
	svcID := uuid.New()

	s.do("GET", "/v1/businesses/"+uuid.NewString()+"/availability?from=2026-10-12&to=2026-10-12&service_id="+svcID.String()+"&vehicle_size=xl", nil, nil)

	req := s.bookings.slotsReq
	if req.ServiceID == nil || *req.ServiceID != svcID || req.VehicleSize != "xl" {
		t.Errorf("unexpected duration request %+v", req.DurationRequest)
	}
}

func TestGetAvailability_InvalidBusinessID(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do("GET", "/v1/businesses/not-a-uuid/availability?from=2026-10-12&to=2026-10-12", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func bookingBody() map[string]any {
	return map[string]any{
		"start":            time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC),
		"duration_minutes": 90,
	}
}

func TestCreateBooking(t *testing.T) {
	bizID := uuid.New()

	tests := []struct {
		name           string
		body           any
		bookErr        error
		expectedStatus int
		retryable      bool
	}{
		{"booked", bookingBody(), nil, http.StatusCreated, false},
		{"malformed json", `{"start":`, nil, http.StatusBadRequest, false},
		{"lost the race", bookingBody(), fmt.Errorf("%w: %w", booking.ErrConflictOnCommit, availability.ErrSlotTaken), http.StatusConflict, true},
		{"outside hours", bookingBody(), availability.ErrOutsideBusinessHours, http.StatusBadRequest, false},
		{"invalid request", bookingBody(), fmt.Errorf("%w: start must be in the future", booking.ErrInvalidRequest), http.StatusBadRequest, false},
		{"unknown service", bookingBody(), db.ErrNotFound, http.StatusNotFound, false},
		{"storage failure", bookingBody(), ErrDatabaseError, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.bookings.bookErr = tt.bookErr

			rec := s.do("POST", "/v1/businesses/"+bizID.String()+"/bookings", tt.body, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if rec.Code == http.StatusCreated {
				var job db.Job
				if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
					t.Fatalf("failed to decode job: %v", err)
				}
				if job.BusinessID != bizID || job.ScheduledEnd.Sub(*job.ScheduledStart) != 90*time.Minute {
					t.Errorf("unexpected job %+v", job)
				}
				return
			}
			e := decodeError(t, rec)
			if e.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", e.Retryable, tt.retryable)
			}
			if tt.expectedStatus == http.StatusInternalServerError && e.Detail != "" {
				t.Errorf("internal error detail leaked: %q", e.Detail)
			}
		})
	}
}

func TestCreateBooking_IdempotentReplay(t *testing.T) {
	s := newTestServer(t, newIdempotency(t))
	path := "/v1/businesses/" + uuid.NewString() + "/bookings"
	headers := map[string]string{"Idempotency-Key": "booking-abc"}

	first := s.do("POST", path, bookingBody(), headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	second := s.do("POST", path, bookingBody(), headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}

	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("expected replay header")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replay body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if s.bookings.bookCalls != 1 {
		t.Errorf("expected one booking, got %d", s.bookings.bookCalls)
	}
}

func TestCreateBooking_FailureReleasesKey(t *testing.T) {
	s := newTestServer(t, newIdempotency(t))
	path := "/v1/businesses/" + uuid.NewString() + "/bookings"
	headers := map[string]string{"Idempotency-Key": "booking-retry"}

	s.bookings.bookErr = booking.ErrConflictOnCommit
	if rec := s.do("POST", path, bookingBody(), headers); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	s.bookings.bookErr = nil
	if rec := s.do("POST", path, bookingBody(), headers); rec.Code != http.StatusCreated {
		t.Fatalf("expected retry to book, got %d", rec.Code)
	}
	if s.bookings.bookCalls != 2 {
		t.Errorf("expected the retry to reach the booking service, got %d calls", s.bookings.bookCalls)
	}
}

func TestCreateBooking_InFlightKey(t *testing.T) {
	idem := newIdempotency(t)
	bizID := uuid.New()
	if ok, err := idem.Reserve(context.Background(), bizID.String(), "busy"); err != nil || !ok {
		t.Fatalf("Reserve() = %v, %v", ok, err)
	}

	s := newTestServer(t, idem)
	rec := s.do("POST", "/v1/businesses/"+bizID.String()+"/bookings", bookingBody(), map[string]string{"Idempotency-Key": "busy"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Type != "duplicate_request" || !e.Retryable {
		t.Errorf("unexpected error %+v", e)
	}
	if s.bookings.bookCalls != 0 {
		t.Error("in-flight key must not book")
	}
}

func TestListNotifications(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 20, 0},
		{"custom", "?limit=5&offset=10", 5, 10},
		{"limit too large", "?limit=500", 20, 0},
		{"negative offset", "?offset=-3", 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.notifications.items = []*db.SmartNotification{{ID: uuid.New(), Type: db.TypeCustomerOverdue, Status: db.StatusActive}}

			rec := s.do("GET", "/v1/businesses/"+uuid.NewString()+"/notifications"+tt.query, nil, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if s.notifications.limit != tt.wantLimit || s.notifications.offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d", s.notifications.limit, s.notifications.offset)
			}

			var resp struct {
				Count int `json:"count"`
			}
			_ = json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Count != 1 {
				t.Errorf("expected count 1, got %d", resp.Count)
			}
		})
	}
}

func TestListNotifications_EmptyIsArray(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do("GET", "/v1/businesses/"+uuid.NewString()+"/notifications", nil, nil)

	var resp map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(resp["data"]) != "[]" {
		t.Errorf("expected empty array, got %s", resp["data"])
	}
}

func TestTransitions(t *testing.T) {
	id := uuid.NewString()
	until := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	tests := []struct {
		name           string
		path           string
		body           any
		err            error
		expectedStatus int
		wantStatus     string
	}{
		{"dismiss", "/dismiss", nil, nil, http.StatusOK, db.StatusDismissed},
		{"act", "/act", nil, nil, http.StatusOK, db.StatusActed},
		{"snooze", "/snooze", map[string]any{"until": until}, nil, http.StatusOK, db.StatusSnoozed},
		{"snooze without until", "/snooze", map[string]any{}, nil, http.StatusBadRequest, ""},
		{"snooze in the past", "/snooze", map[string]any{"until": until}, lifecycle.ErrInvalidSnooze, http.StatusBadRequest, ""},
		{"already resolved", "/dismiss", nil, fmt.Errorf("%w: acted -> dismissed", lifecycle.ErrInvalidTransition), http.StatusConflict, ""},
		{"unknown notification", "/act", nil, db.ErrNotFound, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.transitions.err = tt.err

			rec := s.do("POST", "/v1/notifications/"+id+tt.path, tt.body, nil)
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == "" {
				return
			}

			var n db.SmartNotification
			if err := json.NewDecoder(rec.Body).Decode(&n); err != nil {
				t.Fatalf("failed to decode notification: %v", err)
			}
			if n.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", n.Status, tt.wantStatus)
			}
			if tt.name == "snooze" && !s.transitions.until.Equal(until) {
				t.Errorf("until = %v, want %v", s.transitions.until, until)
			}
		})
	}
}

func TestTransitions_InvalidID(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do("POST", "/v1/notifications/nope/dismiss", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestTriggerScan(t *testing.T) {
	bizID := uuid.New()

	t.Run("sync", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := s.do("POST", "/v1/businesses/"+bizID.String()+"/scan", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var report worker.Report
		_ = json.NewDecoder(rec.Body).Decode(&report)
		if report.Created != 2 || report.Resolved != 1 || report.BusinessID != bizID {
			t.Errorf("unexpected report %+v", report)
		}
	})

	t.Run("async", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := s.do("POST", "/v1/businesses/"+bizID.String()+"/scan?async=true", nil, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		if len(s.enqueuer.requests) != 1 || s.enqueuer.requests[0].Reason != sqs.ReasonManual {
			t.Errorf("unexpected enqueued requests %+v", s.enqueuer.requests)
		}
	})

	t.Run("unknown business", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.scanner.err = fmt.Errorf("load business: %w", db.ErrNotFound)
		if rec := s.do("POST", "/v1/businesses/"+bizID.String()+"/scan", nil, nil); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}
