package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/circuitbreaker"
)

func healthy(ctx context.Context) error { return nil }

func unhealthy(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthHandler(t *testing.T) {
	openBreaker := circuitbreaker.New(circuitbreaker.Config{Name: "ses", MaxFailures: 1}, zap.NewNop())
	openBreaker.RecordFailure()

	tests := []struct {
		name           string
		checks         []Check
		breakers       []*circuitbreaker.CircuitBreaker
		expectedStatus int
		wantStatus     string
	}{
		{"all healthy", []Check{{"postgres", true, healthy}, {"redis", false, healthy}}, nil, http.StatusOK, "ok"},
		{"redis down", []Check{{"postgres", true, healthy}, {"redis", false, unhealthy}}, nil, http.StatusOK, "degraded"},
		{"postgres down", []Check{{"postgres", true, unhealthy}, {"redis", false, healthy}}, nil, http.StatusServiceUnavailable, "unavailable"},
		{"breaker open", []Check{{"postgres", true, healthy}}, []*circuitbreaker.CircuitBreaker{openBreaker}, http.StatusOK, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checks, tt.breakers...).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected %d, got %d", tt.expectedStatus, rec.Code)
			}
			var resp healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", resp.Status, tt.wantStatus)
			}
			if len(resp.Breakers) != len(tt.breakers) {
				t.Errorf("expected %d breakers, got %d", len(tt.breakers), len(resp.Breakers))
			}
		})
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := NewRouter(RouterConfig{
		Handler:     NewHandler(zap.NewNop(), Deps{}),
		CORSOrigins: []string{"https://app.example.com"},
		Logger:      zap.NewNop(),
	})

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/vehicle-size/estimate", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("estimate route should be absent without an estimator, got %d", rec.Code)
	}
}

func TestRouter_CORS(t *testing.T) {
	r := NewRouter(RouterConfig{
		Handler:     NewHandler(zap.NewNop(), Deps{}),
		CORSOrigins: []string{"https://app.example.com"},
		Logger:      zap.NewNop(),
	})

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected allowed origin echoed, got %q", got)
	}
}
