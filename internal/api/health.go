package api

import (
	"context"
	"net/http"
	"time"

	"github.com/lalithlochan/slotwise/internal/circuitbreaker"
)

// Check probes one dependency.
type Check struct {
	Name string
	// Critical checks turn a failure into 503; the rest only degrade.
	Critical bool
	Probe    func(ctx context.Context) error
}

// HealthHandler reports dependency status and breaker states.
type HealthHandler struct {
	checks   []Check
	breakers []*circuitbreaker.CircuitBreaker
	timeout  time.Duration
}

func NewHealthHandler(checks []Check, breakers ...*circuitbreaker.CircuitBreaker) *HealthHandler {
	return &HealthHandler{checks: checks, breakers: breakers, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Checks   map[string]string      `json:"checks"`
	Breakers []circuitbreaker.Stats `json:"breakers,omitempty"`
}

// ServeHTTP handles GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK

	for _, c := range h.checks {
		if err := c.Probe(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			if c.Critical {
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
			} else if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	for _, b := range h.breakers {
		s := b.Stats()
		if s.State != circuitbreaker.StateClosed.String() && resp.Status == "ok" {
			resp.Status = "degraded"
		}
		resp.Breakers = append(resp.Breakers, s)
	}

	writeJSON(w, status, "application/json", resp)
}
