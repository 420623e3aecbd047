package healthprobe

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Check reports whether a component can serve. A nil error means healthy.
type Check func() error

// HealthChecker provides liveness and readiness checks. Readiness requires
// SetReady(true) and every registered check to pass.
type HealthChecker struct {
	startTime time.Time
	ready     atomic.Bool

	mu     sync.RWMutex
	checks map[string]Check
}

// New creates a new HealthChecker.
func New() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]Check),
	}
}

// SetReady marks startup as complete (or not).
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Register adds a named readiness check, replacing any check with that name.
func (h *HealthChecker) Register(name string, check Check) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Message string            `json:"message,omitempty"`
	Failing map[string]string `json:"failing,omitempty"`
}

// Health returns an HTTP handler for liveness checks.
// Always returns 200 OK if the process is running.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: "healthy",
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

// Ready returns an HTTP handler for readiness checks.
// Returns 200 OK if ready, 503 Service Unavailable if not.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  "not_ready",
				Message: "application is starting",
			})
			return
		}

		if failing := h.failing(); len(failing) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  "not_ready",
				Message: "component checks failing",
				Failing: failing,
			})
			return
		}

		writeJSON(w, http.StatusOK, HealthResponse{
			Status: "ready",
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

func (h *HealthChecker) failing() map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	var failing map[string]string
	for i, check := range checks {
		if err := check(); err != nil {
			if failing == nil {
				failing = make(map[string]string)
			}
			failing[names[i]] = err.Error()
		}
	}
	return failing
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
