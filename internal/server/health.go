package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"

	checkTimeout = 2 * time.Second
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// HealthChecker serves liveness and readiness probes for the daemon.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu           sync.RWMutex
	shuttingDown func() bool
	connections  func() int
	checks       map[string]CheckFunc
}

// NewHealthChecker creates a HealthChecker that starts out not ready.
// shuttingDown may be nil.
func NewHealthChecker(shuttingDown func() bool) *HealthChecker {
	return &HealthChecker{
		startTime:    time.Now(),
		shuttingDown: shuttingDown,
		checks:       make(map[string]CheckFunc),
	}
}

// SetReady sets the readiness state.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the daemon accepts commands.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// AddCheck registers a readiness check run on every /readyz request.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetConnectionCounter sets the source of the connection count shown on
// the detailed endpoint.
func (h *HealthChecker) SetConnectionCounter(fn func() int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections = fn
}

func (h *HealthChecker) isShuttingDown() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.shuttingDown != nil && h.shuttingDown()
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse is the body of /healthz/detailed.
type DetailedHealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Connections int    `json:"connections"`
}

// LivenessHandler answers /healthz. It only fails once shutdown began.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if h.isShuttingDown() {
			writeHealth(w, http.StatusServiceUnavailable, HealthResponse{Status: healthStatusShuttingDown})
			return
		}
		writeHealth(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler answers /readyz, running every registered check.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string)
		allOK := true

		if h.ready.Load() {
			checks["ready"] = healthStatusOK
		} else {
			checks["ready"] = healthStatusNotReady
			allOK = false
		}
		if h.isShuttingDown() {
			checks["shutdown"] = healthStatusShuttingDown
			allOK = false
		} else {
			checks["shutdown"] = healthStatusOK
		}

		h.mu.RLock()
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)
		funcs := make([]CheckFunc, len(names))
		for i, name := range names {
			funcs[i] = h.checks[name]
		}
		h.mu.RUnlock()

		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()
		for i, name := range names {
			if err := funcs[i](ctx); err != nil {
				checks[name] = err.Error()
				allOK = false
				continue
			}
			checks[name] = healthStatusOK
		}

		if allOK {
			writeHealth(w, http.StatusOK, HealthResponse{Status: healthStatusOK, Checks: checks})
			return
		}
		writeHealth(w, http.StatusServiceUnavailable, HealthResponse{Status: healthStatusNotReady, Checks: checks})
	})
}

// DetailedHealthHandler answers /healthz/detailed.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.mu.RLock()
		counter := h.connections
		h.mu.RUnlock()

		resp := DetailedHealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		}
		if counter != nil {
			resp.Connections = counter()
		}

		status := http.StatusOK
		switch {
		case h.isShuttingDown():
			resp.Status = healthStatusShuttingDown
			status = http.StatusServiceUnavailable
		case !h.ready.Load():
			resp.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		}
		writeHealth(w, status, resp)
	})
}

// RegisterHealthEndpoints registers the probe endpoints on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

func writeHealth(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
