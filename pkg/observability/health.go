package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rebill/pkg/billing"
	"github.com/platinummonkey/rebill/pkg/httputil"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc reports whether a dependency is usable
type CheckFunc func(ctx context.Context) error

type dependencyCheck struct {
	name     string
	critical bool
	check    CheckFunc
}

// HealthChecker aggregates dependency checks for liveness and readiness probes.
// It also remembers the last billing run so operators can see it from the probe.
type HealthChecker struct {
	version string
	timeout time.Duration
	checks  []dependencyCheck

	mu      sync.RWMutex
	lastRun *RunSummary
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
	LastRun      *RunSummary                 `json:"last_run,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// RunSummary is the part of the last run shown on the health endpoint
type RunSummary struct {
	RunID      string                      `json:"run_id"`
	Date       string                      `json:"date"`
	FinishedAt time.Time                   `json:"finished_at"`
	Due        int                         `json:"due"`
	Counts     map[billing.OutcomeKind]int `json:"counts"`
	Aborted    string                      `json:"aborted,omitempty"`
}

// NewHealthChecker creates a health checker with no dependencies
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version, timeout: 5 * time.Second}
}

// AddCheck registers a dependency. A failing critical dependency makes the
// service unhealthy; any other failure only degrades it.
func (h *HealthChecker) AddCheck(name string, critical bool, check CheckFunc) {
	h.checks = append(h.checks, dependencyCheck{name: name, critical: critical, check: check})
}

// ObserveOutcome is a no-op; the checker only tracks whole runs
func (h *HealthChecker) ObserveOutcome(billing.Outcome) {}

// ObserveRun remembers result as the last run
func (h *HealthChecker) ObserveRun(result *billing.RunResult) {
	counts := make(map[billing.OutcomeKind]int, len(result.Counts))
	for k, v := range result.Counts {
		counts[k] = v
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastRun = &RunSummary{
		RunID:      result.RunID,
		Date:       result.Date,
		FinishedAt: result.FinishedAt,
		Due:        result.Due,
		Counts:     counts,
		Aborted:    result.Aborted,
	}
}

// Check runs every dependency check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.checks)),
	}

	for _, dep := range h.checks {
		depStatus := runCheck(ctx, dep.check)
		status.Dependencies[dep.name] = depStatus
		if depStatus.Status == StatusHealthy {
			continue
		}
		if dep.critical {
			status.Status = StatusUnhealthy
		} else if status.Status != StatusUnhealthy {
			status.Status = StatusDegraded
		}
	}

	h.mu.RLock()
	status.LastRun = h.lastRun
	h.mu.RUnlock()
	return status
}

func runCheck(ctx context.Context, check CheckFunc) DependencyStatus {
	start := time.Now()
	err := check(ctx)
	status := DependencyStatus{
		Status:    StatusHealthy,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// Liveness returns 200 whenever the process is serving requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks all dependencies; 503 when unhealthy, 200 when healthy or degraded
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	_ = httputil.WriteJSON(w, code, status)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
