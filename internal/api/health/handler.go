package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"bizagents/pkg/logger"
)

// Check pings one backend
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	checks      []Check
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a health handler over the enabled backends. With no checks
// the service is always healthy.
func New(log *logger.Logger, serviceName, version string, checks ...Check) *Handler {
	return &Handler{
		log:         log,
		checks:      checks,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Started   string                     `json:"started"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (c ComponentHealth) healthy() bool {
	return c.Status == "healthy"
}

// HandleLiveness returns 200 OK if the process is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness requires every backend to be healthy
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, healthy := h.run(ctx)

	code := http.StatusOK
	if healthy < len(h.checks) {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", status.Checks)
	}
	writeJSON(w, code, status)
}

// HandleHealth reports degraded while at least one backend answers
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, healthy := h.run(ctx)

	code := http.StatusOK
	switch {
	case len(h.checks) > 0 && healthy == 0:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < len(h.checks):
		status.Status = "degraded"
	}
	writeJSON(w, code, status)
}

// run pings all backends concurrently
func (h *Handler) run(ctx context.Context) (HealthStatus, int) {
	results := make([]ComponentHealth, len(h.checks))

	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.ping(ctx, c)
		}()
	}
	wg.Wait()

	now := time.Now()
	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
		Started:   humanize.RelTime(h.startTime, now, "ago", "from now"),
		Timestamp: now.Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth, len(h.checks)),
	}

	healthy := 0
	for i, c := range h.checks {
		status.Checks[c.Name] = results[i]
		if results[i].healthy() {
			healthy++
		}
	}
	return status, healthy
}

func (h *Handler) ping(ctx context.Context, c Check) ComponentHealth {
	start := time.Now()
	err := c.Ping(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "component", c.Name, "error", err, "elapsed", elapsed)
		return ComponentHealth{Status: "unhealthy", ResponseTime: elapsed.String(), Error: err.Error()}
	}
	return ComponentHealth{Status: "healthy", ResponseTime: elapsed.String()}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
