package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports whether one component is usable.
type HealthChecker interface {
	// HealthCheck returns nil if healthy, error if unhealthy
	HealthCheck(ctx context.Context) error
	// Name returns the name of the component being checked
	Name() string
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "healthy" or "unhealthy"
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status     string         `json:"status"` // "healthy" or "unhealthy"
	Timestamp  time.Time      `json:"timestamp"`
	Components []HealthStatus `json:"components"`
}

// Health aggregates component checks into the /healthz document.
type Health struct {
	logger   *zap.SugaredLogger
	checkers []HealthChecker
	timeout  time.Duration
}

// NewHealth creates an empty health aggregator.
func NewHealth(logger *zap.SugaredLogger) *Health {
	return &Health{
		logger:   logger,
		checkers: make([]HealthChecker, 0),
		timeout:  5 * time.Second,
	}
}

// AddChecker registers a health checker
func (h *Health) AddChecker(checker HealthChecker) {
	h.checkers = append(h.checkers, checker)
}

// Handler returns an HTTP handler for the /healthz endpoint
func (h *Health) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		response := h.Check(ctx)

		statusCode := http.StatusOK
		if response.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			h.logger.Errorw("Failed to encode health response", "error", err)
		}
	}
}

// Check runs every registered checker and builds the health document.
func (h *Health) Check(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make([]HealthStatus, 0, len(h.checkers)),
	}

	for _, checker := range h.checkers {
		start := time.Now()
		status := HealthStatus{
			Name:   checker.Name(),
			Status: "healthy",
		}

		if err := checker.HealthCheck(ctx); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			response.Status = "unhealthy"
			h.logger.Warnw("Health check failed",
				"component", checker.Name(),
				"error", err)
		}

		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}

	return response
}

// IsHealthy returns true if all health checks pass
func (h *Health) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.Check(ctx).Status == "healthy"
}

// DirChecker verifies a directory exists and is a directory. The server
// registers one for the data dir so a deleted volume shows up in /healthz.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a health checker for a filesystem directory.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

// Name returns the name of the health checker
func (dc *DirChecker) Name() string {
	return dc.name
}

// HealthCheck performs a directory health check
func (dc *DirChecker) HealthCheck(_ context.Context) error {
	info, err := os.Stat(dc.path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dc.path)
	}
	return nil
}

// CheckerFunc adapts a plain function into a HealthChecker.
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheckerFunc wraps fn as a named health checker.
func NewCheckerFunc(name string, fn func(ctx context.Context) error) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the name of the health checker
func (cf *CheckerFunc) Name() string {
	return cf.name
}

// HealthCheck invokes the wrapped function
func (cf *CheckerFunc) HealthCheck(ctx context.Context) error {
	if cf.fn == nil {
		return fmt.Errorf("check function is nil")
	}
	return cf.fn(ctx)
}

var _ HealthChecker = (*DirChecker)(nil)
var _ HealthChecker = (*CheckerFunc)(nil)
