package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is a dependency the health check probes.
type Pinger func(ctx context.Context) error

// HealthHandler reports database and chain reachability.
type HealthHandler struct {
	checks    map[string]Pinger
	critical  map[string]bool
	logger    *zap.Logger
	version   string
	startTime time.Time
	timeout   time.Duration
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(logger *zap.Logger, version string) *HealthHandler {
	return &HealthHandler{
		checks:    map[string]Pinger{},
		critical:  map[string]bool{},
		logger:    logger,
		version:   version,
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}
}

// AddCheck registers a probe. A failing critical probe makes the service unhealthy,
// any other failing probe only degrades it.
func (h *HealthHandler) AddCheck(name string, critical bool, fn Pinger) {
	h.checks[name] = fn
	h.critical[name] = critical
}

// Health handles GET /health
// @Summary Health check
// @Description Database and RPC reachability
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(h.checks))
	)
	for name, fn := range h.checks {
		wg.Add(1)
		go func(name string, fn Pinger) {
			defer wg.Done()
			start := time.Now()
			res := CheckResult{Status: "healthy"}
			if err := fn(ctx); err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
			}
			res.Latency = time.Since(start).String()
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	status := "healthy"
	for name, res := range results {
		if res.Status == "healthy" {
			continue
		}
		if h.critical[name] {
			status = "unhealthy"
			break
		}
		status = "degraded"
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	if status != "healthy" {
		h.logger.Warn("Health check not healthy", zap.String("status", status), zap.Any("checks", results))
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    results,
	})
}

// Live handles GET /live; it never touches dependencies.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "version": h.version})
}
