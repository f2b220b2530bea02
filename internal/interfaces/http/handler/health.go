package handler

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
	"github.com/funnelvalue/conversions/internal/interfaces/http/dto"
)

// QueueStats is the read side of a dispatch queue
type QueueStats interface {
	Name() string
	Stats(ctx context.Context) (queue.Stats, error)
}

// Checker probes a dependency; nil means healthy
type Checker func(ctx context.Context) error

// HealthHandler serves liveness, readiness and queue depth
type HealthHandler struct {
	BaseHandler
	version   string
	startTime time.Time
	queues    []QueueStats
	checks    map[string]Checker
	timeout   time.Duration
	logger    *zap.Logger
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(version string, queues []QueueStats, checks map[string]Checker, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		queues:    queues,
		checks:    checks,
		timeout:   3 * time.Second,
		logger:    logger,
	}
}

// LiveResponse is the liveness payload
type LiveResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// Live reports that the process is up
func (h *HealthHandler) Live(c *gin.Context) {
	h.Success(c, LiveResponse{
		Status:    "ok",
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ReadyResponse lists the result of every dependency check
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready runs the dependency checks; any failure answers 503
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp := ReadyResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, dto.Response{
			Success: false,
			Data:    resp,
			Error:   &dto.ErrorInfo{Code: dto.ErrCodeServiceUnavail, Message: "dependency check failed"},
		})
		return
	}
	h.Success(c, resp)
}

// QueueStatsResponse is the depth of one queue
type QueueStatsResponse struct {
	Queue string      `json:"queue"`
	Stats queue.Stats `json:"stats"`
}

// Queues reports job counts per state for every dispatch queue
func (h *HealthHandler) Queues(c *gin.Context) {
	out := make([]QueueStatsResponse, 0, len(h.queues))
	for _, q := range h.queues {
		stats, err := q.Stats(c.Request.Context())
		if err != nil {
			h.InternalError(c, err)
			return
		}
		out = append(out, QueueStatsResponse{Queue: q.Name(), Stats: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	h.Success(c, out)
}

// RegisterRoutes mounts the health endpoints on rg
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	health.GET("/live", h.Live)
	health.GET("/ready", h.Ready)
	health.GET("/queues", h.Queues)
}
