package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/funnelvalue/conversions/internal/domain/integration"
)

const (
	defaultSyncLogLimit = 50
	maxSyncLogLimit     = 500
)

// SyncLogLister lists the newest sync logs of an integration
type SyncLogLister interface {
	FindByIntegration(ctx context.Context, integrationID uuid.UUID, limit int) ([]*integration.SyncLog, error)
}

// SyncLogHandler exposes the delivery audit trail of an integration
type SyncLogHandler struct {
	BaseHandler
	logs SyncLogLister
}

// NewSyncLogHandler creates a SyncLogHandler
func NewSyncLogHandler(logs SyncLogLister) *SyncLogHandler {
	return &SyncLogHandler{logs: logs}
}

// SyncLogResponse is one sync log
type SyncLogResponse struct {
	ID               uuid.UUID      `json:"id"`
	IntegrationID    uuid.UUID      `json:"integration_id"`
	JobKey           string         `json:"job_key"`
	Status           string         `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	RecordsProcessed int            `json:"records_processed"`
	RecordsFailed    int            `json:"records_failed"`
	Error            *string        `json:"error,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// List returns the newest sync logs, ?limit= up to 500
func (h *SyncLogHandler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "invalid integration id")
		return
	}

	limit := defaultSyncLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSyncLogLimit {
			h.BadRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	logs, err := h.logs.FindByIntegration(c.Request.Context(), id, limit)
	if err != nil {
		h.InternalError(c, err)
		return
	}

	out := make([]SyncLogResponse, len(logs))
	for i, l := range logs {
		out[i] = SyncLogResponse{
			ID:               l.ID,
			IntegrationID:    l.IntegrationID,
			JobKey:           l.JobKey,
			Status:           string(l.Status),
			StartedAt:        l.StartedAt,
			CompletedAt:      l.CompletedAt,
			RecordsProcessed: l.RecordsProcessed,
			RecordsFailed:    l.RecordsFailed,
			Error:            l.Error,
			Metadata:         l.Metadata,
		}
	}
	h.Success(c, out)
}

// RegisterRoutes mounts the sync log endpoints on rg
func (h *SyncLogHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/integrations/:id/sync-logs", h.List)
}
