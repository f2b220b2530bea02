package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
	"github.com/funnelvalue/conversions/internal/interfaces/http/dto"
)

// JobQueue is the part of a dispatch queue the job endpoints use
type JobQueue interface {
	Name() string
	Get(ctx context.Context, id string) (*queue.Job, error)
	Cancel(ctx context.Context, id, reason string) error
}

// JobHandler inspects and cancels delivery jobs
type JobHandler struct {
	BaseHandler
	queues map[string]JobQueue
	logger *zap.Logger
}

// NewJobHandler creates a JobHandler over the named queues
func NewJobHandler(queues []JobQueue, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[string]JobQueue, len(queues))
	for _, q := range queues {
		m[q.Name()] = q
	}
	return &JobHandler{queues: m, logger: logger}
}

// JobResponse is the PII-free view of a job; the payload is not exposed
type JobResponse struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	AvailableAt time.Time  `json:"available_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toJobResponse(j *queue.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Queue:       j.Queue,
		State:       string(j.State),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		AvailableAt: j.AvailableAt,
		FinishedAt:  j.FinishedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// CancelRequest is the optional body of a cancel call
type CancelRequest struct {
	Reason string `json:"reason" binding:"max=256"`
}

// GetJob returns one job by key
func (h *JobHandler) GetJob(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}
	job, err := q.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		h.NotFound(c, "job not found")
		return
	}
	if err != nil {
		h.InternalError(c, err)
		return
	}
	if job.Queue != q.Name() {
		h.NotFound(c, "job not found")
		return
	}
	h.Success(c, toJobResponse(job))
}

// CancelJob fails a waiting or delayed job so it is never attempted again
func (h *JobHandler) CancelJob(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}

	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BadRequest(c, err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	id := c.Param("id")
	err := q.Cancel(c.Request.Context(), id, req.Reason)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		h.NotFound(c, "job not found")
		return
	case errors.Is(err, queue.ErrJobNotCancellable):
		h.Error(c, http.StatusConflict, dto.ErrCodeConflict, err.Error())
		return
	case err != nil:
		h.InternalError(c, err)
		return
	}

	h.logger.Info("job cancelled via ops API", zap.String("queue", q.Name()), zap.String("job_key", id))
	h.GetJob(c)
}

func (h *JobHandler) queue(c *gin.Context) (JobQueue, bool) {
	q, ok := h.queues[c.Param("queue")]
	if !ok {
		h.NotFound(c, "unknown queue")
		return nil, false
	}
	return q, true
}

// RegisterRoutes mounts the job endpoints on rg
func (h *JobHandler) RegisterRoutes(rg *gin.RouterGroup) {
	jobs := rg.Group("/queues/:queue/jobs")
	jobs.GET("/:id", h.GetJob)
	jobs.POST("/:id/cancel", h.CancelJob)
}
