// Package delivery runs the per-platform workers that turn queued delivery
// jobs into provider API calls, and the producer that enqueues them.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/application/directory"
	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/domain/integration"
	"github.com/funnelvalue/conversions/internal/infrastructure/adplatform"
	logging "github.com/funnelvalue/conversions/internal/infrastructure/logger"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

// DefaultLedgerTTL is how long a delivered job key is remembered
const DefaultLedgerTTL = 30 * 24 * time.Hour

// IntegrationDirectory is the part of the directory a worker uses
type IntegrationDirectory interface {
	Resolve(ctx context.Context, organizationID string, integrationType integration.Type) (*integration.ActiveIntegration, error)
	UpdateIntegrationStatus(ctx context.Context, id uuid.UUID, status integration.Status, errMsg *string) error
	CreateSyncLog(ctx context.Context, integrationID uuid.UUID, status integration.SyncLogStatus, opts directory.SyncLogOptions) (uuid.UUID, error)
}

// Metrics records delivery outcomes
type Metrics interface {
	RecordAttempt(ctx context.Context, platform conversion.Platform, result conversion.SendResult, elapsed time.Duration)
	RecordTerminal(ctx context.Context, platform conversion.Platform, reason string)
}

type nopMetrics struct{}

func (nopMetrics) RecordAttempt(context.Context, conversion.Platform, conversion.SendResult, time.Duration) {
}

func (nopMetrics) RecordTerminal(context.Context, conversion.Platform, string) {}

// QueueName returns the dispatch queue name of a platform
func QueueName(p conversion.Platform) string {
	return p.KeyPrefix()
}

// Worker delivers the jobs of one platform queue through one adapter
type Worker struct {
	platform    conversion.Platform
	queue       *queue.Queue
	adapter     adplatform.Adapter
	directory   IntegrationDirectory
	ledger      conversion.DeliveryLedger
	ledgerTTL   time.Duration
	metrics     Metrics
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithLedger sets the delivery ledger consulted before every call
func WithLedger(ledger conversion.DeliveryLedger, ttl time.Duration) WorkerOption {
	return func(w *Worker) {
		w.ledger = ledger
		if ttl > 0 {
			w.ledgerTTL = ttl
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m Metrics) WorkerOption {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithConcurrency sets how many jobs the worker runs at once
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker creates the worker for the adapter's platform and subscribes it
// to the queue's terminal failures.
func NewWorker(q *queue.Queue, adapter adplatform.Adapter, dir IntegrationDirectory, opts ...WorkerOption) *Worker {
	w := &Worker{
		platform:    adapter.Platform(),
		queue:       q,
		adapter:     adapter,
		directory:   dir,
		ledgerTTL:   DefaultLedgerTTL,
		metrics:     nopMetrics{},
		concurrency: 1,
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("platform", w.platform.String()))
	q.OnTerminal(w.HandleTerminal)
	return w
}

// Platform returns the platform this worker delivers to
func (w *Worker) Platform() conversion.Platform {
	return w.platform
}

// Run processes the queue until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("delivery worker started", zap.Int("concurrency", w.concurrency))
	return w.queue.Process(ctx, w.Handle, w.concurrency)
}

// Handle performs one delivery attempt for a claimed job
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	dj, err := decodeJob(job)
	if err != nil {
		return conversion.NewDeliveryError(conversion.ErrorCodeInvalidEvent, false, err.Error())
	}
	dj.RetryCount = job.Attempts - 1

	ctx = logging.WithJob(ctx, job.ID, w.platform.String(), dj.OrganizationID)
	log := w.logger.With(zap.String("job_key", job.ID), zap.Int("attempt", job.Attempts))

	if w.alreadyDelivered(ctx, log, job.ID) {
		log.Info("job already delivered, skipping provider call")
		if dj.IntegrationID != nil && dj.SyncLogID != nil {
			w.completeSyncLog(ctx, log, dj, conversion.Succeeded(1, ""), job.Attempts)
		}
		return nil
	}

	active, err := w.directory.Resolve(ctx, dj.OrganizationID, integration.Type(w.platform.IntegrationType()))
	if err != nil {
		return w.resolveFailure(job, dj, err)
	}
	dj.IntegrationID = &active.ID
	log = log.With(zap.String("integration_id", active.ID.String()))

	if dj.SyncLogID == nil {
		id, err := w.directory.CreateSyncLog(ctx, active.ID, integration.SyncLogStatusRunning, directory.SyncLogOptions{
			JobKey:   job.ID,
			Metadata: map[string]any{"platform": w.platform.String(), "conversion_event_id": dj.ConversionEventID},
		})
		if err != nil {
			return fmt.Errorf("create sync log: %w", err)
		}
		dj.SyncLogID = &id
	}
	if err := encodeJob(job, dj); err != nil {
		return err
	}

	start := w.now()
	result := w.adapter.Send(ctx, active.Credentials, dj)
	w.metrics.RecordAttempt(ctx, w.platform, result, w.now().Sub(start))

	if result.Success {
		w.onSuccess(ctx, log, job, dj, result)
		return nil
	}
	return w.onFailure(ctx, log, job, dj, active, result)
}

func (w *Worker) alreadyDelivered(ctx context.Context, log *zap.Logger, key string) bool {
	if w.ledger == nil {
		return false
	}
	done, err := w.ledger.IsDelivered(ctx, key)
	if err != nil {
		log.Warn("delivery ledger unavailable, calling provider", zap.Error(err))
		return false
	}
	return done
}

func (w *Worker) resolveFailure(job *queue.Job, dj *conversion.DeliveryJob, err error) error {
	var credErr *integration.CredentialError
	switch {
	case errors.Is(err, integration.ErrNoActiveIntegration):
		return conversion.NewDeliveryError(conversion.ErrorCodeNoIntegration, false,
			fmt.Sprintf("no active %s integration for organization %s", w.platform.IntegrationType(), dj.OrganizationID))
	case errors.Is(err, integration.ErrAmbiguousIntegration):
		return conversion.NewDeliveryError(conversion.ErrorCodeIntegrationAmbiguous, false, err.Error())
	case errors.As(err, &credErr):
		// kept on the job so the terminal handler can mark the integration
		id := credErr.IntegrationID
		dj.IntegrationID = &id
		if encErr := encodeJob(job, dj); encErr != nil {
			return encErr
		}
		return conversion.NewDeliveryError(conversion.ErrorCodeCredentialsUnreadable, false, credErr.Error())
	case errors.Is(err, integration.ErrUnsupportedIntegration):
		return conversion.NewDeliveryError(conversion.ErrorCodeMisconfigured, false, err.Error())
	default:
		return fmt.Errorf("resolve integration: %w", err)
	}
}

func (w *Worker) onSuccess(ctx context.Context, log *zap.Logger, job *queue.Job, dj *conversion.DeliveryJob, result conversion.SendResult) {
	if w.ledger != nil {
		if _, err := w.ledger.MarkDelivered(ctx, job.ID, w.ledgerTTL); err != nil {
			log.Warn("failed to record delivery in ledger", zap.Error(err))
		}
	}
	if err := w.directory.UpdateIntegrationStatus(ctx, *dj.IntegrationID, integration.StatusActive, nil); err != nil {
		log.Error("failed to update integration status", zap.Error(err))
	}
	w.completeSyncLog(ctx, log, dj, result, job.Attempts)

	log.Info("conversion delivered",
		zap.Int("events_accepted", result.ProviderEventsAccepted),
		zap.String("trace_id", result.TraceID),
	)
}

func (w *Worker) completeSyncLog(ctx context.Context, log *zap.Logger, dj *conversion.DeliveryJob, result conversion.SendResult, attempts int) {
	processed := result.ProviderEventsAccepted
	if processed < 1 {
		processed = 1
	}
	metadata := map[string]any{"attempts": attempts}
	if result.TraceID != "" {
		metadata["trace_id"] = result.TraceID
	}

	_, err := w.directory.CreateSyncLog(ctx, *dj.IntegrationID, integration.SyncLogStatusCompleted, directory.SyncLogOptions{
		ID:               dj.SyncLogID,
		RecordsProcessed: processed,
		Metadata:         metadata,
	})
	if err != nil && !errors.Is(err, integration.ErrSyncLogFinalized) {
		log.Error("failed to complete sync log", zap.Error(err))
	}
}

func (w *Worker) onFailure(ctx context.Context, log *zap.Logger, job *queue.Job, dj *conversion.DeliveryJob, active *integration.ActiveIntegration, result conversion.SendResult) error {
	deliveryErr := result.Err()
	msg := deliveryErr.Error()

	// one failed attempt records the error but never flips the status
	if err := w.directory.UpdateIntegrationStatus(ctx, active.ID, active.Status, &msg); err != nil {
		log.Error("failed to record integration error", zap.Error(err))
	}

	metadata := map[string]any{
		"attempts":        job.Attempts,
		"last_error_code": string(result.ErrorCode),
	}
	if result.TraceID != "" {
		metadata["trace_id"] = result.TraceID
	}
	if _, err := w.directory.CreateSyncLog(ctx, active.ID, integration.SyncLogStatusRunning, directory.SyncLogOptions{
		ID:       dj.SyncLogID,
		Error:    &msg,
		Metadata: metadata,
	}); err != nil && !errors.Is(err, integration.ErrSyncLogFinalized) {
		log.Error("failed to update sync log", zap.Error(err))
	}

	log.Warn("delivery attempt failed",
		zap.String("error_code", string(result.ErrorCode)),
		zap.Bool("retryable", result.IsRetryable),
		zap.String("error", result.Error),
	)
	return deliveryErr
}

func decodeJob(job *queue.Job) (*conversion.DeliveryJob, error) {
	var dj conversion.DeliveryJob
	if err := json.Unmarshal(job.Payload, &dj); err != nil {
		return nil, fmt.Errorf("decode delivery job %s: %w", job.ID, err)
	}
	return &dj, nil
}

func encodeJob(job *queue.Job, dj *conversion.DeliveryJob) error {
	data, err := json.Marshal(dj)
	if err != nil {
		return fmt.Errorf("encode delivery job %s: %w", job.ID, err)
	}
	job.Payload = data
	return nil
}
