package delivery

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/application/directory"
	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/domain/integration"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

// HandleTerminal surfaces a job that failed for good: the integration is
// marked ERROR and its sync log finalized FAILED. Cancelled jobs keep the
// integration status. Without a known integration only an error line is logged.
func (w *Worker) HandleTerminal(ctx context.Context, ev queue.TerminalEvent) {
	w.metrics.RecordTerminal(ctx, w.platform, string(ev.Reason))

	msg := string(ev.Reason)
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	log := w.logger.With(
		zap.String("job_key", ev.Job.ID),
		zap.String("reason", string(ev.Reason)),
		zap.Int("attempt", ev.Job.Attempts),
		zap.String("error_code", string(conversion.CodeOf(ev.Err))),
	)

	dj, err := decodeJob(ev.Job)
	if err != nil {
		log.Error("delivery failed, payload unreadable", zap.String("error", msg), zap.NamedError("decode_error", err))
		return
	}
	if dj.IntegrationID == nil {
		log.Error("delivery failed with no integration to report to",
			zap.String("organization_id", dj.OrganizationID),
			zap.String("error", msg),
		)
		return
	}
	log = log.With(zap.String("integration_id", dj.IntegrationID.String()))

	if ev.Reason != queue.ReasonCancelled {
		if err := w.directory.UpdateIntegrationStatus(ctx, *dj.IntegrationID, integration.StatusError, &msg); err != nil {
			log.Error("failed to mark integration as errored", zap.Error(err))
		}
	}

	_, err = w.directory.CreateSyncLog(ctx, *dj.IntegrationID, integration.SyncLogStatusFailed, directory.SyncLogOptions{
		ID:            dj.SyncLogID,
		JobKey:        ev.Job.ID,
		RecordsFailed: 1,
		Error:         &msg,
		Metadata: map[string]any{
			"reason":     string(ev.Reason),
			"attempts":   ev.Job.Attempts,
			"error_code": string(conversion.CodeOf(ev.Err)),
		},
	})
	switch {
	case errors.Is(err, integration.ErrSyncLogFinalized):
		log.Debug("sync log already finalized")
	case err != nil:
		log.Error("failed to record failed sync log", zap.Error(err))
	}

	log.Warn("delivery failed permanently", zap.String("error", msg))
}
