package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

// Outcome labels of a delivery attempt
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retryable"
	OutcomePermanent = "permanent"
)

// DeliveryMetrics records adapter calls and terminal failures.
type DeliveryMetrics struct {
	attempts *Counter
	accepted *Counter
	terminal *Counter
	duration *Histogram
}

// NewDeliveryMetrics creates the delivery instruments on meter.
func NewDeliveryMetrics(meter metric.Meter) (*DeliveryMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &DeliveryMetrics{}
	var err error

	if m.attempts, err = NewCounter(meter,
		"conversions_delivery_attempts_total",
		"Adapter calls by platform and outcome",
		"{attempts}",
	); err != nil {
		return nil, err
	}
	if m.accepted, err = NewCounter(meter,
		"conversions_provider_events_accepted_total",
		"Events the provider reported as accepted",
		"{events}",
	); err != nil {
		return nil, err
	}
	if m.terminal, err = NewCounter(meter,
		"conversions_delivery_terminal_failures_total",
		"Jobs that failed for good",
		"{jobs}",
	); err != nil {
		return nil, err
	}
	if m.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "conversions_delivery_duration_seconds",
		Description: "Provider API call latency",
		Unit:        "s",
		Boundaries:  ProviderCallBuckets,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordAttempt records one adapter call.
func (m *DeliveryMetrics) RecordAttempt(ctx context.Context, platform conversion.Platform, result conversion.SendResult, elapsed time.Duration) {
	outcome := OutcomeSuccess
	switch {
	case result.Success:
	case result.IsRetryable:
		outcome = OutcomeRetry
	default:
		outcome = OutcomePermanent
	}

	attrs := []attribute.KeyValue{AttrPlatform.String(platform.String()), AttrOutcome.String(outcome)}
	m.duration.RecordDuration(ctx, elapsed, attrs...)
	m.attempts.Inc(ctx, append(attrs, AttrErrorCode.String(string(result.ErrorCode)))...)
	if result.Success && result.ProviderEventsAccepted > 0 {
		m.accepted.Add(ctx, int64(result.ProviderEventsAccepted), AttrPlatform.String(platform.String()))
	}
}

// RecordTerminal records a job that ended in the failed state.
func (m *DeliveryMetrics) RecordTerminal(ctx context.Context, platform conversion.Platform, reason string) {
	m.terminal.Inc(ctx, AttrPlatform.String(platform.String()), AttrReason.String(reason))
}

// QueueStatsSource is a queue whose counts are exported as gauges.
type QueueStatsSource interface {
	Name() string
	Stats(ctx context.Context) (queue.Stats, error)
}

// RegisterQueueGauges exports the per-state job counts of every queue as an
// observable gauge read at collection time. Unregister the returned
// registration on shutdown.
func RegisterQueueGauges(meter metric.Meter, logger *zap.Logger, sources ...QueueStatsSource) (metric.Registration, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gauge, err := meter.Int64ObservableGauge(
		"conversions_queue_jobs",
		metric.WithDescription("Jobs per queue and state"),
		metric.WithUnit("{jobs}"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, src := range sources {
			stats, err := src.Stats(ctx)
			if err != nil {
				logger.Warn("failed to collect queue stats", zap.String("queue", src.Name()), zap.Error(err))
				continue
			}
			name := AttrQueue.String(src.Name())
			o.ObserveInt64(gauge, stats.Waiting, metric.WithAttributes(name, AttrState.String(string(queue.StateWaiting))))
			o.ObserveInt64(gauge, stats.Active, metric.WithAttributes(name, AttrState.String(string(queue.StateActive))))
			o.ObserveInt64(gauge, stats.Delayed, metric.WithAttributes(name, AttrState.String(string(queue.StateDelayed))))
			o.ObserveInt64(gauge, stats.Completed, metric.WithAttributes(name, AttrState.String(string(queue.StateCompleted))))
			o.ObserveInt64(gauge, stats.Failed, metric.WithAttributes(name, AttrState.String(string(queue.StateFailed))))
		}
		return nil
	}, gauge)
}
