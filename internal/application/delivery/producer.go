package delivery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/infrastructure/hashing"
)

// Enqueuer adds a job under an idempotency key
type Enqueuer interface {
	Enqueue(ctx context.Context, id string, payload any) (bool, error)
}

// PublishResult reports the job built for one platform
type PublishResult struct {
	Platform conversion.Platform
	JobKey   string
	// Added is false when a job with the same key was already queued
	Added bool
}

// Producer turns canonical events into one delivery job per platform
type Producer struct {
	queues             map[conversion.Platform]Enqueuer
	defaultCountryCode string
	logger             *zap.Logger
}

// NewProducer creates a producer over the per-platform queues
func NewProducer(queues map[conversion.Platform]Enqueuer, defaultCountryCode string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{queues: queues, defaultCountryCode: defaultCountryCode, logger: logger}
}

// Publish validates and hashes the event and enqueues it for each platform,
// every configured platform when none is given. Raw PII is not retained.
func (p *Producer) Publish(ctx context.Context, event *conversion.CanonicalEvent, platforms ...conversion.Platform) ([]PublishResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		for _, pl := range conversion.AllPlatforms {
			if _, ok := p.queues[pl]; ok {
				platforms = append(platforms, pl)
			}
		}
	}

	hashed := hashing.HashUserData(event.UserData, p.defaultCountryCode)

	results := make([]PublishResult, 0, len(platforms))
	for _, pl := range platforms {
		q, ok := p.queues[pl]
		if !ok {
			return results, fmt.Errorf("%w: no queue for %s", conversion.ErrUnsupportedPlatform, pl)
		}
		job, err := conversion.NewDeliveryJob(event, hashed, pl)
		if err != nil {
			return results, err
		}

		added, err := q.Enqueue(ctx, job.Key(), job)
		if err != nil {
			return results, fmt.Errorf("enqueue %s: %w", job.Key(), err)
		}
		results = append(results, PublishResult{Platform: pl, JobKey: job.Key(), Added: added})

		p.logger.Debug("conversion enqueued",
			zap.String("job_key", job.Key()),
			zap.String("platform", pl.String()),
			zap.Bool("added", added),
		)
	}
	return results, nil
}
