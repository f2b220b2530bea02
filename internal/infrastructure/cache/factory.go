package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/infrastructure/config"
)

// NewLedger returns the Redis ledger when Redis is enabled and reachable.
// Otherwise it falls back to an in-memory ledger and logs a warning.
func NewLedger(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (conversion.DeliveryLedger, func() error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Enabled {
		ledger, err := NewRedisDeliveryLedger(ctx, RedisConfig{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err == nil {
			logger.Info("Using Redis delivery ledger", zap.String("addr", cfg.Addr()))
			return ledger, ledger.Close
		}
		logger.Warn("Redis unavailable, falling back to in-memory delivery ledger",
			zap.String("addr", cfg.Addr()),
			zap.Error(err),
		)
	}

	ledger := NewInMemoryDeliveryLedger()
	return ledger, ledger.Close
}
