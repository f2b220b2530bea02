// Package cache provides delivery ledgers that remember which job keys a
// provider already accepted.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
)

// DefaultKeyPrefix namespaces ledger keys in a shared Redis
const DefaultKeyPrefix = "conversions:delivered:"

// RedisDeliveryLedger implements conversion.DeliveryLedger using Redis.
// Suitable when several worker processes deliver from the same queues.
type RedisDeliveryLedger struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisDeliveryLedger connects to Redis and verifies the connection
func NewRedisDeliveryLedger(ctx context.Context, cfg RedisConfig) (*RedisDeliveryLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDeliveryLedger{client: client, keyPrefix: DefaultKeyPrefix}, nil
}

// NewRedisDeliveryLedgerWithClient creates a ledger over an existing client
func NewRedisDeliveryLedgerWithClient(client *redis.Client, keyPrefix string) *RedisDeliveryLedger {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisDeliveryLedger{client: client, keyPrefix: keyPrefix}
}

// MarkDelivered records the job key with SET NX and a TTL
func (l *RedisDeliveryLedger) MarkDelivered(ctx context.Context, jobKey string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.keyPrefix+jobKey, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark %s delivered: %w", jobKey, err)
	}
	return ok, nil
}

// IsDelivered checks whether the job key is recorded
func (l *RedisDeliveryLedger) IsDelivered(ctx context.Context, jobKey string) (bool, error) {
	n, err := l.client.Exists(ctx, l.keyPrefix+jobKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", jobKey, err)
	}
	return n > 0, nil
}

// Ping checks the Redis connection
func (l *RedisDeliveryLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (l *RedisDeliveryLedger) Close() error {
	return l.client.Close()
}

var _ conversion.DeliveryLedger = (*RedisDeliveryLedger)(nil)
