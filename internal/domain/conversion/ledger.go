package conversion

import (
	"context"
	"time"
)

// DeliveryLedger remembers job keys whose delivery the provider already
// accepted, so a job retried after a lost acknowledgement is not sent twice
type DeliveryLedger interface {
	// MarkDelivered records the key for ttl.
	// Returns true if the key was newly recorded.
	MarkDelivered(ctx context.Context, jobKey string, ttl time.Duration) (bool, error)
	// IsDelivered reports whether the key is recorded and not expired
	IsDelivered(ctx context.Context, jobKey string) (bool, error)
}
