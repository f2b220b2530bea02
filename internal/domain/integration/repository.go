package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IntegrationRepository is the narrow store contract the delivery subsystem needs
type IntegrationRepository interface {
	// FindActive returns every ACTIVE integration of the given type for the organization
	FindActive(ctx context.Context, organizationID string, integrationType Type) ([]Integration, error)
	// UpdateStatus sets status, last sync time and last error (nil clears it)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, lastSyncAt time.Time, lastError *string) error
}

// SyncLogRepository persists sync logs
type SyncLogRepository interface {
	// Create inserts a new sync log
	Create(ctx context.Context, log *SyncLog) error
	// Update saves a modified sync log
	Update(ctx context.Context, log *SyncLog) error
	// FindByID retrieves a sync log, ErrSyncLogNotFound if absent
	FindByID(ctx context.Context, id uuid.UUID) (*SyncLog, error)
}
