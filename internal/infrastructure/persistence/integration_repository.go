package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/funnelvalue/conversions/internal/domain/integration"
	"github.com/funnelvalue/conversions/internal/infrastructure/persistence/models"
)

// GormIntegrationRepository implements integration.IntegrationRepository using GORM
type GormIntegrationRepository struct {
	db *gorm.DB
}

// NewGormIntegrationRepository creates a new GORM-based integration repository
func NewGormIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

// FindActive returns every ACTIVE integration of one type for an organization, oldest first
func (r *GormIntegrationRepository) FindActive(ctx context.Context, organizationID string, integrationType integration.Type) ([]integration.Integration, error) {
	var rows []models.IntegrationModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND type = ? AND status = ?", organizationID, integrationType, integration.StatusActive).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find active integrations: %w", err)
	}

	out := make([]integration.Integration, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

// UpdateStatus sets status, last sync time and last error
func (r *GormIntegrationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status integration.Status, lastSyncAt time.Time, lastError *string) error {
	if !status.IsValid() {
		return integration.ErrInvalidStatus
	}

	result := r.db.WithContext(ctx).
		Model(&models.IntegrationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"last_sync_at": lastSyncAt,
			"last_error":   lastError,
			"updated_at":   lastSyncAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update integration status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return integration.ErrIntegrationNotFound
	}
	return nil
}

// Create inserts an integration. The delivery subsystem never creates
// integrations; this exists for seeding and tests.
func (r *GormIntegrationRepository) Create(ctx context.Context, i *integration.Integration) error {
	return r.db.WithContext(ctx).Create(models.IntegrationModelFromDomain(i)).Error
}

// FindByID retrieves one integration
func (r *GormIntegrationRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	var row models.IntegrationModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, integration.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// Ensure GormIntegrationRepository implements IntegrationRepository
var _ integration.IntegrationRepository = (*GormIntegrationRepository)(nil)
