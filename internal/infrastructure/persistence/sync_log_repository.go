package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/funnelvalue/conversions/internal/domain/integration"
	"github.com/funnelvalue/conversions/internal/infrastructure/persistence/models"
)

// GormSyncLogRepository implements integration.SyncLogRepository using GORM
type GormSyncLogRepository struct {
	db *gorm.DB
}

// NewGormSyncLogRepository creates a new GORM-based sync log repository
func NewGormSyncLogRepository(db *gorm.DB) *GormSyncLogRepository {
	return &GormSyncLogRepository{db: db}
}

// Create inserts a sync log
func (r *GormSyncLogRepository) Create(ctx context.Context, log *integration.SyncLog) error {
	if err := r.db.WithContext(ctx).Create(models.SyncLogModelFromDomain(log)).Error; err != nil {
		return fmt.Errorf("create sync log: %w", err)
	}
	return nil
}

// Update saves a sync log. Rows already COMPLETED or FAILED are never
// overwritten, even by a concurrent writer.
func (r *GormSyncLogRepository) Update(ctx context.Context, log *integration.SyncLog) error {
	m := models.SyncLogModelFromDomain(log)
	result := r.db.WithContext(ctx).
		Model(&models.SyncLogModel{}).
		Where("id = ? AND status = ?", log.ID, integration.SyncLogStatusRunning).
		Updates(map[string]any{
			"status":            m.Status,
			"completed_at":      m.CompletedAt,
			"records_processed": m.RecordsProcessed,
			"records_failed":    m.RecordsFailed,
			"error":             m.Error,
			"metadata":          m.MetadataJSON,
		})
	if result.Error != nil {
		return fmt.Errorf("update sync log: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, log.ID); err != nil {
			return err
		}
		return integration.ErrSyncLogFinalized
	}
	return nil
}

// FindByID retrieves a sync log
func (r *GormSyncLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncLog, error) {
	var row models.SyncLogModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, integration.ErrSyncLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find sync log: %w", err)
	}
	return row.ToDomain(), nil
}

// FindByIntegration lists the most recent sync logs of an integration
func (r *GormSyncLogRepository) FindByIntegration(ctx context.Context, integrationID uuid.UUID, limit int) ([]*integration.SyncLog, error) {
	var rows []models.SyncLogModel
	err := r.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find sync logs: %w", err)
	}
	out := make([]*integration.SyncLog, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// Ensure GormSyncLogRepository implements SyncLogRepository
var _ integration.SyncLogRepository = (*GormSyncLogRepository)(nil)
