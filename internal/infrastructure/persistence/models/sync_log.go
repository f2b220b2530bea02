package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/funnelvalue/conversions/internal/domain/integration"
)

// SyncLogModel is the persistence model for the SyncLog domain entity.
type SyncLogModel struct {
	ID               uuid.UUID                 `gorm:"type:uuid;primaryKey"`
	IntegrationID    uuid.UUID                 `gorm:"type:uuid;not null;index:idx_sync_logs_integration_started,priority:1"`
	JobKey           string                    `gorm:"type:varchar(160);index"`
	Status           integration.SyncLogStatus `gorm:"type:varchar(16);not null"`
	StartedAt        time.Time                 `gorm:"not null;index:idx_sync_logs_integration_started,priority:2"`
	CompletedAt      *time.Time
	RecordsProcessed int     `gorm:"not null;default:0"`
	RecordsFailed    int     `gorm:"not null;default:0"`
	Error            *string `gorm:"type:text"`
	MetadataJSON     string  `gorm:"type:jsonb;column:metadata"`
}

// TableName returns the table name for GORM
func (SyncLogModel) TableName() string {
	return "sync_logs"
}

// ToDomain converts the persistence model to a domain SyncLog entity.
func (m *SyncLogModel) ToDomain() *integration.SyncLog {
	return &integration.SyncLog{
		ID:               m.ID,
		IntegrationID:    m.IntegrationID,
		JobKey:           m.JobKey,
		Status:           m.Status,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
		RecordsProcessed: m.RecordsProcessed,
		RecordsFailed:    m.RecordsFailed,
		Error:            m.Error,
		Metadata:         decodeJSONMap(m.MetadataJSON),
	}
}

// FromDomain populates the persistence model from a domain SyncLog entity.
func (m *SyncLogModel) FromDomain(l *integration.SyncLog) {
	m.ID = l.ID
	m.IntegrationID = l.IntegrationID
	m.JobKey = l.JobKey
	m.Status = l.Status
	m.StartedAt = l.StartedAt
	m.CompletedAt = l.CompletedAt
	m.RecordsProcessed = l.RecordsProcessed
	m.RecordsFailed = l.RecordsFailed
	m.Error = l.Error
	m.MetadataJSON = encodeJSONMap(l.Metadata)
}

// SyncLogModelFromDomain creates a new persistence model from a domain SyncLog entity.
func SyncLogModelFromDomain(l *integration.SyncLog) *SyncLogModel {
	m := &SyncLogModel{}
	m.FromDomain(l)
	return m
}
