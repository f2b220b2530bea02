package models

import (
	"time"

	"github.com/funnelvalue/conversions/internal/domain/integration"
)

// IntegrationModel is the persistence model for the Integration domain entity.
// At most one ACTIVE row per (organization_id, type) is enforced by a partial
// unique index in the migrations.
type IntegrationModel struct {
	BaseModel
	OrganizationID       string             `gorm:"type:varchar(64);not null;index:idx_integrations_org_type,priority:1"`
	Type                 integration.Type   `gorm:"type:varchar(32);not null;index:idx_integrations_org_type,priority:2"`
	Status               integration.Status `gorm:"type:varchar(16);not null;default:'ACTIVE'"`
	EncryptedCredentials []byte             `gorm:"type:bytea"`
	SettingsJSON         string             `gorm:"type:jsonb;column:settings"`
	LastSyncAt           *time.Time
	LastError            *string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (IntegrationModel) TableName() string {
	return "integrations"
}

// ToDomain converts the persistence model to a domain Integration entity.
func (m *IntegrationModel) ToDomain() *integration.Integration {
	return &integration.Integration{
		ID:                   m.ID,
		OrganizationID:       m.OrganizationID,
		Type:                 m.Type,
		Status:               m.Status,
		EncryptedCredentials: m.EncryptedCredentials,
		Settings:             decodeJSONMap(m.SettingsJSON),
		LastSyncAt:           m.LastSyncAt,
		LastError:            m.LastError,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Integration entity.
func (m *IntegrationModel) FromDomain(i *integration.Integration) {
	m.ID = i.ID
	m.OrganizationID = i.OrganizationID
	m.Type = i.Type
	m.Status = i.Status
	m.EncryptedCredentials = i.EncryptedCredentials
	m.SettingsJSON = encodeJSONMap(i.Settings)
	m.LastSyncAt = i.LastSyncAt
	m.LastError = i.LastError
	m.CreatedAt = i.CreatedAt
	m.UpdatedAt = i.UpdatedAt
}

// IntegrationModelFromDomain creates a new persistence model from a domain Integration entity.
func IntegrationModelFromDomain(i *integration.Integration) *IntegrationModel {
	m := &IntegrationModel{}
	m.FromDomain(i)
	return m
}
