package integration

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Integration Errors
// ---------------------------------------------------------------------------

var (
	ErrNoActiveIntegration    = errors.New("integration: no active integration")
	ErrAmbiguousIntegration   = errors.New("integration: more than one active integration")
	ErrCredentialsUnreadable  = errors.New("integration: credentials could not be decrypted")
	ErrInvalidCredentials     = errors.New("integration: invalid credentials")
	ErrIntegrationNotFound    = errors.New("integration: integration not found")
	ErrInvalidStatus          = errors.New("integration: invalid status")
	ErrSyncLogNotFound        = errors.New("integration: sync log not found")
	ErrSyncLogFinalized       = errors.New("integration: sync log already finalized")
	ErrInvalidSyncLogStatus   = errors.New("integration: invalid sync log status")
	ErrUnsupportedIntegration = errors.New("integration: unsupported integration type")
)

// ---------------------------------------------------------------------------
// Type represents the kind of connected third-party account
// ---------------------------------------------------------------------------

// Type represents the kind of connected third-party account
type Type string

const (
	// TypeMetaCAPI is a Meta pixel with Conversions API access
	TypeMetaCAPI Type = "META_CAPI"
	// TypeGoogleAds is a Google Ads customer account
	TypeGoogleAds Type = "GOOGLE_ADS"
	// TypeHubSpot is a HubSpot CRM connection (managed by the settings UI, not delivered to)
	TypeHubSpot Type = "HUBSPOT"
	// TypeSalesforce is a Salesforce CRM connection (managed by the settings UI, not delivered to)
	TypeSalesforce Type = "SALESFORCE"
)

// IsValid returns true if the type is known
func (t Type) IsValid() bool {
	switch t {
	case TypeMetaCAPI, TypeGoogleAds, TypeHubSpot, TypeSalesforce:
		return true
	default:
		return false
	}
}

// String returns the string representation of Type
func (t Type) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// Status represents the health of an integration
// ---------------------------------------------------------------------------

// Status represents the health of an integration
type Status string

const (
	// StatusActive means deliveries are attempted
	StatusActive Status = "ACTIVE"
	// StatusPaused means the operator paused deliveries
	StatusPaused Status = "PAUSED"
	// StatusError means a terminal failure needs operator attention
	StatusError Status = "ERROR"
)

// IsValid returns true if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// Integration is a connected third-party account of an organization.
// Created by the settings UI; the delivery subsystem only reads it and updates
// status, LastSyncAt and LastError.
type Integration struct {
	ID                   uuid.UUID
	OrganizationID       string
	Type                 Type
	Status               Status
	EncryptedCredentials []byte
	Settings             map[string]any
	LastSyncAt           *time.Time
	LastError            *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsActive returns true if deliveries should be attempted
func (i *Integration) IsActive() bool {
	return i.Status == StatusActive
}
