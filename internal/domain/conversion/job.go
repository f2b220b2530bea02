package conversion

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Platform identifies an external advertising API a conversion is delivered to
type Platform string

const (
	// PlatformMeta is the Meta Conversions API
	PlatformMeta Platform = "META"
	// PlatformGoogleAds is the Google Ads offline click conversion upload
	PlatformGoogleAds Platform = "GOOGLE_ADS"
)

// AllPlatforms lists every platform with a delivery pipeline
var AllPlatforms = []Platform{PlatformMeta, PlatformGoogleAds}

// IsValid returns true if the platform is known
func (p Platform) IsValid() bool {
	switch p {
	case PlatformMeta, PlatformGoogleAds:
		return true
	default:
		return false
	}
}

// String returns the string representation of Platform
func (p Platform) String() string {
	return string(p)
}

// KeyPrefix returns the idempotency key prefix for the platform
func (p Platform) KeyPrefix() string {
	switch p {
	case PlatformMeta:
		return "meta"
	case PlatformGoogleAds:
		return "gads"
	default:
		return strings.ToLower(string(p))
	}
}

// IntegrationType returns the integration type holding credentials for the platform
func (p Platform) IntegrationType() string {
	switch p {
	case PlatformMeta:
		return "META_CAPI"
	case PlatformGoogleAds:
		return "GOOGLE_ADS"
	default:
		return string(p)
	}
}

// ParsePlatform converts a configuration or wire string to a Platform
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
	}
	return p, nil
}

// IdempotencyKey derives the deterministic key shared by every enqueue of the
// same conversion for the same platform
func IdempotencyKey(p Platform, conversionEventID string) string {
	return p.KeyPrefix() + "-" + conversionEventID
}

// DeliveryJob is one unit of work: deliver one conversion to one platform
type DeliveryJob struct {
	ConversionEventID string         `json:"conversion_event_id"`
	OrganizationID    string         `json:"organization_id"`
	LeadID            string         `json:"lead_id"`
	Platform          Platform       `json:"platform"`
	Event             EventSnapshot  `json:"event"`
	HashedUserData    HashedUserData `json:"hashed_user_data"`
	RetryCount        int            `json:"retry_count"`

	// Set by the worker on the first attempt so later attempts and the
	// terminal handler finalize the same audit record
	IntegrationID *uuid.UUID `json:"integration_id,omitempty"`
	SyncLogID     *uuid.UUID `json:"sync_log_id,omitempty"`
}

// NewDeliveryJob builds the job for one platform from an event and its hashed user data
func NewDeliveryJob(event *CanonicalEvent, hashed HashedUserData, p Platform) (*DeliveryJob, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, p)
	}
	return &DeliveryJob{
		ConversionEventID: event.ID,
		OrganizationID:    event.OrganizationID,
		LeadID:            event.LeadID,
		Platform:          p,
		Event:             event.Snapshot(),
		HashedUserData:    hashed,
	}, nil
}

// Key returns the idempotency key of the job
func (j *DeliveryJob) Key() string {
	return IdempotencyKey(j.Platform, j.ConversionEventID)
}
