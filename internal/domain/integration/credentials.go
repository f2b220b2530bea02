package integration

import (
	"fmt"

	"github.com/google/uuid"
)

// MetaCredentials authorize Conversions API calls for one pixel
type MetaCredentials struct {
	PixelID       string `json:"pixelId"`
	AccessToken   string `json:"accessToken"`
	TestEventCode string `json:"testEventCode,omitempty"`
}

// Validate validates the Meta credentials
func (c *MetaCredentials) Validate() error {
	if c.PixelID == "" {
		return fmt.Errorf("%w: pixel id is required", ErrInvalidCredentials)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%w: access token is required", ErrInvalidCredentials)
	}
	return nil
}

// String redacts the access token
func (c MetaCredentials) String() string {
	return fmt.Sprintf("MetaCredentials{PixelID:%s AccessToken:[REDACTED]}", c.PixelID)
}

// GoString redacts the access token for %#v
func (c MetaCredentials) GoString() string {
	return c.String()
}

// GoogleAdsCredentials authorize offline conversion uploads for one customer
type GoogleAdsCredentials struct {
	CustomerID         string `json:"customerId"`
	RefreshToken       string `json:"refreshToken"`
	LoginCustomerID    string `json:"loginCustomerId,omitempty"`
	ConversionActionID string `json:"conversionActionId,omitempty"`
}

// Validate validates the Google Ads credentials
func (c *GoogleAdsCredentials) Validate() error {
	if c.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidCredentials)
	}
	if c.RefreshToken == "" {
		return fmt.Errorf("%w: refresh token is required", ErrInvalidCredentials)
	}
	return nil
}

// String redacts the refresh token
func (c GoogleAdsCredentials) String() string {
	return fmt.Sprintf("GoogleAdsCredentials{CustomerID:%s RefreshToken:[REDACTED]}", c.CustomerID)
}

// GoString redacts the refresh token for %#v
func (c GoogleAdsCredentials) GoString() string {
	return c.String()
}

// Credentials is the decrypted credential set of one integration.
// Exactly one field is set, matching the integration type.
type Credentials struct {
	Meta      *MetaCredentials
	GoogleAds *GoogleAdsCredentials
}

// String never prints secrets
func (c Credentials) String() string {
	switch {
	case c.Meta != nil:
		return c.Meta.String()
	case c.GoogleAds != nil:
		return c.GoogleAds.String()
	default:
		return "Credentials{}"
	}
}

// ActiveIntegration is an ACTIVE integration with its credentials decrypted
type ActiveIntegration struct {
	Integration
	Credentials Credentials
}

// CredentialError reports credentials that could not be decrypted or parsed.
// It names the integration only, never any part of the plaintext.
type CredentialError struct {
	IntegrationID uuid.UUID
	Err           error
}

// Error implements the error interface
func (e *CredentialError) Error() string {
	return fmt.Sprintf("integration %s: credentials unreadable", e.IntegrationID)
}

// Unwrap makes errors.Is(err, ErrCredentialsUnreadable) hold
func (e *CredentialError) Unwrap() []error {
	return []error{ErrCredentialsUnreadable, e.Err}
}
