package adplatform

import (
	"errors"
	"strings"
)

// MetaConfig holds process-wide configuration for the Meta Conversions API.
// Per-pixel credentials come from the integration, not from here.
type MetaConfig struct {
	// APIBaseURL is the Graph API host
	APIBaseURL string
	// APIVersion is the Graph API version path segment, e.g. v21.0
	APIVersion string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

const (
	// MetaGraphAPIURL is the production Graph API endpoint
	MetaGraphAPIURL = "https://graph.facebook.com"
	// MetaDefaultAPIVersion is the Graph API version used when none is configured
	MetaDefaultAPIVersion = "v21.0"
)

// Errors for Meta configuration
var (
	ErrMetaConfigInvalidVersion = errors.New("meta: api version must look like v21.0")
)

// NewMetaConfig creates a Meta configuration with defaults
func NewMetaConfig() *MetaConfig {
	return &MetaConfig{
		APIBaseURL:     MetaGraphAPIURL,
		APIVersion:     MetaDefaultAPIVersion,
		TimeoutSeconds: defaultTimeoutSeconds,
	}
}

// Validate validates the Meta configuration and fills defaults
func (c *MetaConfig) Validate() error {
	if c.APIBaseURL == "" {
		c.APIBaseURL = MetaGraphAPIURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.APIVersion == "" {
		c.APIVersion = MetaDefaultAPIVersion
	}
	if !strings.HasPrefix(c.APIVersion, "v") {
		return ErrMetaConfigInvalidVersion
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
	return nil
}
