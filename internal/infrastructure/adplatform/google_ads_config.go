package adplatform

import (
	"errors"
	"strings"
)

// GoogleAdsConfig holds the application-level Google Ads API configuration.
// The refresh token and customer come from each integration.
type GoogleAdsConfig struct {
	// APIBaseURL is the Google Ads REST host
	APIBaseURL string
	// APIVersion is the REST version path segment, e.g. v18
	APIVersion string
	// DeveloperToken is sent on every request
	DeveloperToken string
	// OAuthClientID is the OAuth client that issued the refresh tokens
	OAuthClientID string
	// OAuthClientSecret is the secret of OAuthClientID
	OAuthClientSecret string
	// TokenURL is the OAuth2 token endpoint
	TokenURL string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

const (
	// GoogleAdsAPIURL is the production Google Ads REST endpoint
	GoogleAdsAPIURL = "https://googleads.googleapis.com"
	// GoogleAdsDefaultAPIVersion is the API version used when none is configured
	GoogleAdsDefaultAPIVersion = "v18"
	// GoogleOAuthTokenURL is the Google OAuth2 token endpoint
	GoogleOAuthTokenURL = "https://oauth2.googleapis.com/token"
)

// Errors for Google Ads configuration
var (
	ErrGoogleAdsConfigMissingDeveloperToken = errors.New("google ads: developer token is required")
	ErrGoogleAdsConfigMissingClientID       = errors.New("google ads: oauth client id is required")
	ErrGoogleAdsConfigMissingClientSecret   = errors.New("google ads: oauth client secret is required")
)

// NewGoogleAdsConfig creates a Google Ads configuration with defaults
func NewGoogleAdsConfig(developerToken, clientID, clientSecret string) *GoogleAdsConfig {
	return &GoogleAdsConfig{
		APIBaseURL:        GoogleAdsAPIURL,
		APIVersion:        GoogleAdsDefaultAPIVersion,
		DeveloperToken:    developerToken,
		OAuthClientID:     clientID,
		OAuthClientSecret: clientSecret,
		TokenURL:          GoogleOAuthTokenURL,
		TimeoutSeconds:    defaultTimeoutSeconds,
	}
}

// Validate validates the Google Ads configuration and fills defaults
func (c *GoogleAdsConfig) Validate() error {
	if c.DeveloperToken == "" {
		return ErrGoogleAdsConfigMissingDeveloperToken
	}
	if c.OAuthClientID == "" {
		return ErrGoogleAdsConfigMissingClientID
	}
	if c.OAuthClientSecret == "" {
		return ErrGoogleAdsConfigMissingClientSecret
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = GoogleAdsAPIURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.APIVersion == "" {
		c.APIVersion = GoogleAdsDefaultAPIVersion
	}
	if c.TokenURL == "" {
		c.TokenURL = GoogleOAuthTokenURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
	return nil
}
