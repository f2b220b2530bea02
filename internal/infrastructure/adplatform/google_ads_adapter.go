package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/domain/integration"
	"github.com/funnelvalue/conversions/internal/infrastructure/hashing"
)

// gadsDateTimeLayout is the conversionDateTime format, "yyyy-mm-dd hh:mm:ss+|-hh:mm"
const gadsDateTimeLayout = "2006-01-02 15:04:05-07:00"

// GoogleAdsAdapter uploads click conversions to the Google Ads API
type GoogleAdsAdapter struct {
	config     *GoogleAdsConfig
	oauth      *oauth2.Config
	httpClient *http.Client

	// tokenSources caches one refreshing token source per refresh token
	tokenSources map[string]oauth2.TokenSource
	mu           sync.Mutex // Protects tokenSources map
}

// NewGoogleAdsAdapter creates a new Google Ads adapter with the given configuration
func NewGoogleAdsAdapter(config *GoogleAdsConfig) (*GoogleAdsAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &GoogleAdsAdapter{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.OAuthClientID,
			ClientSecret: config.OAuthClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		tokenSources: make(map[string]oauth2.TokenSource),
	}, nil
}

// Platform returns the platform this adapter handles
func (a *GoogleAdsAdapter) Platform() conversion.Platform {
	return conversion.PlatformGoogleAds
}

// Send uploads one click conversion. A job without gclid, email or phone is
// refused before any network call.
func (a *GoogleAdsAdapter) Send(ctx context.Context, creds integration.Credentials, job *conversion.DeliveryJob) (result conversion.SendResult) {
	ctx, span := startSpan(ctx, "google_ads.upload_click_conversions", job)
	defer func() { endSpan(span, result) }()

	if !job.HashedUserData.HasMatchKey() {
		return conversion.Permanent(conversion.ErrorCodeMissingIdentifiers, "google ads: no gclid, email or phone to match on")
	}

	gads := creds.GoogleAds
	if gads == nil {
		return conversion.Permanent(conversion.ErrorCodeCredentialsUnreadable, "google ads: integration has no Google Ads credentials")
	}
	if gads.ConversionActionID == "" {
		return conversion.Permanent(conversion.ErrorCodeMisconfigured, "google ads: integration has no conversion action")
	}

	customerID := normalizeCustomerID(gads.CustomerID)
	body, err := json.Marshal(gadsUploadRequest{
		Conversions:    []gadsClickConversion{buildClickConversion(customerID, gads.ConversionActionID, job)},
		PartialFailure: true,
	})
	if err != nil {
		return conversion.Permanent(conversion.ErrorCodeInvalidEvent, "google ads: encode request: %v", err)
	}

	token, failure := a.accessToken(gads.RefreshToken)
	if failure != nil {
		return *failure
	}

	endpoint := fmt.Sprintf("%s/%s/customers/%s:uploadClickConversions", a.config.APIBaseURL, a.config.APIVersion, customerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return conversion.Permanent(conversion.ErrorCodeMisconfigured, "google ads: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", a.config.DeveloperToken)
	token.SetAuthHeader(req)
	if gads.LoginCustomerID != "" {
		req.Header.Set("login-customer-id", normalizeCustomerID(gads.LoginCustomerID))
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return transportFailure("google ads", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportFailure("google ads", err)
	}

	requestID := resp.Header.Get("request-id")
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return parseUploadResponse(respBody, 1, requestID)
	}
	return classifyGoogleAdsError(resp.StatusCode, respBody, requestID)
}

func normalizeCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}

func buildClickConversion(customerID, actionID string, job *conversion.DeliveryJob) gadsClickConversion {
	action := actionID
	if !strings.Contains(action, "/") {
		action = fmt.Sprintf("customers/%s/conversionActions/%s", customerID, actionID)
	}

	hashed := job.HashedUserData
	ids := make([]gadsUserIdentifier, 0, len(hashed.Emails)+len(hashed.Phones))
	for _, em := range hashed.Emails {
		ids = append(ids, gadsUserIdentifier{HashedEmail: em})
	}
	for _, ph := range hashed.Phones {
		ids = append(ids, gadsUserIdentifier{HashedPhoneNumber: ph})
	}

	return gadsClickConversion{
		GCLID:              hashed.GCLID,
		ConversionAction:   action,
		ConversionDateTime: job.Event.OccurredAt.UTC().Format(gadsDateTimeLayout),
		ConversionValue:    json.Number(job.Event.Value.String()),
		CurrencyCode:       job.Event.Currency,
		OrderID:            job.Event.ID,
		UserIdentifiers:    ids,
	}
}

// ---------------------------------------------------------------------------
// OAuth
// ---------------------------------------------------------------------------

// accessToken exchanges the refresh token, reusing a cached token until it expires
func (a *GoogleAdsAdapter) accessToken(refreshToken string) (*oauth2.Token, *conversion.SendResult) {
	tok, err := a.tokenSource(refreshToken).Token()
	if err == nil {
		return tok, nil
	}

	var r conversion.SendResult
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		switch {
		case rerr.ErrorCode == "invalid_grant", rerr.ErrorCode == "invalid_client", rerr.ErrorCode == "unauthorized_client":
			r = conversion.Permanent(conversion.ErrorCodeProviderAuth, "google ads: token refresh refused: %s", rerr.ErrorCode)
		case status == http.StatusTooManyRequests:
			r = conversion.Retryable(conversion.ErrorCodeRateLimited, "google ads: token endpoint rate limited")
		case status >= 500:
			r = conversion.Retryable(conversion.ErrorCodeProviderTransient, "google ads: token endpoint HTTP %d", status)
		case status == http.StatusBadRequest, status == http.StatusUnauthorized:
			r = conversion.Permanent(conversion.ErrorCodeProviderAuth, "google ads: token refresh refused: HTTP %d", status)
		default:
			r = conversion.Retryable(conversion.ErrorCodeNetwork, "google ads: token refresh failed: HTTP %d", status)
		}
		return nil, &r
	}

	r = transportFailure("google ads token", err)
	return nil, &r
}

func (a *GoogleAdsAdapter) tokenSource(refreshToken string) oauth2.TokenSource {
	key := hashing.Sum(refreshToken)

	a.mu.Lock()
	defer a.mu.Unlock()
	if ts, ok := a.tokenSources[key]; ok {
		return ts
	}
	// refreshes run detached from any request, bounded by the client timeout
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, a.httpClient)
	ts := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	a.tokenSources[key] = ts
	return ts
}

// ---------------------------------------------------------------------------
// Response parsing
// ---------------------------------------------------------------------------

// parseUploadResponse evaluates a 2xx partial-failure response for rows
// conversions. A row counts as accepted only when no error names it.
func parseUploadResponse(body []byte, rows int, requestID string) conversion.SendResult {
	var resp gadsUploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return conversion.Retryable(conversion.ErrorCodeProviderTransient, "google ads: unreadable response: %v", err)
	}

	pf := resp.PartialFailureError
	if pf == nil || (pf.Code == 0 && len(pf.Details) == 0) {
		return conversion.Succeeded(rows, requestID)
	}

	if requestID == "" {
		requestID = failureRequestID(pf)
	}

	byRow, requestLevel := splitByRow(pf)
	if len(requestLevel) > 0 {
		r := classifyGadsErrors(requestLevel, conversion.ErrorCodeProviderRejected)
		r.TraceID = requestID
		return r
	}
	if len(byRow) == 0 {
		// a partial failure status with no detail rows
		r := conversion.Permanent(conversion.ErrorCodeProviderRejected, "google ads: %s", pf.Message)
		r.TraceID = requestID
		return r
	}

	accepted := rows - len(byRow)
	if accepted >= rows {
		return conversion.Succeeded(rows, requestID)
	}
	if accepted > 0 {
		// only reachable for multi-row uploads
		return conversion.Succeeded(accepted, requestID)
	}

	var all []gadsErrorDetail
	for _, idx := range sortedRows(byRow) {
		all = append(all, byRow[idx]...)
	}
	r := classifyGadsErrors(all, conversion.ErrorCodePartialFailure)
	r.TraceID = requestID
	return r
}

func classifyGoogleAdsError(status int, body []byte, requestID string) conversion.SendResult {
	var env gadsErrorEnvelope
	_ = json.Unmarshal(body, &env)

	msg := fmt.Sprintf("google ads: HTTP %d", status)
	if env.Error != nil {
		if requestID == "" {
			requestID = failureRequestID(env.Error)
		}
		if env.Error.Message != "" {
			msg = fmt.Sprintf("google ads: HTTP %d: %s", status, env.Error.Message)
		}
	}

	switch {
	case status == http.StatusTooManyRequests,
		status >= 500,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		return classifyByStatus(status, msg, requestID)
	}

	if env.Error != nil {
		var errs []gadsErrorDetail
		for _, d := range env.Error.Details {
			errs = append(errs, d.Errors...)
		}
		if len(errs) > 0 {
			r := classifyGadsErrors(errs, conversion.ErrorCodeProviderRejected)
			r.TraceID = requestID
			return r
		}
	}
	return classifyByStatus(status, msg, requestID)
}

// splitByRow groups errors by the conversions[index] they name.
// Errors without an index apply to the whole request.
func splitByRow(st *gadsStatus) (map[int][]gadsErrorDetail, []gadsErrorDetail) {
	byRow := make(map[int][]gadsErrorDetail)
	var requestLevel []gadsErrorDetail
	for _, d := range st.Details {
		for _, e := range d.Errors {
			idx, ok := rowIndex(e)
			if !ok {
				requestLevel = append(requestLevel, e)
				continue
			}
			byRow[idx] = append(byRow[idx], e)
		}
	}
	return byRow, requestLevel
}

func rowIndex(e gadsErrorDetail) (int, bool) {
	if e.Location == nil {
		return 0, false
	}
	for _, el := range e.Location.FieldPathElements {
		if el.FieldName == "conversions" && el.Index != nil {
			return *el.Index, true
		}
	}
	return 0, false
}

func sortedRows(byRow map[int][]gadsErrorDetail) []int {
	idx := make([]int, 0, len(byRow))
	for i := range byRow {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func failureRequestID(st *gadsStatus) string {
	for _, d := range st.Details {
		if d.RequestID != "" {
			return d.RequestID
		}
	}
	return ""
}

// classifyGadsErrors folds a set of errors into one result. The result is
// retryable only when every error is; any auth error wins.
func classifyGadsErrors(errs []gadsErrorDetail, permanentCode conversion.ErrorCode) conversion.SendResult {
	msgs := make([]string, 0, len(errs))
	allRetryable := true
	rateLimited := false
	auth := false
	for _, e := range errs {
		category, code := errorCategory(e)
		msgs = append(msgs, fmt.Sprintf("%s.%s: %s", category, code, e.Message))

		switch {
		case category == "authenticationError", category == "authorizationError":
			auth = true
			allRetryable = false
		case category == "quotaError":
			rateLimited = true
		case isTransientGadsError(category, code):
		default:
			allRetryable = false
		}
	}

	msg := "google ads: " + strings.Join(msgs, "; ")
	switch {
	case auth:
		return conversion.Permanent(conversion.ErrorCodeProviderAuth, "%s", msg)
	case allRetryable && rateLimited:
		return conversion.Retryable(conversion.ErrorCodeRateLimited, "%s", msg)
	case allRetryable:
		return conversion.Retryable(conversion.ErrorCodeProviderTransient, "%s", msg)
	default:
		return conversion.Permanent(permanentCode, "%s", msg)
	}
}

func errorCategory(e gadsErrorDetail) (string, string) {
	for k, v := range e.ErrorCode {
		return k, v
	}
	return "unknownError", "UNKNOWN"
}

func isTransientGadsError(category, code string) bool {
	switch category {
	case "internalError":
		return true
	case "databaseError":
		return code == "CONCURRENT_MODIFICATION"
	case "conversionUploadError":
		return code == "TOO_RECENT_CONVERSION_ACTION"
	}
	return false
}
