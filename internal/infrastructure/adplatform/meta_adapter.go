package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/domain/integration"
)

// MetaAdapter sends conversions to the Meta Conversions API
type MetaAdapter struct {
	config     *MetaConfig
	httpClient *http.Client
}

// NewMetaAdapter creates a new Meta adapter with the given configuration
func NewMetaAdapter(config *MetaConfig) (*MetaAdapter, error) {
	if config == nil {
		config = NewMetaConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &MetaAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}, nil
}

// Platform returns the platform this adapter handles
func (a *MetaAdapter) Platform() conversion.Platform {
	return conversion.PlatformMeta
}

// Send delivers one event to the pixel named by the credentials
func (a *MetaAdapter) Send(ctx context.Context, creds integration.Credentials, job *conversion.DeliveryJob) (result conversion.SendResult) {
	ctx, span := startSpan(ctx, "meta.events", job)
	defer func() { endSpan(span, result) }()

	meta := creds.Meta
	if meta == nil {
		return conversion.Permanent(conversion.ErrorCodeCredentialsUnreadable, "meta: integration has no Meta credentials")
	}

	body, err := json.Marshal(metaEventsRequest{
		Data:          []metaEvent{buildMetaEvent(job)},
		TestEventCode: meta.TestEventCode,
		AccessToken:   meta.AccessToken,
	})
	if err != nil {
		return conversion.Permanent(conversion.ErrorCodeInvalidEvent, "meta: encode request: %v", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/events", a.config.APIBaseURL, a.config.APIVersion, url.PathEscape(meta.PixelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return conversion.Permanent(conversion.ErrorCodeMisconfigured, "meta: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return transportFailure("meta", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportFailure("meta", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return parseMetaSuccess(respBody)
	}
	return classifyMetaError(resp.StatusCode, respBody)
}

func buildMetaEvent(job *conversion.DeliveryJob) metaEvent {
	ev := job.Event
	hashed := job.HashedUserData

	actionSource := "system_generated"
	if ev.PageURL != "" {
		actionSource = "website"
	}

	return metaEvent{
		EventName:      ev.Name,
		EventTime:      ev.OccurredAt.Unix(),
		EventID:        ev.ID,
		ActionSource:   actionSource,
		EventSourceURL: ev.PageURL,
		UserData: metaUserData{
			Emails:      hashed.Emails,
			Phones:      hashed.Phones,
			ExternalIDs: hashed.ExternalIDs,
			ClientIP:    hashed.ClientIP,
			UserAgent:   hashed.UserAgent,
			FBC:         hashed.FBC,
			FBP:         hashed.FBP,
		},
		CustomData: metaCustomData{
			Value:    json.Number(ev.Value.String()),
			Currency: ev.Currency,
			OrderID:  ev.ID,
		},
	}
}

func parseMetaSuccess(body []byte) conversion.SendResult {
	var resp metaEventsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return conversion.Retryable(conversion.ErrorCodeProviderTransient, "meta: unreadable success response: %v", err)
	}
	if resp.EventsReceived == 0 {
		r := conversion.Permanent(conversion.ErrorCodeProviderRejected, "meta: no events received")
		r.TraceID = resp.FBTraceID
		return r
	}
	return conversion.Succeeded(resp.EventsReceived, resp.FBTraceID)
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// Graph API error codes. See the Graph API error handling reference.
const (
	metaCodeUnknown          = 1
	metaCodeService          = 2
	metaCodeTooManyCalls     = 4
	metaCodePermission       = 10
	metaCodeUserTooManyCalls = 17
	metaCodeRateLimitPage    = 32
	metaCodeSessionKey       = 102
	metaCodeInvalidParameter = 100
	metaCodeAccessToken      = 190
	metaCodeAppLimit         = 341
	metaCodePolicy           = 368
	metaCodeCustomRateLimit  = 613
	metaCodeAdsRateLimit     = 80004
)

func classifyMetaError(status int, body []byte) conversion.SendResult {
	var parsed metaErrorResponse
	_ = json.Unmarshal(body, &parsed)

	if parsed.Error == nil {
		return classifyByStatus(status, fmt.Sprintf("meta: HTTP %d", status), "")
	}

	e := parsed.Error
	msg := fmt.Sprintf("meta: %s (code %d", e.Message, e.Code)
	if e.ErrorSubcode != 0 {
		msg += fmt.Sprintf(", subcode %d", e.ErrorSubcode)
	}
	msg += ")"

	var r conversion.SendResult
	switch {
	case e.IsTransient:
		r = conversion.Retryable(conversion.ErrorCodeProviderTransient, "%s", msg)
	case e.Code == metaCodeTooManyCalls, e.Code == metaCodeUserTooManyCalls, e.Code == metaCodeRateLimitPage,
		e.Code == metaCodeCustomRateLimit, e.Code == metaCodeAdsRateLimit, e.Code == metaCodeAppLimit:
		r = conversion.Retryable(conversion.ErrorCodeRateLimited, "%s", msg)
	case e.Code == metaCodeUnknown, e.Code == metaCodeService:
		r = conversion.Retryable(conversion.ErrorCodeProviderTransient, "%s", msg)
	case e.Code == metaCodeAccessToken, e.Code == metaCodeSessionKey, e.Code == metaCodePermission,
		e.Code >= 200 && e.Code <= 299:
		r = conversion.Permanent(conversion.ErrorCodeProviderAuth, "%s", msg)
	case e.Code == metaCodeInvalidParameter, e.Code == metaCodePolicy:
		r = conversion.Permanent(conversion.ErrorCodeProviderRejected, "%s", msg)
	default:
		return classifyByStatus(status, msg, e.FBTraceID)
	}
	r.TraceID = e.FBTraceID
	return r
}

// classifyByStatus is the fallback when the provider body carries no usable code
func classifyByStatus(status int, msg, traceID string) conversion.SendResult {
	var r conversion.SendResult
	switch {
	case status == http.StatusTooManyRequests:
		r = conversion.Retryable(conversion.ErrorCodeRateLimited, "%s", msg)
	case status >= 500:
		r = conversion.Retryable(conversion.ErrorCodeProviderTransient, "%s", msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		r = conversion.Permanent(conversion.ErrorCodeProviderAuth, "%s", msg)
	default:
		r = conversion.Permanent(conversion.ErrorCodeProviderRejected, "%s", msg)
	}
	r.TraceID = traceID
	return r
}
