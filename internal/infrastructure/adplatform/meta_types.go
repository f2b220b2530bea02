package adplatform

import "encoding/json"

// ---------------------------------------------------------------------------
// Meta Conversions API request types
// ---------------------------------------------------------------------------

type metaEventsRequest struct {
	Data          []metaEvent `json:"data"`
	TestEventCode string      `json:"test_event_code,omitempty"`
	AccessToken   string      `json:"access_token"`
}

type metaEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	ActionSource   string         `json:"action_source"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	UserData       metaUserData   `json:"user_data"`
	CustomData     metaCustomData `json:"custom_data"`
}

// metaUserData is HashedUserData minus gclid, which Meta does not accept
type metaUserData struct {
	Emails      []string `json:"em,omitempty"`
	Phones      []string `json:"ph,omitempty"`
	ExternalIDs []string `json:"external_id,omitempty"`
	ClientIP    string   `json:"client_ip_address,omitempty"`
	UserAgent   string   `json:"client_user_agent,omitempty"`
	FBC         string   `json:"fbc,omitempty"`
	FBP         string   `json:"fbp,omitempty"`
}

type metaCustomData struct {
	Value    json.Number `json:"value"`
	Currency string      `json:"currency"`
	OrderID  string      `json:"order_id,omitempty"`
}

// ---------------------------------------------------------------------------
// Meta Conversions API response types
// ---------------------------------------------------------------------------

type metaEventsResponse struct {
	EventsReceived int      `json:"events_received"`
	Messages       []string `json:"messages"`
	FBTraceID      string   `json:"fbtrace_id"`
}

type metaErrorResponse struct {
	Error *metaError `json:"error"`
}

type metaError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	IsTransient  bool   `json:"is_transient"`
	FBTraceID    string `json:"fbtrace_id"`
}
