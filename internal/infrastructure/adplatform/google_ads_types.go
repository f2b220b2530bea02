package adplatform

import "encoding/json"

// ---------------------------------------------------------------------------
// uploadClickConversions request types
// ---------------------------------------------------------------------------

type gadsUploadRequest struct {
	Conversions    []gadsClickConversion `json:"conversions"`
	PartialFailure bool                  `json:"partialFailure"`
}

type gadsClickConversion struct {
	GCLID              string               `json:"gclid,omitempty"`
	ConversionAction   string               `json:"conversionAction"`
	ConversionDateTime string               `json:"conversionDateTime"`
	ConversionValue    json.Number          `json:"conversionValue"`
	CurrencyCode       string               `json:"currencyCode"`
	OrderID            string               `json:"orderId,omitempty"`
	UserIdentifiers    []gadsUserIdentifier `json:"userIdentifiers,omitempty"`
}

// gadsUserIdentifier carries exactly one identifier
type gadsUserIdentifier struct {
	HashedEmail       string `json:"hashedEmail,omitempty"`
	HashedPhoneNumber string `json:"hashedPhoneNumber,omitempty"`
}

// ---------------------------------------------------------------------------
// uploadClickConversions response types
// ---------------------------------------------------------------------------

type gadsUploadResponse struct {
	Results             []json.RawMessage `json:"results"`
	PartialFailureError *gadsStatus       `json:"partialFailureError"`
	JobID               string            `json:"jobId"`
}

// gadsStatus is a google.rpc.Status
type gadsStatus struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Details []gadsFailureInfo `json:"details"`
}

// gadsFailureInfo is a GoogleAdsFailure detail
type gadsFailureInfo struct {
	Type      string            `json:"@type"`
	Errors    []gadsErrorDetail `json:"errors"`
	RequestID string            `json:"requestId"`
}

type gadsErrorDetail struct {
	// ErrorCode has exactly one key, the error category, e.g. {"quotaError":"RESOURCE_EXHAUSTED"}
	ErrorCode map[string]string  `json:"errorCode"`
	Message   string             `json:"message"`
	Location  *gadsErrorLocation `json:"location"`
}

type gadsErrorLocation struct {
	FieldPathElements []gadsFieldPathElement `json:"fieldPathElements"`
}

type gadsFieldPathElement struct {
	FieldName string `json:"fieldName"`
	Index     *int   `json:"index"`
}

// gadsErrorEnvelope is the body of a non-2xx response
type gadsErrorEnvelope struct {
	Error *gadsStatus `json:"error"`
}
