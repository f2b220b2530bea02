package conversion

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a delivery failure
type ErrorCode string

const (
	// Input and validation failures
	ErrorCodeInvalidEvent       ErrorCode = "INVALID_EVENT"
	ErrorCodeMissingIdentifiers ErrorCode = "MISSING_IDENTIFIERS"

	// Credential failures
	ErrorCodeNoIntegration         ErrorCode = "NO_INTEGRATION"
	ErrorCodeIntegrationAmbiguous  ErrorCode = "INTEGRATION_AMBIGUOUS"
	ErrorCodeCredentialsUnreadable ErrorCode = "CREDENTIALS_UNREADABLE"
	ErrorCodeMisconfigured         ErrorCode = "INTEGRATION_MISCONFIGURED"

	// Transient provider failures
	ErrorCodeNetwork           ErrorCode = "NETWORK"
	ErrorCodeProviderTransient ErrorCode = "PROVIDER_TRANSIENT"
	ErrorCodeRateLimited       ErrorCode = "PROVIDER_RATE_LIMITED"

	// Permanent provider failures
	ErrorCodeProviderAuth     ErrorCode = "PROVIDER_AUTH"
	ErrorCodeProviderRejected ErrorCode = "PROVIDER_REJECTED"
	ErrorCodePartialFailure   ErrorCode = "PROVIDER_PARTIAL_FAILURE"
)

// SendResult is the outcome of one adapter call.
// Adapters classify failures here instead of returning Go errors, so the
// retry decision is plain data.
type SendResult struct {
	Success                bool
	IsRetryable            bool
	ProviderEventsAccepted int
	Error                  string
	ErrorCode              ErrorCode
	// TraceID is the provider-side request id when the provider returns one
	TraceID string
}

// Succeeded builds a successful result
func Succeeded(accepted int, traceID string) SendResult {
	return SendResult{Success: true, ProviderEventsAccepted: accepted, TraceID: traceID}
}

// Retryable builds a transient failure
func Retryable(code ErrorCode, format string, args ...any) SendResult {
	return SendResult{IsRetryable: true, ErrorCode: code, Error: fmt.Sprintf(format, args...)}
}

// Permanent builds a failure that must not be retried
func Permanent(code ErrorCode, format string, args ...any) SendResult {
	return SendResult{ErrorCode: code, Error: fmt.Sprintf(format, args...)}
}

// Err converts a failed result into a DeliveryError, or nil on success
func (r SendResult) Err() error {
	if r.Success {
		return nil
	}
	return &DeliveryError{Code: r.ErrorCode, Message: r.Error, Retryable: r.IsRetryable}
}

// DeliveryError carries the classification of a failed delivery attempt
type DeliveryError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

// NewDeliveryError creates a delivery error
func NewDeliveryError(code ErrorCode, retryable bool, message string) *DeliveryError {
	return &DeliveryError{Code: code, Message: message, Retryable: retryable}
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsRetryable reports whether another attempt may succeed
func (e *DeliveryError) IsRetryable() bool {
	return e.Retryable
}

// CodeOf extracts the ErrorCode from an error chain, or "" if none
func CodeOf(err error) ErrorCode {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
