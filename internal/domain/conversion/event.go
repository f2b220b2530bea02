package conversion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Conversion Errors
// ---------------------------------------------------------------------------

var (
	ErrInvalidEvent        = errors.New("conversion: invalid event")
	ErrUnsupportedPlatform = errors.New("conversion: unsupported platform")
)

// validate is shared; validator.Validate caches struct metadata and is safe for concurrent use
var validate = validator.New(validator.WithRequiredStructEnabled())

// UserData is the raw PII bag attached to a conversion.
// It only lives long enough to be hashed and must never be persisted.
type UserData struct {
	Email      string
	Phone      string
	ExternalID string
	// Browser and network hints, forwarded unhashed
	ClientIP  string `validate:"omitempty,ip"`
	UserAgent string
	FBC       string
	FBP       string
	GCLID     string
}

// CanonicalEvent is a locally recorded business conversion.
// It is produced exactly once per conversion and never mutated afterwards.
type CanonicalEvent struct {
	ID             string          `validate:"required,max=128"`
	OrganizationID string          `validate:"required"`
	LeadID         string          `validate:"required"`
	Name           string          `validate:"required,max=64"`
	OccurredAt     time.Time       `validate:"required"`
	Value          decimal.Decimal
	Currency       string          `validate:"required,len=3,alpha"`
	PageURL        string          `validate:"omitempty,url"`
	UserData       UserData
}

// Validate checks the event is complete enough to be delivered anywhere
func (e *CanonicalEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.Value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidEvent)
	}
	return nil
}

// Snapshot returns the PII-free part of the event carried by delivery jobs
func (e *CanonicalEvent) Snapshot() EventSnapshot {
	return EventSnapshot{
		ID:         e.ID,
		Name:       e.Name,
		OccurredAt: e.OccurredAt.UTC(),
		Value:      e.Value,
		Currency:   strings.ToUpper(e.Currency),
		PageURL:    e.PageURL,
	}
}

// EventSnapshot is the non-PII view of a CanonicalEvent
type EventSnapshot struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	OccurredAt time.Time       `json:"occurred_at"`
	Value      decimal.Decimal `json:"value"`
	Currency   string          `json:"currency"`
	PageURL    string          `json:"page_url,omitempty"`
}

// HashedUserData holds SHA-256 hex digests of normalized PII plus
// pass-through identifiers that are not PII under the platform contracts.
// It is deterministic for a given UserData, so recomputing it is always safe.
type HashedUserData struct {
	Emails      []string `json:"em,omitempty"`
	Phones      []string `json:"ph,omitempty"`
	ExternalIDs []string `json:"external_id,omitempty"`
	ClientIP    string   `json:"client_ip_address,omitempty"`
	UserAgent   string   `json:"client_user_agent,omitempty"`
	FBC         string   `json:"fbc,omitempty"`
	FBP         string   `json:"fbp,omitempty"`
	GCLID       string   `json:"gclid,omitempty"`
}

// HasMatchKey reports whether there is at least one identifier a click-based
// platform can match on
func (h HashedUserData) HasMatchKey() bool {
	return h.GCLID != "" || len(h.Emails) > 0 || len(h.Phones) > 0
}
