// Package hashing normalizes and one-way hashes PII before it leaves the process.
//
// Every function is pure and total: malformed input yields a best-effort
// result instead of an error, and the empty string still hashes to a valid
// digest. Callers decide whether an empty field is worth sending.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
)

// Sum returns the lowercase hex SHA-256 digest of s
func Sum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// Input is NFC-composed first so visually identical addresses hash the same.
func NormalizeEmail(raw string) string {
	// Casers are stateful, one per call
	return cases.Lower(language.Und).String(norm.NFC.String(strings.TrimSpace(raw)))
}

// HashEmail returns the digest of the normalized email
func HashEmail(raw string) string {
	return Sum(NormalizeEmail(raw))
}

// StripPhone keeps digits and a leading '+', dropping everything else
func StripPhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HashPhone returns the digest of the phone with formatting stripped.
// A leading '+' is part of the hashed value.
func HashPhone(raw string) string {
	return Sum(StripPhone(raw))
}

// NormalizePhone produces an E.164-like number.
// Numbers without a leading '+' lose one national trunk '0' and get the
// default country code prepended. This does not validate number length or
// numbering plans.
func NormalizePhone(raw, defaultCountryCode string) string {
	stripped := StripPhone(raw)
	if strings.HasPrefix(stripped, "+") || stripped == "" {
		return stripped
	}
	stripped = strings.TrimPrefix(stripped, "0")
	cc := strings.TrimPrefix(StripPhone(defaultCountryCode), "+")
	if cc == "" {
		return stripped
	}
	return "+" + cc + stripped
}

// HashExternalID returns the digest of a trimmed external identifier
func HashExternalID(raw string) string {
	return Sum(strings.TrimSpace(raw))
}

// HashUserData derives the hashed view of raw user data.
// Empty PII fields contribute no digest; pass-through identifiers are copied.
func HashUserData(ud conversion.UserData, defaultCountryCode string) conversion.HashedUserData {
	hashed := conversion.HashedUserData{
		ClientIP:  strings.TrimSpace(ud.ClientIP),
		UserAgent: ud.UserAgent,
		FBC:       strings.TrimSpace(ud.FBC),
		FBP:       strings.TrimSpace(ud.FBP),
		GCLID:     strings.TrimSpace(ud.GCLID),
	}
	if email := NormalizeEmail(ud.Email); email != "" {
		hashed.Emails = []string{Sum(email)}
	}
	if phone := NormalizePhone(ud.Phone, defaultCountryCode); phone != "" {
		hashed.Phones = []string{Sum(phone)}
	}
	if id := strings.TrimSpace(ud.ExternalID); id != "" {
		hashed.ExternalIDs = []string{Sum(id)}
	}
	return hashed
}
