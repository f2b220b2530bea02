package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestHashEmail(t *testing.T) {
	t.Run("normalizes case and whitespace", func(t *testing.T) {
		assert.Equal(t, HashEmail("foo@bar.com"), HashEmail("  Foo@Bar.COM "))
		assert.Equal(t, sha("foo@bar.com"), HashEmail("\tFOO@BAR.COM\n"))
	})

	t.Run("produces 64 hex characters", func(t *testing.T) {
		assert.Len(t, HashEmail("a@b.com"), 64)
	})

	t.Run("composes unicode before hashing", func(t *testing.T) {
		assert.Equal(t, HashEmail("josé@example.com"), HashEmail("JOSÉ@example.com"))
	})

	t.Run("empty input still hashes", func(t *testing.T) {
		assert.Equal(t, sha(""), HashEmail("   "))
	})
}

func TestHashPhone(t *testing.T) {
	t.Run("strips formatting", func(t *testing.T) {
		assert.Equal(t, sha("+15551234567"), HashPhone("+1 (555) 123-4567"))
		assert.Equal(t, sha("15551234567"), HashPhone("1.555.123.4567"))
	})

	t.Run("leading plus is significant", func(t *testing.T) {
		assert.NotEqual(t, HashPhone("+1 (555) 123-4567"), HashPhone("15551234567"))
	})

	t.Run("plus after the first character is dropped", func(t *testing.T) {
		assert.Equal(t, "5551234", StripPhone("555+1234"))
	})
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		cc   string
		want string
	}{
		{name: "national with trunk zero", raw: "0412 345 678", cc: "+61", want: "+61412345678"},
		{name: "country code without plus", raw: "0412 345 678", cc: "61", want: "+61412345678"},
		{name: "already international", raw: "+44 20 7946 0958", cc: "+61", want: "+442079460958"},
		{name: "no trunk zero", raw: "412345678", cc: "+61", want: "+61412345678"},
		{name: "only one zero is stripped", raw: "00412", cc: "+61", want: "+610412"},
		{name: "empty country code", raw: "0412 345 678", cc: "", want: "412345678"},
		{name: "garbage", raw: "call me", cc: "+61", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw, tt.cc))
		})
	}

	t.Run("normalized national number hashes like the international form", func(t *testing.T) {
		assert.Equal(t, HashPhone("+61412345678"), HashPhone(NormalizePhone("0412 345 678", "+61")))
	})
}

func TestClassifyEmailDomain(t *testing.T) {
	assert.Equal(t, EmailDomainConsumer, ClassifyEmailDomain("user@gmail.com"))
	assert.Equal(t, EmailDomainConsumer, ClassifyEmailDomain(" User@GMAIL.com "))
	assert.Equal(t, EmailDomainBusiness, ClassifyEmailDomain("user@acme.co"))
	assert.Equal(t, EmailDomainBusiness, ClassifyEmailDomain("not-an-email"))
	assert.True(t, ClassifyEmailDomain("x@outlook.com").IsConsumer())
}

func TestHashUserData(t *testing.T) {
	t.Run("hashes PII and passes identifiers through", func(t *testing.T) {
		hashed := HashUserData(conversion.UserData{
			Email:      "A@B.com",
			Phone:      "0412 345 678",
			ExternalID: " lead_42 ",
			ClientIP:   "203.0.113.7",
			UserAgent:  "Mozilla/5.0",
			FBC:        "fb.1.1554763741205.AbCdEf",
			FBP:        "fb.1.1558571054389.1098115397",
			GCLID:      "Cj0KCQ",
		}, "+61")

		assert.Equal(t, []string{sha("a@b.com")}, hashed.Emails)
		assert.Equal(t, []string{sha("+61412345678")}, hashed.Phones)
		assert.Equal(t, []string{sha("lead_42")}, hashed.ExternalIDs)
		assert.Equal(t, "203.0.113.7", hashed.ClientIP)
		assert.Equal(t, "Mozilla/5.0", hashed.UserAgent)
		assert.Equal(t, "Cj0KCQ", hashed.GCLID)
		assert.True(t, hashed.HasMatchKey())
	})

	t.Run("empty PII yields no digests", func(t *testing.T) {
		hashed := HashUserData(conversion.UserData{Email: "  ", Phone: "n/a"}, "+61")
		assert.Empty(t, hashed.Emails)
		assert.Empty(t, hashed.Phones)
		assert.Empty(t, hashed.ExternalIDs)
		assert.False(t, hashed.HasMatchKey())
	})

	t.Run("is deterministic", func(t *testing.T) {
		ud := conversion.UserData{Email: "x@y.z", Phone: "+1 555 0100"}
		assert.Equal(t, HashUserData(ud, "+1"), HashUserData(ud, "+1"))
	})
}
