package vault

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelvalue/conversions/internal/infrastructure/config"
)

const (
	testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	// produced by an independent AES-256-GCM implementation with nonce 0x64..0x73
	fixedBlobHex = "6465666768696a6b6c6d6e6f70717273" +
		"8efa995ca1f82d931a04cdfb9c9ae7ca" +
		"a39133389c714b91d6db97ab76e5df47765339a3ff8a937891ef7f0bf7d53dea0faee5ee1d"
)

type testCredentials struct {
	PixelID       string `json:"pixelId"`
	AccessToken   string `json:"accessToken"`
	TestEventCode string `json:"testEventCode,omitempty"`
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodecFromHex(testKeyHex)
	require.NoError(t, err)
	return c
}

func TestNewCodec(t *testing.T) {
	t.Run("rejects a missing key", func(t *testing.T) {
		_, err := NewCodecFromHex("  ")
		assert.ErrorIs(t, err, ErrMissingKey)

		_, err = NewCodec(nil)
		assert.ErrorIs(t, err, ErrMissingKey)
	})

	t.Run("rejects short keys", func(t *testing.T) {
		_, err := NewCodec(make([]byte, 16))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("rejects non-hex", func(t *testing.T) {
		_, err := NewCodecFromHex(strings.Repeat("zz", 32))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	in := testCredentials{PixelID: "123456", AccessToken: "EAAB-secret", TestEventCode: "TEST42"}
	blob, err := c.Encrypt(in)
	require.NoError(t, err)

	var out testCredentials
	require.NoError(t, c.Decrypt(blob, &out))
	assert.Equal(t, in, out)

	t.Run("maps round trip", func(t *testing.T) {
		in := map[string]any{"customerId": "111-222-3333", "refreshToken": "1//0g"}
		blob, err := c.Encrypt(in)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, c.Decrypt(blob, &out))
		assert.Equal(t, in, out)
	})
}

func TestCodec_FreshNonce(t *testing.T) {
	c := newTestCodec(t)
	in := testCredentials{PixelID: "1", AccessToken: "t"}

	a, err := c.Encrypt(in)
	require.NoError(t, err)
	b, err := c.Encrypt(in)
	require.NoError(t, err)

	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
	assert.NotEqual(t, a, b)
}

func TestCodec_Layout(t *testing.T) {
	c := newTestCodec(t)
	nonce := bytes.Repeat([]byte{0xAB}, NonceSize)
	c.rand = bytes.NewReader(nonce)

	plain := []byte(`{"pixelId":"1"}`)
	blob, err := c.Seal(plain)
	require.NoError(t, err)

	require.Len(t, blob, NonceSize+TagSize+len(plain))
	assert.Equal(t, nonce, blob[:NonceSize])

	t.Run("decodes a fixed blob", func(t *testing.T) {
		blob, err := hex.DecodeString(fixedBlobHex)
		require.NoError(t, err)

		var out testCredentials
		require.NoError(t, newTestCodec(t).Decrypt(blob, &out))
		assert.Equal(t, testCredentials{PixelID: "123", AccessToken: "tok"}, out)
	})
}

func TestCodec_Tampering(t *testing.T) {
	c := newTestCodec(t)
	blob, err := c.Encrypt(testCredentials{PixelID: "123", AccessToken: "super-secret-token"})
	require.NoError(t, err)

	t.Run("any flipped bit fails", func(t *testing.T) {
		for i := range blob {
			for bit := 0; bit < 8; bit++ {
				tampered := bytes.Clone(blob)
				tampered[i] ^= 1 << bit

				var out testCredentials
				err := c.Decrypt(tampered, &out)
				require.Error(t, err, "byte %d bit %d", i, bit)
				require.ErrorIs(t, err, ErrDecryption)
				require.Empty(t, out.AccessToken)
			}
		}
	})

	t.Run("wrong key fails", func(t *testing.T) {
		other, err := NewCodec(bytes.Repeat([]byte{7}, KeySize))
		require.NoError(t, err)

		var out testCredentials
		err = other.Decrypt(blob, &out)
		var decErr *DecryptionError
		require.True(t, errors.As(err, &decErr))
		assert.NotContains(t, err.Error(), "super-secret-token")
	})

	t.Run("short blob fails", func(t *testing.T) {
		var out testCredentials
		assert.ErrorIs(t, c.Decrypt(blob[:headerSize-1], &out), ErrDecryption)
	})

	t.Run("unexpected structure fails without leaking plaintext", func(t *testing.T) {
		sealed, err := c.Seal([]byte(`"super-secret-token"`))
		require.NoError(t, err)

		var out testCredentials
		err = c.Decrypt(sealed, &out)
		require.ErrorIs(t, err, ErrDecryption)
		assert.NotContains(t, err.Error(), "super-secret-token")
	})
}

func TestDeriveKey(t *testing.T) {
	key, err := DeriveKey("correct horse", "org-salt-01")
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	again, err := DeriveKey("correct horse", "org-salt-01")
	require.NoError(t, err)
	assert.Equal(t, key, again)

	_, err = DeriveKey("", "org-salt-01")
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = DeriveKey("pw", "short")
	assert.Error(t, err)
}

func TestNewCodecFromConfig(t *testing.T) {
	hexKey := strings.Repeat("ab", KeySize)

	fromHex, err := NewCodecFromConfig(config.VaultConfig{EncryptionKey: hexKey, Passphrase: "ignored"})
	require.NoError(t, err)
	blob, err := fromHex.Encrypt(testCredentials{AccessToken: "tok"})
	require.NoError(t, err)

	raw, err := hex.DecodeString(hexKey)
	require.NoError(t, err)
	direct, err := NewCodec(raw)
	require.NoError(t, err)
	var out testCredentials
	require.NoError(t, direct.Decrypt(blob, &out))
	assert.Equal(t, "tok", out.AccessToken)

	_, err = NewCodecFromConfig(config.VaultConfig{Passphrase: "correct horse", Salt: "org-salt-01"})
	assert.NoError(t, err)

	_, err = NewCodecFromConfig(config.VaultConfig{})
	assert.ErrorIs(t, err, ErrMissingKey)
}
