// Package vault encrypts third-party API credentials at rest.
//
// Blobs use AES-256-GCM with a 16 byte nonce and the fixed layout
//
//	nonce(16) || tag(16) || ciphertext
//
// Previously stored credentials depend on this layout, so it must not change.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/funnelvalue/conversions/internal/infrastructure/config"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes
	NonceSize = 16
	// TagSize is the GCM authentication tag length in bytes
	TagSize = 16
	// headerSize is the number of bytes in front of the ciphertext
	headerSize = NonceSize + TagSize
)

// Vault errors
var (
	ErrInvalidKey = errors.New("vault: encryption key must be 32 bytes")
	ErrMissingKey = errors.New("vault: encryption key is not configured")
	ErrDecryption = errors.New("vault: decryption failed")
)

// DecryptionError reports a blob that could not be opened or parsed.
// It never carries any part of the plaintext.
type DecryptionError struct {
	Reason string
	Err    error
}

// Error implements the error interface
func (e *DecryptionError) Error() string {
	return "vault: decryption failed: " + e.Reason
}

// Unwrap makes errors.Is(err, ErrDecryption) hold
func (e *DecryptionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecryption}
	}
	return []error{ErrDecryption, e.Err}
}

// Codec seals and opens credential blobs with a process-wide key.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCodec creates a codec from a raw 32 byte key
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}
	return &Codec{aead: aead, rand: rand.Reader}, nil
}

// NewCodecFromHex creates a codec from a 64 character hex key
func NewCodecFromHex(hexKey string) (*Codec, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrMissingKey
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", ErrInvalidKey)
	}
	return NewCodec(key)
}

// NewCodecFromConfig builds the codec from a hex key, or from a passphrase
// and salt when no key is set
func NewCodecFromConfig(cfg config.VaultConfig) (*Codec, error) {
	if strings.TrimSpace(cfg.EncryptionKey) != "" {
		return NewCodecFromHex(cfg.EncryptionKey)
	}
	key, err := DeriveKey(cfg.Passphrase, cfg.Salt)
	if err != nil {
		return nil, err
	}
	return NewCodec(key)
}

// Argon2id parameters for DeriveKey
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
)

// DeriveKey turns an operator passphrase and salt into a 32 byte key with argon2id.
// The salt must be stable or previously sealed blobs become unreadable.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrMissingKey
	}
	if len(salt) < 8 {
		return nil, errors.New("vault: salt must be at least 8 bytes")
	}
	return argon2.IDKey([]byte(passphrase), []byte(salt), argonTime, argonMemory, argonThreads, KeySize), nil
}

// Encrypt serializes plain to JSON and seals it with a fresh random nonce
func (c *Codec) Encrypt(plain any) ([]byte, error) {
	data, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("vault: serialize: %w", err)
	}
	return c.Seal(data)
}

// Seal encrypts raw bytes into the nonce || tag || ciphertext layout
func (c *Codec) Seal(data []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}

	// GCM appends the tag after the ciphertext
	sealed := c.aead.Seal(nil, nonce, data, nil)
	ctLen := len(sealed) - TagSize

	blob := make([]byte, 0, headerSize+ctLen)
	blob = append(blob, nonce...)
	blob = append(blob, sealed[ctLen:]...)
	blob = append(blob, sealed[:ctLen]...)
	return blob, nil
}

// Decrypt opens blob and unmarshals the plaintext JSON into out
func (c *Codec) Decrypt(blob []byte, out any) error {
	data, err := c.Open(blob)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		// the json error can quote plaintext, keep only its type
		return &DecryptionError{Reason: fmt.Sprintf("plaintext is not the expected structure (%T)", err)}
	}
	return nil
}

// Open verifies and decrypts a blob, returning the raw plaintext
func (c *Codec) Open(blob []byte) ([]byte, error) {
	if len(blob) < headerSize {
		return nil, &DecryptionError{Reason: fmt.Sprintf("blob too short: %d bytes", len(blob))}
	}
	nonce := blob[:NonceSize]
	tag := blob[NonceSize:headerSize]
	ciphertext := blob[headerSize:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	data, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return data, nil
}
