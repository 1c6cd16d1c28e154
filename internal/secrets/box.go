package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Placeholder is the sentinel returned in place of a stored secret. A caller
// writing the placeholder back is asking to keep the stored value unchanged.
const Placeholder = "••••••••"

var (
	ErrInvalidKey    = errors.New("credential key must be 32 bytes of hex")
	ErrSealedTooShort = errors.New("sealed value too short")
	ErrOpenFailed    = errors.New("failed to open sealed value")
)

// Box seals and opens secret values with a symmetric key so credentials are
// never stored in plaintext.
type Box struct {
	key [32]byte
}

// NewBox creates a Box from a 64-character hex key.
func NewBox(hexKey string) (*Box, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	box := &Box{}
	copy(box.key[:], raw)
	return box, nil
}

// Seal encrypts a plaintext secret into a base64 value safe for storage.
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}
	if len(raw) < 24 {
		return "", ErrSealedTooShort
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plaintext, ok := secretbox.Open(nil, raw[24:], &nonce, &b.key)
	if !ok {
		return "", ErrOpenFailed
	}
	return string(plaintext), nil
}

// IsPlaceholder reports whether a wire value is the untouched secret sentinel.
func IsPlaceholder(v string) bool {
	return v == Placeholder
}
