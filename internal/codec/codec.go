// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// keyDerivationSalt binds derived keys to the alert codec use case.
	keyDerivationSalt = "perimetra-alert-codec"

	// keyDerivationInfo is the HKDF info parameter for key derivation.
	keyDerivationInfo = "alert-encryption-v1"

	// aesKeySize is the size of the AES key in bytes (256 bits).
	aesKeySize = 32

	// gcmNonceSize is the size of the GCM nonce in bytes.
	gcmNonceSize = 12
)

var (
	// ErrDecryptionFailed is returned when a token fails authenticated
	// decryption: tampered ciphertext or a wrong key.
	ErrDecryptionFailed = errors.New("alert token decryption failed")

	// ErrMalformedPayload is returned when a token decrypts cleanly but
	// the plaintext is not a valid canonical alert encoding.
	ErrMalformedPayload = errors.New("malformed alert payload")

	// ErrTokenTooShort is returned when a token is shorter than a nonce
	// plus authentication tag.
	ErrTokenTooShort = errors.New("alert token too short")

	// ErrInvalidTokenHex is returned for hex strings that do not decode.
	ErrInvalidTokenHex = errors.New("invalid alert token hex")
)

// Codec encrypts and decrypts alert records. The master key is loaded
// once at startup and treated as immutable for the process lifetime, so
// a Codec is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New creates a codec from the process master key. The AES key is
// derived from the master key with HKDF-SHA256 so the raw key material
// on disk is never used directly as a cipher key.
func New(masterKey []byte) (*Codec, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("master key cannot be empty")
	}

	hkdfReader := hkdf.New(sha256.New, masterKey, []byte(keyDerivationSalt), []byte(keyDerivationInfo))
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Codec{aead: gcm}, nil
}

// Encode serializes the record to canonical bytes and encrypts them.
// The returned token is nonce || ciphertext || tag.
func (c *Codec) Encode(record AlertRecord) ([]byte, error) {
	plaintext, err := CanonicalBytes(record)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decode decrypts a token and parses the canonical plaintext. It fails
// with ErrDecryptionFailed on tampering or a wrong key, and with
// ErrMalformedPayload when the decrypted bytes are not a canonical
// alert encoding.
func (c *Codec) Decode(token []byte) (AlertRecord, error) {
	minLength := gcmNonceSize + c.aead.Overhead()
	if len(token) < minLength {
		return AlertRecord{}, ErrTokenTooShort
	}

	nonce := token[:gcmNonceSize]
	ciphertext := token[gcmNonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return AlertRecord{}, ErrDecryptionFailed
	}

	return parseCanonical(plaintext)
}

// TokenHex renders a token in its external lowercase hex form.
func TokenHex(token []byte) string {
	return hex.EncodeToString(token)
}

// ParseTokenHex decodes the external hex form back to raw token bytes.
func ParseTokenHex(tokenHex string) ([]byte, error) {
	token, err := hex.DecodeString(tokenHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTokenHex, err)
	}
	return token, nil
}
