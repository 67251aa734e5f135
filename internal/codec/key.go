// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package codec

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// masterKeySize is the size of the generated master key in bytes.
const masterKeySize = 32

// ErrInvalidKeyFile is returned when the key file exists but does not
// contain a usable master key.
var ErrInvalidKeyFile = errors.New("invalid master key file")

// LoadOrCreateKey returns the master key stored at path, generating and
// persisting a fresh one when no file exists yet. The file holds the
// key hex-encoded, is created with 0600 permissions, and must live
// outside the source tree. Key material is never logged.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return parseKeyFile(data)
	case errors.Is(err, os.ErrNotExist):
		return generateKeyFile(path)
	default:
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
}

func parseKeyFile(data []byte) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeyFile, err)
	}
	if len(key) != masterKeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKeyFile, len(key), masterKeySize)
	}
	return key, nil
}

func generateKeyFile(path string) ([]byte, error) {
	key := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist master key: %w", err)
	}

	return key, nil
}
