// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package codec serializes anomaly alerts into a canonical byte
// encoding and encrypts them with authenticated symmetric encryption.
//
// Encryption algorithm:
//   - AES-256-GCM (authenticated encryption)
//   - 12-byte random nonce per token, prepended to the ciphertext
//   - AES key derived from the process master key using HKDF-SHA256
//
// The canonical plaintext form is deterministic: equal records always
// produce byte-identical canonical encodings, which makes dedup and
// round-trip testing possible. Tokens themselves are not deterministic
// because each carries a fresh nonce. Externally tokens travel as
// lowercase hex; the codec operates on raw bytes.
package codec

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// AlertRecord is the plaintext content of an encrypted alert. Field
// order is the canonical key order of the serialized form; do not
// reorder.
type AlertRecord struct {
	// Timestamp is the source representation of the packet timestamp,
	// preserved verbatim so decrypted alerts match the ingested feed.
	Timestamp string  `json:"timestamp"`
	Zone      string  `json:"zone"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	SpeedKmph float64 `json:"speed"`
	RiskScore float64 `json:"score"`
}

// CanonicalBytes returns the deterministic canonical encoding of the
// record.
func CanonicalBytes(record AlertRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert record: %w", err)
	}
	return data, nil
}

// parseCanonical decodes canonical bytes back into an AlertRecord,
// rejecting payloads that are not a JSON object in canonical form.
func parseCanonical(data []byte) (AlertRecord, error) {
	var record AlertRecord
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&record); err != nil {
		return AlertRecord{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return record, nil
}
