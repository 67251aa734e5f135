// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package anchor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// HTTPLedgerConfig configures the HTTP ledger client.
type HTTPLedgerConfig struct {
	// URL is the ledger's submit endpoint.
	URL string `json:"url"`

	// Timeout bounds one submission, connection included.
	Timeout time.Duration `json:"timeout"`

	// FailureThreshold is the number of consecutive failures before the
	// circuit opens and submissions fail fast.
	FailureThreshold uint32 `json:"failure_threshold"`

	// OpenTimeout is how long the circuit stays open before probing the
	// ledger again.
	OpenTimeout time.Duration `json:"open_timeout"`
}

// DefaultHTTPLedgerConfig returns sensible defaults.
func DefaultHTTPLedgerConfig() HTTPLedgerConfig {
	return HTTPLedgerConfig{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// submitRequest is the wire form of a ledger submission.
type submitRequest struct {
	IntegrityHash string `json:"integrity_hash"`
	AuxRef        string `json:"aux_ref"`
	UnixTime      int64  `json:"unix_time"`
}

// submitResponse is the ledger's confirmation.
type submitResponse struct {
	ReceiptID string `json:"receipt_id"`
}

// HTTPLedger submits integrity hashes to an HTTP ledger endpoint. A
// circuit breaker fails submissions fast while the ledger is down so
// packet processing is not held up by repeated timeouts.
type HTTPLedger struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

// NewHTTPLedger creates an HTTP ledger client.
func NewHTTPLedger(cfg HTTPLedgerConfig) *HTTPLedger {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "anchor-ledger",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})

	return &HTTPLedger{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

// Submit posts (hash, auxRef, unixTime) to the ledger and waits for the
// synchronous receipt.
func (l *HTTPLedger) Submit(ctx context.Context, digest [sha256.Size]byte, auxRef string, unixTime int64) (string, error) {
	return l.breaker.Execute(func() (string, error) {
		return l.submit(ctx, digest, auxRef, unixTime)
	})
}

func (l *HTTPLedger) submit(ctx context.Context, digest [sha256.Size]byte, auxRef string, unixTime int64) (string, error) {
	body, err := json.Marshal(submitRequest{
		IntegrityHash: hex.EncodeToString(digest[:]),
		AuxRef:        auxRef,
		UnixTime:      unixTime,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read ledger response: %w", err)
	}

	var confirmation submitResponse
	if err := json.Unmarshal(data, &confirmation); err != nil {
		return "", fmt.Errorf("failed to parse ledger response: %w", err)
	}
	if confirmation.ReceiptID == "" {
		return "", fmt.Errorf("ledger confirmation missing receipt id")
	}

	return confirmation.ReceiptID, nil
}

// State reports the circuit breaker state for health checks.
func (l *HTTPLedger) State() string {
	return l.breaker.State().String()
}
