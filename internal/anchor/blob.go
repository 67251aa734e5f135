// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package anchor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// HTTPBlobStoreConfig configures the HTTP blob store client.
type HTTPBlobStoreConfig struct {
	// URL is the store's put endpoint.
	URL string `json:"url"`

	// Timeout bounds one upload.
	Timeout time.Duration `json:"timeout"`
}

// putResponse is the store's confirmation carrying the content
// identifier derived from the uploaded bytes.
type putResponse struct {
	ContentID string `json:"content_id"`
}

// HTTPBlobStore uploads encrypted tokens to a content-addressable
// store over HTTP.
type HTTPBlobStore struct {
	url    string
	client *http.Client
}

// NewHTTPBlobStore creates an HTTP blob store client.
func NewHTTPBlobStore(cfg HTTPBlobStoreConfig) *HTTPBlobStore {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPBlobStore{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Put uploads raw bytes and returns the store's content identifier.
func (s *HTTPBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create blob request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("blob store returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read blob response: %w", err)
	}

	var confirmation putResponse
	if err := json.Unmarshal(body, &confirmation); err != nil {
		return "", fmt.Errorf("failed to parse blob response: %w", err)
	}
	if confirmation.ContentID == "" {
		return "", fmt.Errorf("blob confirmation missing content id")
	}

	return confirmation.ContentID, nil
}
