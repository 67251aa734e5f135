// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/perimetra/internal/codec"
	"github.com/tomtom215/perimetra/internal/pipeline"
	"github.com/tomtom215/perimetra/internal/recorder"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	packets []pipeline.Packet
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, pkt pipeline.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.packets = append(f.packets, pkt)
	return nil
}

type fakeLogStore struct {
	entries []recorder.LogEntry
	stats   recorder.Stats
	pingErr error
	listErr error
}

func (f *fakeLogStore) ListRecent(_ context.Context, _ int) ([]recorder.LogEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entries, nil
}

func (f *fakeLogStore) GetStats(_ context.Context) (*recorder.Stats, error) {
	return &f.stats, nil
}

func (f *fakeLogStore) Ping(_ context.Context) error {
	return f.pingErr
}

func testMasterKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func newTestRouter(t *testing.T, submitter Submitter, store LogStore, ledgerState func() string) http.Handler {
	t.Helper()
	cdc, err := codec.New(testMasterKey())
	require.NoError(t, err)
	handler := NewHandler(submitter, store, cdc, ledgerState)
	return NewRouter(handler, DefaultRouterConfig())
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngestPacketAccepted(t *testing.T) {
	submitter := &fakeSubmitter{}
	router := newTestRouter(t, submitter, &fakeLogStore{}, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/packets", map[string]interface{}{
		"timestamp": time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC),
		"latitude":  12.934,
		"longitude": 77.512,
		"zone":      "Zone_A",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "Zone_A", resp.Zone)

	require.Len(t, submitter.packets, 1)
	assert.Equal(t, resp.ID, submitter.packets[0].ID)
}

func TestIngestPacketValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing zone", map[string]interface{}{
			"timestamp": time.Now().UTC(), "latitude": 1.0, "longitude": 1.0,
		}},
		{"missing timestamp", map[string]interface{}{
			"zone": "Zone_A", "latitude": 1.0, "longitude": 1.0,
		}},
		{"unknown field", map[string]interface{}{
			"timestamp": time.Now().UTC(), "zone": "Zone_A", "velocity": 99,
		}},
	}

	router := newTestRouter(t, &fakeSubmitter{}, &fakeLogStore{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/packets", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestIngestPacketPipelineStopped(t *testing.T) {
	submitter := &fakeSubmitter{err: pipeline.ErrDispatcherStopped}
	router := newTestRouter(t, submitter, &fakeLogStore{}, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/packets", map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"zone":      "Zone_A",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListLogs(t *testing.T) {
	store := &fakeLogStore{entries: []recorder.LogEntry{
		{ID: 2, Zone: "Zone_A", Anomalous: true},
		{ID: 1, Zone: "Zone_A"},
	}}
	router := newTestRouter(t, &fakeSubmitter{}, store, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/logs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(2), resp.Entries[0].ID)
}

func TestListLogsBadLimit(t *testing.T) {
	router := newTestRouter(t, &fakeSubmitter{}, &fakeLogStore{}, nil)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/logs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListLogsStoreFailure(t *testing.T) {
	store := &fakeLogStore{listErr: errors.New("db gone")}
	router := newTestRouter(t, &fakeSubmitter{}, store, nil)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/logs", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLogStats(t *testing.T) {
	store := &fakeLogStore{stats: recorder.Stats{TotalEntries: 42, Anomalies: 3}}
	router := newTestRouter(t, &fakeSubmitter{}, store, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/logs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats recorder.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(42), stats.TotalEntries)
	assert.Equal(t, int64(3), stats.Anomalies)
}

func TestDecryptAlertRoundTrip(t *testing.T) {
	cdc, err := codec.New(testMasterKey())
	require.NoError(t, err)

	record := codec.AlertRecord{
		Timestamp: "2026-03-14 23:30:10",
		Zone:      "Zone_A",
		Latitude:  12.934,
		Longitude: 77.512,
		SpeedKmph: 180.5,
		RiskScore: -0.8,
	}
	token, err := cdc.Encode(record)
	require.NoError(t, err)

	router := newTestRouter(t, &fakeSubmitter{}, &fakeLogStore{}, nil)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts/decrypt", decryptRequest{
		TokenHex: codec.TokenHex(token),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp decryptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, record, resp.Alert)
}

func TestDecryptAlertFailures(t *testing.T) {
	router := newTestRouter(t, &fakeSubmitter{}, &fakeLogStore{}, nil)

	tests := []struct {
		name     string
		tokenHex string
		status   int
	}{
		{"empty token", "", http.StatusBadRequest},
		{"not hex", "zz-not-hex", http.StatusBadRequest},
		{"too short", "deadbeef", http.StatusUnprocessableEntity},
		{"tampered", "000000000000000000000000deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts/decrypt", decryptRequest{TokenHex: tt.tokenHex})
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(t, &fakeSubmitter{}, &fakeLogStore{}, nil)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReady(t *testing.T) {
	router := newTestRouter(t, &fakeSubmitter{}, &fakeLogStore{}, func() string { return "closed" })
	rec := doJSON(t, router, http.MethodGet, "/api/v1/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "closed", resp.Anchor)
}

func TestHealthReadyRecorderDown(t *testing.T) {
	store := &fakeLogStore{pingErr: recorder.ErrRecorderUnavailable}
	router := newTestRouter(t, &fakeSubmitter{}, store, nil)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	router := newTestRouter(t, &fakeSubmitter{}, &fakeLogStore{}, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/health/live", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, "fixed-id", rec2.Header().Get("X-Request-ID"))
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := newTestRouter(t, &fakeSubmitter{}, &fakeLogStore{}, nil)
	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_requests_total")
}

func TestRateLimitEnforced(t *testing.T) {
	handler := NewHandler(&fakeSubmitter{}, &fakeLogStore{}, mustCodec(t), nil)
	router := NewRouter(handler, RouterConfig{RateLimitReqs: 3, RateLimitWindow: time.Minute})

	var last int
	for i := 0; i < 5; i++ {
		rec := doJSON(t, router, http.MethodGet, "/api/v1/health/live", nil)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func mustCodec(t *testing.T) *codec.Codec {
	t.Helper()
	cdc, err := codec.New(testMasterKey())
	require.NoError(t, err)
	return cdc
}
