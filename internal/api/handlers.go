// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/perimetra/internal/codec"
	"github.com/tomtom215/perimetra/internal/metrics"
	"github.com/tomtom215/perimetra/internal/pipeline"
	"github.com/tomtom215/perimetra/internal/recorder"
)

// maxBodyBytes bounds request bodies; packets and tokens are small.
const maxBodyBytes = 64 << 10

// Submitter accepts packets for asynchronous processing.
type Submitter interface {
	Submit(ctx context.Context, pkt pipeline.Packet) error
}

// LogStore reads the recorded movement timeline.
type LogStore interface {
	ListRecent(ctx context.Context, limit int) ([]recorder.LogEntry, error)
	GetStats(ctx context.Context) (*recorder.Stats, error)
	Ping(ctx context.Context) error
}

// Handler implements the API endpoints.
type Handler struct {
	submitter Submitter
	store     LogStore
	codec     *codec.Codec

	// ledgerState reports the anchor circuit breaker state for the
	// readiness payload; nil when anchoring is disabled.
	ledgerState func() string
}

// NewHandler creates the API handler. ledgerState may be nil.
func NewHandler(submitter Submitter, store LogStore, cdc *codec.Codec, ledgerState func() string) *Handler {
	return &Handler{
		submitter:   submitter,
		store:       store,
		codec:       cdc,
		ledgerState: ledgerState,
	}
}

// ingestResponse acknowledges an accepted packet.
type ingestResponse struct {
	ID   string `json:"id"`
	Zone string `json:"zone"`
}

// IngestPacket accepts one movement packet for processing.
// Processing is asynchronous: a 202 means the packet was queued for its
// trajectory worker, not that it was scored.
func (h *Handler) IngestPacket(w http.ResponseWriter, r *http.Request) {
	var pkt pipeline.Packet
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&pkt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid packet body: "+err.Error())
		return
	}

	if pkt.Zone == "" {
		writeError(w, http.StatusBadRequest, "zone is required")
		return
	}
	if pkt.Timestamp.IsZero() {
		writeError(w, http.StatusBadRequest, "timestamp is required")
		return
	}
	if pkt.ID == "" {
		pkt.ID = uuid.NewString()
	}

	if err := h.submitter.Submit(r.Context(), pkt); err != nil {
		if errors.Is(err, pipeline.ErrDispatcherStopped) {
			writeError(w, http.StatusServiceUnavailable, "pipeline is not accepting packets")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to queue packet")
		return
	}

	metrics.FeedPackets.WithLabelValues("http").Inc()
	writeJSON(w, http.StatusAccepted, ingestResponse{ID: pkt.ID, Zone: pkt.Zone})
}

// logsResponse wraps the timeline listing.
type logsResponse struct {
	Entries []recorder.LogEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// ListLogs returns the newest timeline entries.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	entries, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read movement logs")
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{Entries: entries, Count: len(entries)})
}

// LogStats returns timeline counters.
func (h *Handler) LogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read movement log stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decryptRequest carries an alert token in its external hex form.
type decryptRequest struct {
	TokenHex string `json:"token_hex"`
}

// decryptResponse is the recovered alert plaintext.
type decryptResponse struct {
	Alert codec.AlertRecord `json:"alert"`
}

// DecryptAlert decrypts an alert token for an operator. The process
// master key does the decryption; the token itself grants nothing.
func (h *Handler) DecryptAlert(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TokenHex == "" {
		writeError(w, http.StatusBadRequest, "token_hex is required")
		return
	}

	token, err := codec.ParseTokenHex(req.TokenHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token_hex is not valid hex")
		return
	}

	record, err := h.codec.Decode(token)
	if err != nil {
		switch {
		case errors.Is(err, codec.ErrTokenTooShort), errors.Is(err, codec.ErrMalformedPayload):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusUnprocessableEntity, "token failed authenticated decryption")
		}
		return
	}

	writeJSON(w, http.StatusOK, decryptResponse{Alert: record})
}

// healthResponse is the body of both health probes.
type healthResponse struct {
	Status string `json:"status"`
	Anchor string `json:"anchor,omitempty"`
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "alive"})
}

// HealthReady reports readiness: the recorder must accept rows. The
// anchor breaker state is informational; an open breaker does not fail
// readiness because anchoring is best-effort.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ready"}
	if h.ledgerState != nil {
		resp.Anchor = h.ledgerState()
	}

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
