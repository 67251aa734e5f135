// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package api exposes the HTTP surface of the movement pipeline:
// packet ingestion, the recorded timeline, alert decryption for
// operators holding the master key, health probes, and Prometheus
// metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the HTTP middleware stack.
type RouterConfig struct {
	// RateLimitReqs per RateLimitWindow per client IP; <= 0 disables
	// rate limiting.
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// DefaultRouterConfig returns the default middleware settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	}
}

// NewRouter builds the Chi router over the given handler.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitReqs > 0 {
			window := cfg.RateLimitWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.Limit(cfg.RateLimitReqs, window, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}

		r.Post("/packets", h.IngestPacket)
		r.Get("/logs", h.ListLogs)
		r.Get("/logs/stats", h.LogStats)
		r.Post("/alerts/decrypt", h.DecryptAlert)

		r.Get("/health/live", h.HealthLive)
		r.Get("/health/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
