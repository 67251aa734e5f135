// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package recorder persists the movement timeline with DuckDB. Every
// processed packet, anomalous or not, becomes exactly one append-only
// row; invalid packets are kept too, marked rejected, so the audit
// trail has no silent gaps.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/perimetra/internal/logging"
)

// ErrRecorderUnavailable is returned when the durable store cannot
// accept a row. Fatal for the packet being processed: the pipeline
// never fabricates a fake success.
var ErrRecorderUnavailable = errors.New("event recorder unavailable")

// Status marks how a packet ended up in the timeline.
type Status string

const (
	// StatusRecorded is a fully processed packet.
	StatusRecorded Status = "recorded"

	// StatusRejected is a packet that failed feature extraction and was
	// excluded from scoring but kept for auditability.
	StatusRejected Status = "rejected"
)

// LogEntry is one durable row of the movement timeline.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Zone      string    `json:"zone"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`

	SpeedKmph           float64 `json:"speed_kmph"`
	TurnAngleDegrees    float64 `json:"turn_angle_deg"`
	AngularVelocity     float64 `json:"angular_velocity"`
	ZeroIntervalFloored bool    `json:"zero_interval_floored"`

	Anomalous bool    `json:"anomalous"`
	RiskScore float64 `json:"risk_score"`

	// Alert artifacts, present only for anomalous packets. AnchorID and
	// BlobID stay empty when anchoring or blob storage was unavailable;
	// that is a valid state.
	AlertTokenHex string `json:"alert_token_hex,omitempty"`
	BlobID        string `json:"blob_id,omitempty"`
	AnchorID      string `json:"anchor_id,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes the timeline for operators.
type Stats struct {
	TotalEntries int64 `json:"total_entries"`
	Anomalies    int64 `json:"anomalies"`
	Rejected     int64 `json:"rejected"`
	Anchored     int64 `json:"anchored"`
}

// Store is the DuckDB-backed recorder. Concurrent Record calls are
// serialized with an internal mutex so rows never interleave.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the movement log database at path
// and ensures the schema exists. Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open movement log database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to movement log database: %w", err)
	}

	store := &Store{db: db}
	if err := store.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle; the caller keeps
// ownership of the handle's lifecycle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// createSchema creates the movement_logs table and indexes. The schema
// is fixed and additive-only.
func (s *Store) createSchema(ctx context.Context) error {
	schema := `
		CREATE SEQUENCE IF NOT EXISTS movement_logs_id_seq;

		CREATE TABLE IF NOT EXISTS movement_logs (
			id BIGINT PRIMARY KEY DEFAULT nextval('movement_logs_id_seq'),
			timestamp TIMESTAMPTZ NOT NULL,
			zone TEXT NOT NULL,
			latitude DOUBLE NOT NULL DEFAULT 0,
			longitude DOUBLE NOT NULL DEFAULT 0,
			speed_kmph DOUBLE NOT NULL DEFAULT 0,
			turn_angle_deg DOUBLE NOT NULL DEFAULT 0,
			angular_velocity DOUBLE NOT NULL DEFAULT 0,
			zero_interval_floored BOOLEAN NOT NULL DEFAULT false,
			anomaly BOOLEAN NOT NULL DEFAULT false,
			risk_score DOUBLE NOT NULL DEFAULT 0,
			alert_token_hex TEXT,
			blob_id TEXT,
			anchor_id TEXT,
			status TEXT NOT NULL DEFAULT 'recorded',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_movement_logs_timestamp ON movement_logs(timestamp);
		CREATE INDEX IF NOT EXISTS idx_movement_logs_zone ON movement_logs(zone);
		CREATE INDEX IF NOT EXISTS idx_movement_logs_anomaly ON movement_logs(anomaly)
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Debug().Msg("movement_logs schema created/verified")
	return nil
}

// Record inserts one row and returns its surrogate id. Append-only:
// there is no dedup key, every call inserts.
func (s *Store) Record(ctx context.Context, entry *LogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := entry.Status
	if status == "" {
		status = StatusRecorded
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO movement_logs (
			timestamp, zone, latitude, longitude,
			speed_kmph, turn_angle_deg, angular_velocity, zero_interval_floored,
			anomaly, risk_score, alert_token_hex, blob_id, anchor_id, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		entry.Timestamp, entry.Zone, entry.Latitude, entry.Longitude,
		entry.SpeedKmph, entry.TurnAngleDegrees, entry.AngularVelocity, entry.ZeroIntervalFloored,
		entry.Anomalous, entry.RiskScore,
		nullableString(entry.AlertTokenHex), nullableString(entry.BlobID), nullableString(entry.AnchorID),
		string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRecorderUnavailable, err)
	}

	return id, nil
}

// ListRecent returns the newest entries, most recent first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, zone, latitude, longitude,
		       speed_kmph, turn_angle_deg, angular_velocity, zero_interval_floored,
		       anomaly, risk_score, alert_token_hex, blob_id, anchor_id, status, created_at
		FROM movement_logs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query movement logs: %w", err)
	}
	defer rows.Close()

	entries := make([]LogEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movement logs: %w", err)
	}

	return entries, nil
}

// GetStats returns timeline counters.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE anomaly),
		       COUNT(*) FILTER (WHERE status = 'rejected'),
		       COUNT(*) FILTER (WHERE anchor_id IS NOT NULL)
		FROM movement_logs`,
	).Scan(&stats.TotalEntries, &stats.Anomalies, &stats.Rejected, &stats.Anchored)
	if err != nil {
		return nil, fmt.Errorf("failed to query movement log stats: %w", err)
	}
	return &stats, nil
}

// Ping reports whether the store can accept rows.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRecorderUnavailable, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanEntry reads one row from a movement_logs SELECT.
func scanEntry(rows *sql.Rows) (LogEntry, error) {
	var entry LogEntry
	var token, blobID, anchorID sql.NullString
	var status string

	err := rows.Scan(
		&entry.ID, &entry.Timestamp, &entry.Zone, &entry.Latitude, &entry.Longitude,
		&entry.SpeedKmph, &entry.TurnAngleDegrees, &entry.AngularVelocity, &entry.ZeroIntervalFloored,
		&entry.Anomalous, &entry.RiskScore, &token, &blobID, &anchorID, &status, &entry.CreatedAt,
	)
	if err != nil {
		return LogEntry{}, fmt.Errorf("failed to scan movement log row: %w", err)
	}

	entry.AlertTokenHex = token.String
	entry.BlobID = blobID.String
	entry.AnchorID = anchorID.String
	entry.Status = Status(status)
	return entry, nil
}

// nullableString maps empty strings to SQL NULL.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
