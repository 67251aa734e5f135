// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package anchor gives encrypted alerts an externally verifiable
// integrity anchor. It hashes the encrypted token (never the
// plaintext), optionally stores the token in a content-addressable blob
// store, and submits the digest to an external append-only ledger for a
// receipt.
//
// Anchoring is best-effort by contract: a dead ledger yields
// ErrAnchorUnavailable and the caller records the packet without an
// anchor. No retries happen here; retry policy belongs to the caller.
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/perimetra/internal/logging"
	"github.com/tomtom215/perimetra/internal/metrics"
)

// ErrAnchorUnavailable is returned when the ledger rejects, fails, or
// times out on a submission. Non-fatal: alert durability never depends
// on anchoring.
var ErrAnchorUnavailable = errors.New("integrity anchor unavailable")

// Ledger is the external append-only ledger contract. Submit is
// synchronous and may fail or time out; cancellation comes from the
// caller's context.
type Ledger interface {
	Submit(ctx context.Context, digest [sha256.Size]byte, auxRef string, unixTime int64) (receiptID string, err error)
}

// BlobStore is the optional content-addressable store contract.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (contentID string, err error)
}

// Receipt is the proof returned for one anchored alert. Created once,
// never mutated; absence of a receipt is a valid state.
type Receipt struct {
	IntegrityHash [sha256.Size]byte
	BlobID        string
	AnchorID      string
	AnchoredAt    time.Time
}

// HashHex returns the integrity hash in lowercase hex.
func (r *Receipt) HashHex() string {
	return hex.EncodeToString(r.IntegrityHash[:])
}

// Client anchors encrypted alert tokens.
type Client struct {
	ledger Ledger
	blobs  BlobStore // nil when no blob store is configured
	now    func() time.Time
}

// NewClient creates an anchor client. blobs may be nil.
func NewClient(ledger Ledger, blobs BlobStore) *Client {
	return &Client{
		ledger: ledger,
		blobs:  blobs,
		now:    time.Now,
	}
}

// Anchor hashes the token, attempts the optional blob upload, and
// submits the digest to the ledger. Blob failures are tolerated and the
// anchor proceeds without a blob reference; ledger failures surface as
// ErrAnchorUnavailable.
func (c *Client) Anchor(ctx context.Context, token []byte) (*Receipt, error) {
	digest := sha256.Sum256(token)

	var blobID string
	if c.blobs != nil {
		id, err := c.blobs.Put(ctx, token)
		if err != nil {
			// Blob storage is off the critical path.
			metrics.BlobUploads.WithLabelValues("failed").Inc()
			logger := logging.Ctx(ctx)
			logger.Warn().Err(err).Msg("blob store put failed, anchoring without blob reference")
		} else {
			metrics.BlobUploads.WithLabelValues("stored").Inc()
			blobID = id
		}
	}

	anchoredAt := c.now()
	anchorID, err := c.ledger.Submit(ctx, digest, blobID, anchoredAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnchorUnavailable, err)
	}

	return &Receipt{
		IntegrityHash: digest,
		BlobID:        blobID,
		AnchorID:      anchorID,
		AnchoredAt:    anchoredAt,
	}, nil
}
