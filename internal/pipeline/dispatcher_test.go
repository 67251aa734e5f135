// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/perimetra/internal/scoring"
)

func startDispatcher(t *testing.T, store Recorder) (*Dispatcher, context.CancelFunc) {
	t.Helper()

	classifier := scoring.NewClassifier(&speedScorer{maxSpeedKmph: 100})
	proc := NewProcessor(classifier, testCodec(t), nil, store)
	d := NewDispatcher(proc, DefaultDispatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.serving
	}, time.Second, time.Millisecond)

	return d, cancel
}

func TestSubmitBeforeServeFails(t *testing.T) {
	classifier := scoring.NewClassifier(&speedScorer{maxSpeedKmph: 100})
	proc := NewProcessor(classifier, testCodec(t), nil, &fakeRecorder{})
	d := NewDispatcher(proc, DefaultDispatcherConfig())

	err := d.Submit(context.Background(), walkPacket(time.Now().UTC(), 1, 1))
	assert.ErrorIs(t, err, ErrDispatcherStopped)
}

func TestSubmitRequiresZone(t *testing.T) {
	d, _ := startDispatcher(t, &fakeRecorder{})

	pkt := walkPacket(time.Now().UTC(), 1, 1)
	pkt.Zone = ""
	assert.Error(t, d.Submit(context.Background(), pkt))
}

func TestTrajectoryProcessedInSubmissionOrder(t *testing.T) {
	store := &fakeRecorder{}
	d, _ := startDispatcher(t, store)

	base := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	const n = 20
	for i := 0; i < n; i++ {
		pkt := walkPacket(base.Add(time.Duration(i)*time.Minute), 12.9340+float64(i)*0.0001, 77.5120)
		pkt.ID = fmt.Sprintf("pkt-%03d", i)
		require.NoError(t, d.Submit(context.Background(), pkt))
	}

	require.Eventually(t, func() bool {
		return len(store.all()) == n
	}, 5*time.Second, 5*time.Millisecond)

	entries := store.all()
	for i := 1; i < n; i++ {
		assert.True(t, entries[i].Timestamp.After(entries[i-1].Timestamp),
			"entry %d out of order", i)
	}
}

func TestZonesProcessedIndependently(t *testing.T) {
	store := &fakeRecorder{}
	d, _ := startDispatcher(t, store)

	base := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	zones := []string{"Zone_A", "Zone_B", "Zone_C"}
	for i := 0; i < 10; i++ {
		for _, zone := range zones {
			pkt := walkPacket(base.Add(time.Duration(i)*time.Second), 12.9340, 77.5120)
			pkt.ID = fmt.Sprintf("%s-%d", zone, i)
			pkt.Zone = zone
			require.NoError(t, d.Submit(context.Background(), pkt))
		}
	}

	require.Eventually(t, func() bool {
		return len(store.all()) == 30
	}, 5*time.Second, 5*time.Millisecond)

	perZone := make(map[string]int)
	for _, entry := range store.all() {
		perZone[entry.Zone]++
	}
	for _, zone := range zones {
		assert.Equal(t, 10, perZone[zone])
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	d, cancel := startDispatcher(t, &fakeRecorder{})

	cancel()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return !d.serving
	}, time.Second, time.Millisecond)

	err := d.Submit(context.Background(), walkPacket(time.Now().UTC(), 1, 1))
	assert.ErrorIs(t, err, ErrDispatcherStopped)
}
