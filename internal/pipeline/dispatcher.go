// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/perimetra/internal/geo"
	"github.com/tomtom215/perimetra/internal/logging"
	"github.com/tomtom215/perimetra/internal/metrics"
)

// ErrDispatcherStopped is returned by Submit when the dispatcher is not
// serving.
var ErrDispatcherStopped = errors.New("pipeline dispatcher stopped")

// DefaultQueueSize bounds each trajectory worker's inbox.
const DefaultQueueSize = 256

// DispatcherConfig tunes the trajectory dispatcher.
type DispatcherConfig struct {
	// QueueSize is the per-trajectory inbox capacity. Submit blocks when
	// a trajectory's inbox is full, applying backpressure to the feed.
	QueueSize int `koanf:"queue_size"`
}

// DefaultDispatcherConfig returns the default dispatcher settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{QueueSize: DefaultQueueSize}
}

// Dispatcher fans packets out to one worker goroutine per trajectory.
// Packets for the same zone are processed strictly in submission order;
// distinct zones run concurrently. Workers are started lazily on the
// first packet for a zone and run until the dispatcher stops.
//
// Dispatcher implements suture.Service via Serve.
type Dispatcher struct {
	processor *Processor
	queueSize int

	mu      sync.Mutex
	ctx     context.Context
	workers map[string]chan Packet
	serving bool

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given processor.
func NewDispatcher(processor *Processor, cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		processor: processor,
		queueSize: queueSize,
		workers:   make(map[string]chan Packet),
	}
}

// Serve runs the dispatcher until ctx is cancelled, then waits for all
// trajectory workers to finish their in-flight packet.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.serving = true
	d.mu.Unlock()

	logging.Info().Int("queue_size", d.queueSize).Msg("pipeline dispatcher started")
	<-ctx.Done()

	d.mu.Lock()
	d.serving = false
	d.workers = make(map[string]chan Packet)
	d.mu.Unlock()

	d.wg.Wait()
	logging.Info().Msg("pipeline dispatcher drained")
	return ctx.Err()
}

// Submit enqueues one packet for its trajectory's worker, blocking when
// the worker's inbox is full. Packets without an ID are assigned one.
func (d *Dispatcher) Submit(ctx context.Context, pkt Packet) error {
	if pkt.Zone == "" {
		return fmt.Errorf("packet has no zone")
	}
	if pkt.ID == "" {
		pkt.ID = uuid.NewString()
	}

	d.mu.Lock()
	if !d.serving {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	serveCtx := d.ctx
	ch, ok := d.workers[pkt.Zone]
	if !ok {
		ch = make(chan Packet, d.queueSize)
		d.workers[pkt.Zone] = ch
		d.wg.Add(1)
		go d.runWorker(serveCtx, pkt.Zone, ch)
		metrics.ActiveTrajectories.Inc()
	}
	d.mu.Unlock()

	select {
	case ch <- pkt:
		metrics.TrajectoryQueueDepth.Inc()
		return nil
	case <-serveCtx.Done():
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runWorker is the per-trajectory loop. It owns the trajectory's
// extractor state, so processing within a zone is inherently ordered.
func (d *Dispatcher) runWorker(ctx context.Context, zone string, ch chan Packet) {
	defer d.wg.Done()
	defer metrics.ActiveTrajectories.Dec()

	log := logging.Logger().With().Str("zone", zone).Logger()
	log.Debug().Msg("trajectory worker started")

	var state geo.State
	for {
		select {
		case pkt := <-ch:
			metrics.TrajectoryQueueDepth.Dec()
			if _, err := d.processor.Process(ctx, &state, pkt); err != nil {
				log.Error().
					Str("packet_id", pkt.ID).
					Err(err).
					Msg("packet processing failed")
			}
		case <-ctx.Done():
			log.Debug().Int("dropped", len(ch)).Msg("trajectory worker stopped")
			return
		}
	}
}

// String identifies the dispatcher in supervisor logs.
func (d *Dispatcher) String() string {
	return "pipeline-dispatcher"
}
