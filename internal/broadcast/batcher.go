// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package broadcast

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/metrics"
	"github.com/arcspark/arclight/internal/models"
)

// Dispatcher receives a fully serialized batch payload for fan-out.
// The Hub implements this; tests substitute a recorder.
type Dispatcher interface {
	Dispatch(payload []byte)
}

// BatcherConfig holds the two batch-closing triggers.
type BatcherConfig struct {
	// Window is the maximum age of an open batch before it is dispatched.
	Window time.Duration
	// MaxBatchSize dispatches the batch early once this many events are
	// buffered, bounding per-message payload size during attack bursts.
	MaxBatchSize int
}

// Batcher accumulates enriched events and dispatches them as sequenced
// batches. A batch closes when its age reaches Window or its size reaches
// MaxBatchSize, whichever comes first. Events keep their arrival order
// within and across batches, and each batch is serialized exactly once no
// matter how many subscribers receive it.
type Batcher struct {
	mu       sync.Mutex
	events   []models.EnrichedEvent
	openedAt time.Time
	seq      uint64

	window   time.Duration
	maxSize  int
	rate     *RateController
	dispatch Dispatcher
	logger   zerolog.Logger
}

// NewBatcher wires a batcher to its rate controller and dispatcher.
func NewBatcher(cfg BatcherConfig, rate *RateController, dispatcher Dispatcher) *Batcher {
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	maxSize := cfg.MaxBatchSize
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Batcher{
		events:   make([]models.EnrichedEvent, 0, maxSize),
		window:   window,
		maxSize:  maxSize,
		rate:     rate,
		dispatch: dispatcher,
		logger:   logging.With().Str("component", "batcher").Logger(),
	}
}

// SetLimits replaces the window and size cap at runtime. The new limits
// apply from the next batch-closing decision.
func (b *Batcher) SetLimits(window time.Duration, maxSize int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if window > 0 {
		b.window = window
	}
	if maxSize > 0 {
		b.maxSize = maxSize
	}
}

// Add offers one enriched event to the open batch. The rate controller sees
// every arrival; events it sheds are counted and discarded, all others are
// appended in arrival order. A batch that reaches the size cap is dispatched
// immediately.
func (b *Batcher) Add(event models.EnrichedEvent) {
	if b.rate != nil && !b.rate.Admit() {
		metrics.EventsShed.Inc()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		b.openedAt = time.Now()
	}
	b.events = append(b.events, event)

	if len(b.events) >= b.maxSize {
		b.dispatchLocked()
	}
}

// Flush dispatches whatever is buffered, regardless of age or size.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatchLocked()
}

// Serve runs the window timer until ctx is cancelled, then performs a final
// flush so buffered events are dispatched rather than dropped on shutdown.
// It satisfies suture.Service.
func (b *Batcher) Serve(ctx context.Context) error {
	for {
		// Re-derive the poll interval each cycle so a SetLimits window
		// change takes effect without restarting the service. The upper
		// clamp bounds how long a shrunken window can go unnoticed.
		b.mu.Lock()
		tick := b.window / 5
		b.mu.Unlock()
		if tick < 10*time.Millisecond {
			tick = 10 * time.Millisecond
		}
		if tick > time.Second {
			tick = time.Second
		}

		timer := time.NewTimer(tick)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.Flush()
			b.logger.Info().Msg("Batcher drained and stopped")
			return ctx.Err()
		case <-timer.C:
			b.flushExpired()
		}
	}
}

// flushExpired dispatches the open batch once it is older than the window.
func (b *Batcher) flushExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return
	}
	if time.Since(b.openedAt) >= b.window {
		b.dispatchLocked()
	}
}

// dispatchLocked seals the open batch, serializes it once, and hands the
// payload to the dispatcher. Empty batches are never dispatched. Must hold mu.
func (b *Batcher) dispatchLocked() {
	if len(b.events) == 0 {
		return
	}

	b.seq++
	batch := models.Batch{
		Type:     models.BatchMessageType,
		Sequence: b.seq,
		Count:    len(b.events),
		Events:   b.events,
	}

	payload, err := json.Marshal(&batch)
	if err != nil {
		// Marshal of our own model failing indicates a programming error;
		// log and drop rather than stall the pipeline.
		b.logger.Error().Err(err).Uint64("seq", b.seq).Msg("Failed to serialize batch")
		b.events = b.events[:0]
		return
	}

	metrics.BatchesDispatched.Inc()
	metrics.BatchSize.Observe(float64(len(b.events)))

	b.events = make([]models.EnrichedEvent, 0, b.maxSize)
	b.dispatch.Dispatch(payload)
}
