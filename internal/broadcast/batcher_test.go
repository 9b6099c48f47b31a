// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/arcspark/arclight/internal/models"
)

// recorder captures dispatched payloads for inspection.
type recorder struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *recorder) Dispatch(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
}

func (r *recorder) batches(t *testing.T) []models.Batch {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Batch, 0, len(r.payloads))
	for _, p := range r.payloads {
		var b models.Batch
		if err := json.Unmarshal(p, &b); err != nil {
			t.Fatalf("Dispatched payload is not a batch: %v", err)
		}
		out = append(out, b)
	}
	return out
}

func event(src string) models.EnrichedEvent {
	return models.EnrichedEvent{
		Timestamp:  time.Now().UTC(),
		SourceIP:   src,
		ThreatType: models.ThreatUnknown,
		Action:     "deny",
	}
}

func TestBatcher_SizeTrigger(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(BatcherConfig{Window: time.Hour, MaxBatchSize: 3}, nil, rec)

	b.Add(event("1.1.1.1"))
	b.Add(event("2.2.2.2"))
	if len(rec.batches(t)) != 0 {
		t.Fatal("Batch dispatched before size cap reached")
	}

	b.Add(event("3.3.3.3"))

	batches := rec.batches(t)
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if batches[0].Count != 3 || len(batches[0].Events) != 3 {
		t.Errorf("Expected count 3, got count=%d events=%d", batches[0].Count, len(batches[0].Events))
	}
	if batches[0].Type != models.BatchMessageType {
		t.Errorf("Expected type %q, got %q", models.BatchMessageType, batches[0].Type)
	}
}

func TestBatcher_PreservesArrivalOrder(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(BatcherConfig{Window: time.Hour, MaxBatchSize: 3}, nil, rec)

	b.Add(event("1.1.1.1"))
	b.Add(event("2.2.2.2"))
	b.Add(event("3.3.3.3"))

	batch := rec.batches(t)[0]
	want := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	for i, src := range want {
		if batch.Events[i].SourceIP != src {
			t.Errorf("Event %d: expected %s, got %s", i, src, batch.Events[i].SourceIP)
		}
	}
}

func TestBatcher_SequenceMonotonic(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(BatcherConfig{Window: time.Hour, MaxBatchSize: 1}, nil, rec)

	for i := 0; i < 5; i++ {
		b.Add(event("1.1.1.1"))
	}

	batches := rec.batches(t)
	if len(batches) != 5 {
		t.Fatalf("Expected 5 batches, got %d", len(batches))
	}
	for i, batch := range batches {
		if batch.Sequence != uint64(i+1) {
			t.Errorf("Batch %d: expected seq %d, got %d", i, i+1, batch.Sequence)
		}
	}
}

func TestBatcher_WindowTrigger(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(BatcherConfig{Window: 50 * time.Millisecond, MaxBatchSize: 100}, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Serve(ctx) }()

	b.Add(event("1.1.1.1"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.batches(t)) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Batch not dispatched within window")
}

func TestBatcher_EmptyBatchNeverDispatched(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(BatcherConfig{Window: 20 * time.Millisecond, MaxBatchSize: 10}, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Serve(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	b.Flush()
	if got := len(rec.batches(t)); got != 0 {
		t.Errorf("Expected no batches for idle batcher, got %d", got)
	}
}

func TestBatcher_FlushOnShutdownDrains(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(BatcherConfig{Window: time.Hour, MaxBatchSize: 100}, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Serve(ctx)
		close(done)
	}()

	b.Add(event("1.1.1.1"))
	b.Add(event("2.2.2.2"))
	cancel()
	<-done

	batches := rec.batches(t)
	if len(batches) != 1 || batches[0].Count != 2 {
		t.Fatalf("Expected one final batch of 2 events, got %+v", batches)
	}
}

func TestBatcher_SetLimitsShrinksSizeCap(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(BatcherConfig{Window: time.Hour, MaxBatchSize: 10}, nil, rec)

	b.Add(event("1.1.1.1"))
	b.Add(event("2.2.2.2"))
	if len(rec.batches(t)) != 0 {
		t.Fatal("Batch dispatched below the original size cap")
	}

	// Shrinking the cap on a running batcher must close the batch on the
	// next event that reaches it.
	b.SetLimits(time.Hour, 3)
	b.Add(event("3.3.3.3"))

	batches := rec.batches(t)
	if len(batches) != 1 || batches[0].Count != 3 {
		t.Fatalf("Expected one batch of 3 under the new cap, got %+v", batches)
	}

	b.SetLimits(time.Hour, 2)
	b.Add(event("4.4.4.4"))
	b.Add(event("5.5.5.5"))

	batches = rec.batches(t)
	if len(batches) != 2 || batches[1].Count != 2 {
		t.Fatalf("Expected a second batch of 2 after shrinking again, got %+v", batches)
	}
}

func TestBatcher_SetLimitsShrinksWindow(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher(BatcherConfig{Window: time.Hour, MaxBatchSize: 100}, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Serve(ctx) }()

	b.Add(event("1.1.1.1"))
	b.SetLimits(30*time.Millisecond, 100)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.batches(t)) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Shrunken window never closed the open batch")
}

func TestBatcher_ShedsUnderLoad(t *testing.T) {
	rec := &recorder{}
	rate := NewRateController(10)

	// Saturate the observation window so the controller sees a rate far
	// above target before measurement starts.
	for i := 0; i < 5000; i++ {
		rate.Admit()
	}

	b := NewBatcher(BatcherConfig{Window: time.Hour, MaxBatchSize: 100000}, rate, rec)
	for i := 0; i < 1000; i++ {
		b.Add(event("1.1.1.1"))
	}
	b.Flush()

	var admitted int
	for _, batch := range rec.batches(t) {
		admitted += batch.Count
	}
	if admitted >= 500 {
		t.Errorf("Expected heavy shedding at 100x over target, %d of 1000 admitted", admitted)
	}

	// Shed events still count as arrivals: the window must hold all 6000,
	// not just the admitted ones.
	total := rate.ObservedRate() * rate.windowSize.Seconds()
	if arrivals := int(total + 0.5); arrivals != 6000 {
		t.Errorf("Expected all 6000 arrivals counted in the window, got %d", arrivals)
	}
}
