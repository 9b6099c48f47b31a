// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/arcspark/arclight/internal/broadcast"
	"github.com/arcspark/arclight/internal/bus"
	"github.com/arcspark/arclight/internal/config"
	"github.com/arcspark/arclight/internal/deadletter"
	"github.com/arcspark/arclight/internal/enrich"
	"github.com/arcspark/arclight/internal/geo"
	"github.com/arcspark/arclight/internal/listener"
	"github.com/arcspark/arclight/internal/models"
	"github.com/arcspark/arclight/internal/parser"
)

// capture records dispatched batch payloads.
type capture struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *capture) Dispatch(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *capture) first(t *testing.T) models.Batch {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var b models.Batch
	if err := json.Unmarshal(c.payloads[0], &b); err != nil {
		t.Fatalf("Bad batch payload: %v", err)
	}
	return b
}

// harness runs the full intake-to-batch path over a real UDP socket.
type harness struct {
	listener *listener.Listener
	sink     *deadletter.Sink
	out      *capture
	sinkPath string
}

func startHarness(t *testing.T) (*harness, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	l := listener.New(config.ListenerConfig{
		Host: "127.0.0.1", Port: 0, QueueSize: 128,
	})
	go func() { _ = l.Serve(ctx) }()

	sinkPath := filepath.Join(t.TempDir(), "deadletter.jsonl")
	sink, err := deadletter.NewSink(deadletter.Config{Path: sinkPath})
	if err != nil {
		cancel()
		t.Fatalf("NewSink failed: %v", err)
	}

	out := &capture{}
	batcher := broadcast.NewBatcher(broadcast.BatcherConfig{
		Window:       30 * time.Millisecond,
		MaxBatchSize: 100,
	}, nil, out)
	go func() { _ = batcher.Serve(ctx) }()

	eventBus := bus.New()
	provider := &geo.NoopProvider{}
	coordinator := enrich.NewCoordinator(geo.NewCache(64, time.Minute), provider, nil)

	pipe := New(l, parser.New(), eventBus, coordinator, sink, batcher)
	if err := pipe.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Pipeline start failed: %v", err)
	}
	go func() { _ = pipe.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && l.LocalAddr().Port() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if l.LocalAddr().Port() == 0 {
		cancel()
		t.Fatal("Listener did not bind")
	}

	t.Cleanup(func() {
		cancel()
		pipe.Stop()
		_ = eventBus.Close()
		sink.Close()
	})
	return &harness{listener: l, sink: sink, out: out, sinkPath: sinkPath}, cancel
}

func (h *harness) send(t *testing.T, payload string) {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", h.listener.LocalAddr().Port())
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestPipeline_DenyRecordReachesBatch(t *testing.T) {
	h, _ := startHarness(t)

	h.send(t, `<134>Aug 29 10:00:00 fw1 kernel: src=203.0.113.5 dst=198.51.100.7 action=deny threat_type=ddos`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h.out.count() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if h.out.count() == 0 {
		t.Fatal("No batch dispatched")
	}

	batch := h.out.first(t)
	if batch.Type != models.BatchMessageType || batch.Count != 1 {
		t.Fatalf("Unexpected batch: %+v", batch)
	}
	ev := batch.Events[0]
	if ev.SourceIP != "203.0.113.5" || ev.ThreatType != models.ThreatVolumetric {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.Geo != nil {
		t.Errorf("Noop provider must yield nil geo, got %+v", ev.Geo)
	}
}

func TestPipeline_NonDenyProducesNothing(t *testing.T) {
	h, _ := startHarness(t)

	h.send(t, `<134>Aug 29 10:00:00 fw1 kernel: src=203.0.113.5 dst=198.51.100.7 action=allow`)

	time.Sleep(300 * time.Millisecond)
	if h.out.count() != 0 {
		t.Error("Allowed traffic must not reach the broadcast stage")
	}
}

func TestPipeline_GarbageGoesToDeadLetter(t *testing.T) {
	h, _ := startHarness(t)

	h.send(t, "complete garbage, not syslog at all")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h.sink.Flush()
		entries := readSink(t, h.sinkPath)
		if len(entries) > 0 {
			if entries[0].ErrorReason != parser.ReasonBadEnvelope {
				t.Errorf("Expected bad_envelope, got %s", entries[0].ErrorReason)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Rejected input never reached the dead-letter sink")
}

func readSink(t *testing.T, path string) []models.DeadLetterEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entries []models.DeadLetterEntry
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var e models.DeadLetterEntry
		if err := json.Unmarshal(line, &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}
