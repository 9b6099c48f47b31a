// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package pipeline wires the processing stages together over the event
// bus: datagram intake feeds the parser, parsed records feed enrichment,
// enriched events feed the batcher, and everything unparseable feeds the
// dead-letter sink.
package pipeline

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/arcspark/arclight/internal/broadcast"
	"github.com/arcspark/arclight/internal/bus"
	"github.com/arcspark/arclight/internal/deadletter"
	"github.com/arcspark/arclight/internal/enrich"
	"github.com/arcspark/arclight/internal/listener"
	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/metrics"
	"github.com/arcspark/arclight/internal/models"
	"github.com/arcspark/arclight/internal/parser"
)

// Pipeline owns the intake loop and the bus subscriptions that connect
// the stages. Construction wires nothing; Start attaches subscribers and
// Serve runs the intake loop under supervision.
type Pipeline struct {
	listener *listener.Listener
	parser   *parser.Parser
	bus      *bus.Bus
	enricher *enrich.Coordinator
	sink     *deadletter.Sink
	batcher  *broadcast.Batcher

	subs   []*bus.Subscription
	logger zerolog.Logger
}

// New assembles a pipeline from already-constructed stages.
func New(l *listener.Listener, p *parser.Parser, b *bus.Bus, e *enrich.Coordinator, s *deadletter.Sink, batcher *broadcast.Batcher) *Pipeline {
	return &Pipeline{
		listener: l,
		parser:   p,
		bus:      b,
		enricher: e,
		sink:     s,
		batcher:  batcher,
		logger:   logging.With().Str("component", "pipeline").Logger(),
	}
}

// Start attaches the enrichment, batching, and dead-letter subscribers.
// Must run before the listener begins producing so no parsed record is
// published without a consumer.
func (p *Pipeline) Start(ctx context.Context) error {
	enrichSub, err := p.bus.Subscribe(ctx, bus.TopicParsed, p.handleParsed(ctx))
	if err != nil {
		return err
	}
	p.subs = append(p.subs, enrichSub)

	batchSub, err := p.bus.Subscribe(ctx, bus.TopicEnriched, p.handleEnriched)
	if err != nil {
		return err
	}
	p.subs = append(p.subs, batchSub)

	dlSub, err := p.bus.Subscribe(ctx, bus.TopicDeadLetter, p.handleDeadLetter)
	if err != nil {
		return err
	}
	p.subs = append(p.subs, dlSub)

	return nil
}

// Serve consumes datagrams from the listener queue until ctx is cancelled
// or the queue closes. It satisfies suture.Service.
func (p *Pipeline) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case dg, ok := <-p.listener.Datagrams():
			if !ok {
				return nil
			}
			p.ingest(dg)
		}
	}
}

// Stop detaches the bus subscribers in reverse stage order so upstream
// stages drain into still-attached downstream ones.
func (p *Pipeline) Stop() {
	for _, sub := range p.subs {
		sub.Close()
	}
	p.subs = nil
}

// ingest parses one datagram and routes the outcome: a record to the
// parsed topic, a rejection to the dead-letter topic, or silence for
// filtered traffic.
func (p *Pipeline) ingest(dg models.RawDatagram) {
	record, rejection := p.parser.Parse(dg.Payload, dg.ReceivedAt)

	switch {
	case record != nil:
		metrics.RecordsParsed.Inc()
		if err := p.bus.PublishJSON(bus.TopicParsed, record); err != nil {
			p.logger.Warn().Err(err).Msg("failed to publish parsed record")
		}

	case rejection != nil:
		metrics.RecordsRejected.WithLabelValues(rejection.Reason).Inc()
		entry := models.DeadLetterEntry{
			Timestamp:   time.Now().UTC(),
			ErrorReason: rejection.Reason,
			Raw:         rejection.Raw,
		}
		if err := p.bus.PublishJSON(bus.TopicDeadLetter, entry); err != nil {
			// Bus failure must not lose the entry; write it directly.
			p.sink.RecordEntry(entry)
		}

	default:
		// Non-deny or incomplete traffic is dropped by design of the feed
		metrics.RecordsFiltered.Inc()
	}
}

// handleParsed returns the enrichment subscriber.
func (p *Pipeline) handleParsed(ctx context.Context) bus.Handler {
	return func(payload []byte) error {
		var record models.AttackRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return err
		}
		event := p.enricher.Enrich(ctx, &record)
		return p.bus.PublishJSON(bus.TopicEnriched, event)
	}
}

// handleEnriched feeds the batcher.
func (p *Pipeline) handleEnriched(payload []byte) error {
	var event models.EnrichedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	p.batcher.Add(event)
	return nil
}

// handleDeadLetter appends rejected input to the sink.
func (p *Pipeline) handleDeadLetter(payload []byte) error {
	var entry models.DeadLetterEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return err
	}
	p.sink.RecordEntry(entry)
	return nil
}
