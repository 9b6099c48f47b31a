// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package enrich joins parsed attack records with geolocation data and
// target-network classification. Enrichment is total: every AttackRecord
// yields exactly one EnrichedEvent, with failures degrading to a nil geo
// record rather than dropping the event.
package enrich

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/arcspark/arclight/internal/geo"
	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/metrics"
	"github.com/arcspark/arclight/internal/models"
)

// Coordinator enriches attack records via a cache-aside geo lookup and
// classifies destinations against a runtime-swappable CIDR list.
type Coordinator struct {
	cache    *geo.Cache
	provider geo.Provider

	// targets holds []*net.IPNet; swapped atomically so SetTargetNetworks
	// can be applied at runtime without pausing the pipeline.
	targets atomic.Value
}

// NewCoordinator creates a Coordinator. targetNetworks may be empty, in
// which case no destination is classified as a target.
func NewCoordinator(cache *geo.Cache, provider geo.Provider, targetNetworks []*net.IPNet) *Coordinator {
	c := &Coordinator{cache: cache, provider: provider}
	c.targets.Store(targetNetworks)
	return c
}

// SetTargetNetworks replaces the target CIDR list. Safe to call while the
// pipeline is running; in-flight enrichments finish with the old list.
func (c *Coordinator) SetTargetNetworks(networks []*net.IPNet) {
	if networks == nil {
		networks = []*net.IPNet{}
	}
	c.targets.Store(networks)
}

// Enrich produces the EnrichedEvent for rec. It never fails: a geo lookup
// error is recorded as a note on the event and geo stays nil.
func (c *Coordinator) Enrich(ctx context.Context, rec *models.AttackRecord) *models.EnrichedEvent {
	start := time.Now()

	event := &models.EnrichedEvent{
		Timestamp:       rec.Timestamp,
		SourceIP:        rec.SourceIP,
		DestinationIP:   rec.DestinationIP,
		ThreatType:      rec.ThreatCategory,
		Action:          rec.Action,
		IsTargetNetwork: c.isTarget(rec.DestinationIP),
	}

	record, err := c.cache.GetOrCompute(ctx, rec.SourceIP, c.provider.Lookup)
	if err != nil {
		event.EnrichmentError = err.Error()
		metrics.EnrichmentDegraded.Inc()
		logging.Debug().Err(err).Str("ip", rec.SourceIP).Msg("geo lookup degraded")
	} else {
		event.Geo = record
	}

	elapsed := time.Since(start)
	event.EnrichmentTimeMs = float64(elapsed.Microseconds()) / 1000.0
	metrics.EnrichmentDuration.Observe(elapsed.Seconds())

	return event
}

// isTarget reports whether ip is contained in any configured target range.
func (c *Coordinator) isTarget(ip string) bool {
	networks, _ := c.targets.Load().([]*net.IPNet)
	if len(networks) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range networks {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}
