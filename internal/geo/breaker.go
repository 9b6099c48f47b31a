// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package geo

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/models"
)

// BreakerProvider wraps a Provider in a circuit breaker. A corrupt or
// half-unmapped database surfaces as repeated lookup errors; once the
// breaker opens, lookups fail fast and the coordinator degrades events to
// nil geo instead of paying the failing read on every record.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[*models.GeoRecord]
}

// NewBreakerProvider wraps inner. The breaker opens after five consecutive
// failures and probes again after 30 seconds.
func NewBreakerProvider(inner Provider) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:    "geo-" + inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("geo provider breaker state changed")
		},
	}
	return &BreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*models.GeoRecord](settings),
	}
}

// Lookup resolves through the breaker.
func (p *BreakerProvider) Lookup(ctx context.Context, ipAddress string) (*models.GeoRecord, error) {
	return p.breaker.Execute(func() (*models.GeoRecord, error) {
		return p.inner.Lookup(ctx, ipAddress)
	})
}

// Name returns the wrapped provider's name.
func (p *BreakerProvider) Name() string {
	return p.inner.Name()
}

// IsAvailable reports the wrapped provider's availability.
func (p *BreakerProvider) IsAvailable() bool {
	return p.inner.IsAvailable()
}
