// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package broadcast

import (
	"math/rand/v2"
	"sync"
	"time"
)

// RateController implements adaptive load shedding for the broadcast stage.
// It tracks the arrival rate of enriched events over a bucketed sliding
// window and admits each event with probability
//
//	min(1, targetRatePerSecond / observedRatePerSecond)
//
// so that downstream rendering converges on the target rate regardless of
// burst size. Shed events are still counted in the window and in aggregate
// statistics; only batch membership is affected.
//
// The controller protects the shared render budget across all viewers, which
// is why it runs server-side rather than in any one client.
type RateController struct {
	mu         sync.Mutex
	buckets    []int64
	bucketSize time.Duration
	windowSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time

	targetPerSecond float64
}

// NewRateController creates a controller with a 5-second window split into
// ten buckets. A target of zero (or less) disables shedding entirely.
func NewRateController(targetPerSecond float64) *RateController {
	const (
		window  = 5 * time.Second
		buckets = 10
	)
	return &RateController{
		buckets:         make([]int64, buckets),
		bucketSize:      window / buckets,
		windowSize:      window,
		numBuckets:      buckets,
		lastUpdate:      time.Now(),
		targetPerSecond: targetPerSecond,
	}
}

// SetTarget replaces the target rate at runtime.
func (rc *RateController) SetTarget(targetPerSecond float64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.targetPerSecond = targetPerSecond
}

// Admit records one arrival and reports whether the event should enter a
// rendering-relevant batch. Every arrival counts toward the observed rate,
// admitted or not.
func (rc *RateController) Admit() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.advance()
	rc.buckets[rc.current]++

	if rc.targetPerSecond <= 0 {
		return true
	}

	observed := rc.observedRateLocked()
	if observed <= rc.targetPerSecond {
		return true
	}
	return rand.Float64() < rc.targetPerSecond/observed
}

// ObservedRate returns the current arrival rate in events per second.
func (rc *RateController) ObservedRate() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.advance()
	return rc.observedRateLocked()
}

// observedRateLocked sums the window and divides by its span. Must hold mu.
func (rc *RateController) observedRateLocked() float64 {
	var total int64
	for _, count := range rc.buckets {
		total += count
	}
	return float64(total) / rc.windowSize.Seconds()
}

// advance rotates expired buckets forward. Must hold mu.
func (rc *RateController) advance() {
	now := time.Now()
	elapsed := now.Sub(rc.lastUpdate)

	bucketsElapsed := int(elapsed / rc.bucketSize)
	if bucketsElapsed <= 0 {
		return
	}

	if bucketsElapsed >= rc.numBuckets {
		for i := range rc.buckets {
			rc.buckets[i] = 0
		}
		rc.current = 0
	} else {
		for i := 0; i < bucketsElapsed; i++ {
			rc.current = (rc.current + 1) % rc.numBuckets
			rc.buckets[rc.current] = 0
		}
	}

	// Keep the sub-bucket remainder so buckets do not stretch under
	// steady traffic
	rc.lastUpdate = rc.lastUpdate.Add(time.Duration(bucketsElapsed) * rc.bucketSize)
}
