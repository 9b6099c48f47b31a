// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time summary of pipeline counters, served as JSON
// for external reporting components that do not scrape Prometheus.
type Snapshot struct {
	DatagramsReceived float64 `json:"datagrams_received"`
	RecordsParsed     float64 `json:"records_parsed"`
	RecordsRejected   float64 `json:"records_rejected"`
	RecordsFiltered   float64 `json:"records_filtered"`
	CacheHitRatio     float64 `json:"cache_hit_ratio"`
	BatchesDispatched float64 `json:"batches_dispatched"`
	EventsShed        float64 `json:"events_shed"`
	Subscribers       float64 `json:"subscribers"`
}

// Collect gathers the current snapshot from the default Prometheus registry.
func Collect() (Snapshot, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return Snapshot{}, err
	}

	values := make(map[string]float64, len(families))
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		values[mf.GetName()] = total
	}

	snap := Snapshot{
		DatagramsReceived: values["arclight_datagrams_received_total"],
		RecordsParsed:     values["arclight_records_parsed_total"],
		RecordsRejected:   values["arclight_records_rejected_total"],
		RecordsFiltered:   values["arclight_records_filtered_total"],
		BatchesDispatched: values["arclight_batches_dispatched_total"],
		EventsShed:        values["arclight_events_shed_total"],
		Subscribers:       values["arclight_subscribers"],
	}

	hits := values["arclight_geo_cache_hits_total"]
	misses := values["arclight_geo_cache_misses_total"]
	if hits+misses > 0 {
		snap.CacheHitRatio = hits / (hits + misses)
	}
	return snap, nil
}
