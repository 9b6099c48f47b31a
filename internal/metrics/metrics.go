// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package metrics provides Prometheus instrumentation for the Arclight
// pipeline: ingest throughput, parse outcomes, cache efficiency, enrichment
// latency, batch dispatch, and subscriber churn.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest
	DatagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_datagrams_received_total",
		Help: "Total UDP datagrams received",
	})

	DatagramsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_datagrams_dropped_total",
		Help: "Datagrams dropped because the parse queue was full",
	})

	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_bytes_received_total",
		Help: "Total bytes received from UDP",
	})

	SocketErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_socket_errors_total",
		Help: "Socket read errors encountered by the listener",
	})

	// Parse
	RecordsParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_records_parsed_total",
		Help: "Records successfully parsed into attack records",
	})

	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arclight_records_rejected_total",
		Help: "Records rejected by the parser, routed to the dead-letter sink",
	}, []string{"reason"})

	RecordsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_records_filtered_total",
		Help: "Non-deny records silently dropped (filtering, not failure)",
	})

	// Geo cache
	GeoCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_geo_cache_hits_total",
		Help: "Geo cache hits, including cached negative results",
	})

	GeoCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_geo_cache_misses_total",
		Help: "Geo cache misses triggering an underlying lookup",
	})

	GeoCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_geo_cache_evictions_total",
		Help: "Entries evicted from the geo cache by LRU pressure",
	})

	GeoLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arclight_geo_lookup_duration_seconds",
		Help:    "Duration of underlying geolocation database lookups",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	// Enrichment
	EnrichmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arclight_enrichment_duration_seconds",
		Help:    "Wall-clock duration of event enrichment",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	EnrichmentDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_enrichment_degraded_total",
		Help: "Enrichments that degraded to a nil geo record after an error",
	})

	// Broadcast
	BatchesDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_batches_dispatched_total",
		Help: "Batches dispatched to subscribers",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arclight_batch_size",
		Help:    "Distribution of dispatched batch sizes",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500},
	})

	EventsShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_events_shed_total",
		Help: "Events excluded from batches by adaptive load shedding",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arclight_subscribers",
		Help: "Currently connected broadcast subscribers",
	})

	SubscriberDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arclight_subscriber_disconnects_total",
		Help: "Subscribers forcibly disconnected, by cause",
	}, []string{"cause"})

	// Dead letter
	DeadLettersWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_dead_letters_written_total",
		Help: "Dead-letter entries appended to the sink",
	})

	DeadLettersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arclight_dead_letters_dropped_total",
		Help: "Dead-letter entries lost to sink write failures",
	})
)
