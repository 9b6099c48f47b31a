// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package models defines the data types that flow through the Arclight
// pipeline, from raw datagram to dispatched batch.
package models

import (
	"net/netip"
	"time"
)

// ThreatCategory is the fixed taxonomy attack records are classified into.
type ThreatCategory string

const (
	// ThreatMalware covers virus, trojan, botnet and C2 traffic.
	ThreatMalware ThreatCategory = "malware"
	// ThreatIntrusion covers exploit attempts, scans and brute force.
	ThreatIntrusion ThreatCategory = "intrusion"
	// ThreatVolumetric covers floods and other denial-of-service traffic.
	ThreatVolumetric ThreatCategory = "volumetric"
	// ThreatUnknown is the default when no vocabulary term matches.
	ThreatUnknown ThreatCategory = "unknown"
)

// String returns the wire representation of the category.
func (c ThreatCategory) String() string {
	return string(c)
}

// Valid reports whether c is one of the known taxonomy values.
func (c ThreatCategory) Valid() bool {
	switch c {
	case ThreatMalware, ThreatIntrusion, ThreatVolumetric, ThreatUnknown:
		return true
	}
	return false
}

// RawDatagram carries one received UDP payload with arrival metadata.
// It exists only for the duration of a single parse call.
type RawDatagram struct {
	Payload    []byte
	SourceAddr netip.AddrPort
	ReceivedAt time.Time
}

// AttackRecord is a parsed, validated deny-action firewall record.
// Records are immutable once created by the parser.
type AttackRecord struct {
	Timestamp      time.Time      `json:"timestamp"`
	SourceIP       string         `json:"sourceIP"`
	DestinationIP  string         `json:"destinationIP"`
	ThreatCategory ThreatCategory `json:"threatType"`
	Action         string         `json:"action"`
	RawText        string         `json:"-"`
}

// GeoRecord is a geolocation result for a source IP.
// A nil *GeoRecord is a valid, non-error outcome (no data for the address).
type GeoRecord struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	City        string  `json:"city"`
	CountryCode string  `json:"country"`
	CountryName string  `json:"countryName"`
}

// EnrichedEvent joins an AttackRecord with its geo lookup and target-network
// classification. Every AttackRecord produces exactly one EnrichedEvent,
// whether or not enrichment succeeded.
type EnrichedEvent struct {
	Timestamp        time.Time      `json:"timestamp"`
	SourceIP         string         `json:"sourceIP"`
	DestinationIP    string         `json:"destinationIP"`
	ThreatType       ThreatCategory `json:"threatType"`
	Action           string         `json:"action"`
	Geo              *GeoRecord     `json:"geo"`
	IsTargetNetwork  bool           `json:"isTargetNetwork"`
	EnrichmentTimeMs float64        `json:"enrichmentTimeMs"`
	// EnrichmentError notes a degraded lookup. Empty on success.
	EnrichmentError string `json:"enrichmentError,omitempty"`
}

// Batch is the unit of fan-out to subscribers. Events preserve arrival order.
type Batch struct {
	Type     string          `json:"type"`
	Sequence uint64          `json:"seq"`
	Count    int             `json:"count"`
	Events   []EnrichedEvent `json:"events"`
}

// BatchMessageType is the wire discriminator for batch messages.
const BatchMessageType = "batch"

// DeadLetterEntry records one rejected or malformed input for post-mortem
// inspection. Entries are append-only and never mutated by the pipeline.
type DeadLetterEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	ErrorReason string    `json:"error_reason"`
	Raw         string    `json:"raw"`
}
