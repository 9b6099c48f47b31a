// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package config loads Arclight configuration from layered sources using
// Koanf v2: built-in defaults, an optional YAML file, then environment
// variables (highest priority).
package config

import (
	"net"
	"time"
)

// Config is the root configuration for the Arclight server.
type Config struct {
	Listener   ListenerConfig   `koanf:"listener"`
	Geo        GeoConfig        `koanf:"geo"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Broadcast  BroadcastConfig  `koanf:"broadcast"`
	DeadLetter DeadLetterConfig `koanf:"deadletter"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ListenerConfig configures the UDP ingest socket.
type ListenerConfig struct {
	// Host is the bind address for the UDP socket.
	Host string `koanf:"host" validate:"required"`

	// Port is the UDP ingest port. 5514 is the unprivileged dev default;
	// binding 514 in production requires CAP_NET_BIND_SERVICE.
	Port int `koanf:"port" validate:"gte=1,lte=65535"`

	// ReadBufferBytes is the requested kernel receive buffer size.
	// Large bursts are absorbed here before the read loop drains them.
	ReadBufferBytes int `koanf:"read_buffer_bytes" validate:"gte=65536"`

	// QueueSize bounds the hand-off channel between the read loop and the
	// parser stage. Datagrams beyond this are dropped and counted.
	QueueSize int `koanf:"queue_size" validate:"gte=1"`
}

// GeoConfig configures geolocation lookup and caching.
type GeoConfig struct {
	// DatabasePath points at a local MaxMind City .mmdb file. Empty disables
	// lookups; every event then carries a nil geo record.
	DatabasePath string `koanf:"database_path"`

	// CacheSize is the maximum number of cached lookups (LRU eviction).
	CacheSize int `koanf:"cache_size" validate:"gte=1"`

	// CacheTTL is how long a cached lookup stays valid. Expiry is lazy,
	// checked on read.
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gt=0"`
}

// PipelineConfig configures enrichment behavior.
type PipelineConfig struct {
	// TargetNetworks is the CIDR list destination IPs are classified
	// against. Empty means nothing is flagged as a target.
	TargetNetworks []string `koanf:"target_networks"`
}

// BroadcastConfig configures batching and fan-out to subscribers.
type BroadcastConfig struct {
	// Window is the maximum age of an open batch before dispatch.
	Window time.Duration `koanf:"window" validate:"gt=0"`

	// MaxBatchSize dispatches a batch early once it holds this many events.
	MaxBatchSize int `koanf:"max_batch_size" validate:"gte=1"`

	// TargetEventsPerSecond is the steady-state admission rate for the
	// adaptive shedder. Zero disables shedding.
	TargetEventsPerSecond float64 `koanf:"target_events_per_second" validate:"gte=0"`

	// SendBuffer is the per-subscriber outbound channel capacity. A
	// subscriber that falls this far behind is disconnected.
	SendBuffer int `koanf:"send_buffer" validate:"gte=1"`
}

// DeadLetterConfig configures the rejected-record sink.
type DeadLetterConfig struct {
	// Path is the append-only JSONL file for rejected records.
	Path string `koanf:"path" validate:"required"`

	// RotateBytes rotates the live file once it exceeds this size; rotated
	// segments are gzip-compressed.
	RotateBytes int64 `koanf:"rotate_bytes" validate:"gte=4096"`

	// FlushInterval bounds how long a buffered entry waits before fsync-less
	// flush to the file.
	FlushInterval time.Duration `koanf:"flush_interval" validate:"gt=0"`
}

// ServerConfig configures the HTTP surface (websocket attach, metrics).
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ParseTargetNetworks compiles the configured CIDR list. Invalid entries are
// returned alongside the valid prefixes so the caller can log and continue.
func (p PipelineConfig) ParseTargetNetworks() (nets []*net.IPNet, invalid []string) {
	for _, cidr := range p.TargetNetworks {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			invalid = append(invalid, cidr)
			continue
		}
		nets = append(nets, n)
	}
	return nets, invalid
}
