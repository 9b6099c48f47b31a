// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5514, cfg.Listener.Port)
	assert.Equal(t, "0.0.0.0", cfg.Listener.Host)
	assert.Equal(t, 8192, cfg.Listener.QueueSize)
	assert.Equal(t, 10000, cfg.Geo.CacheSize)
	assert.Equal(t, time.Hour, cfg.Geo.CacheTTL)
	assert.Equal(t, time.Second, cfg.Broadcast.Window)
	assert.Equal(t, 200, cfg.Broadcast.MaxBatchSize)
	assert.Equal(t, 8470, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Pipeline.TargetNetworks)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ARCLIGHT_LISTENER_PORT", "1514")
	t.Setenv("ARCLIGHT_GEO_CACHE_SIZE", "500")
	t.Setenv("ARCLIGHT_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1514, cfg.Listener.Port)
	assert.Equal(t, 500, cfg.Geo.CacheSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvTargetNetworksCommaSeparated(t *testing.T) {
	t.Setenv("ARCLIGHT_PIPELINE_TARGET_NETWORKS", "10.0.0.0/8, 192.168.0.0/16")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Pipeline.TargetNetworks, 2)
	assert.Equal(t, "10.0.0.0/8", cfg.Pipeline.TargetNetworks[0])
	assert.Equal(t, "192.168.0.0/16", cfg.Pipeline.TargetNetworks[1])
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
listener:
  port: 2514
broadcast:
  max_batch_size: 50
pipeline:
  target_networks:
    - 203.0.113.0/24
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2514, cfg.Listener.Port)
	assert.Equal(t, 50, cfg.Broadcast.MaxBatchSize)
	require.Len(t, cfg.Pipeline.TargetNetworks, 1)

	// Unset file values keep their defaults
	assert.Equal(t, 8470, cfg.Server.Port)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listener:\n  port: 2514\n"), 0o644))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ARCLIGHT_LISTENER_PORT", "3514")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3514, cfg.Listener.Port)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("ARCLIGHT_LISTENER_PORT", "99999")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidTargetNetworkRejected(t *testing.T) {
	t.Setenv("ARCLIGHT_PIPELINE_TARGET_NETWORKS", "not-a-cidr")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseTargetNetworks(t *testing.T) {
	p := PipelineConfig{TargetNetworks: []string{"10.0.0.0/8", "bogus", "192.168.1.0/24"}}

	nets, invalid := p.ParseTargetNetworks()
	assert.Len(t, nets, 2)
	require.Len(t, invalid, 1)
	assert.Equal(t, "bogus", invalid[0])
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "listener.port", envTransform("ARCLIGHT_LISTENER_PORT"))
	assert.Equal(t, "listener.read_buffer_bytes", envTransform("ARCLIGHT_LISTENER_READ_BUFFER_BYTES"))
	assert.Equal(t, "deadletter.flush_interval", envTransform("ARCLIGHT_DEADLETTER_FLUSH_INTERVAL"))
}
