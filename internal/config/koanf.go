// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/arclight/config.yaml",
	"/etc/arclight/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces Arclight environment variables:
// ARCLIGHT_LISTENER_PORT -> listener.port
const envPrefix = "ARCLIGHT_"

// Default returns a Config with all default values applied. These defaults
// are loaded first, then overridden by the config file and env vars.
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			Host:            "0.0.0.0",
			Port:            5514,
			ReadBufferBytes: 4 * 1024 * 1024,
			QueueSize:       8192,
		},
		Geo: GeoConfig{
			DatabasePath: "/data/GeoLite2-City.mmdb",
			CacheSize:    10000,
			CacheTTL:     time.Hour,
		},
		Pipeline: PipelineConfig{
			TargetNetworks: nil,
		},
		Broadcast: BroadcastConfig{
			Window:                time.Second,
			MaxBatchSize:          200,
			TargetEventsPerSecond: 0, // shedding off unless configured
			SendBuffer:            64,
		},
		DeadLetter: DeadLetterConfig{
			Path:          "/data/deadletter.jsonl",
			RotateBytes:   32 << 20,
			FlushInterval: 2 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8470,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults from the struct above
//  2. Optional YAML config file
//  3. ARCLIGHT_* environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration using struct tags plus cross-field rules
// that tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	if _, invalid := c.Pipeline.ParseTargetNetworks(); len(invalid) > 0 {
		return fmt.Errorf("invalid target network CIDRs: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// findConfigFile returns the first existing config path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// they arrive via environment variables.
var sliceConfigPaths = []string{
	"pipeline.target_networks",
}

// processSliceFields converts comma-separated env strings into slices for
// known slice fields. YAML-sourced slices are left untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransform maps ARCLIGHT_LISTENER_READ_BUFFER_BYTES to
// listener.read_buffer_bytes. The first underscore separates the section;
// the remainder is the key.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}
