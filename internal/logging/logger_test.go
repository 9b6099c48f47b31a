// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestInit_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["message"] != "hello" || entry["component"] != "test" {
		t.Errorf("Unexpected entry: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected timestamp field")
	}
}

func TestInit_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("suppressed")
	Warn().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Error("Info should be filtered at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("Warn should pass at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":     zerolog.TraceLevel,
		"debug":     zerolog.DebugLevel,
		"info":      zerolog.InfoLevel,
		"warn":      zerolog.WarnLevel,
		"warning":   zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"disabled":  zerolog.Disabled,
		"gibberish": zerolog.InfoLevel,
		"WARN":      zerolog.WarnLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	logger := NewSlogLogger()
	logger.Info("supervisor event", "service", "udp-listener")

	out := buf.String()
	if !strings.Contains(out, "supervisor event") || !strings.Contains(out, "udp-listener") {
		t.Errorf("slog record did not reach zerolog output: %s", out)
	}
}
