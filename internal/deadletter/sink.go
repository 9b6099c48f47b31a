// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package deadletter appends rejected input records to a durable JSONL file
// for post-mortem inspection. The sink is strictly best-effort: a write
// failure is logged and counted, never propagated, because losing a
// dead-letter entry is acceptable and crashing the pipeline is not.
package deadletter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/metrics"
	"github.com/arcspark/arclight/internal/models"
)

// Config holds sink settings.
type Config struct {
	// Path is the live append-only JSONL file.
	Path string

	// RotateBytes rotates the live file once it exceeds this size.
	RotateBytes int64

	// FlushInterval bounds how long buffered entries wait before flush.
	FlushInterval time.Duration
}

// Sink is the append-only store for rejected records. Entries are buffered
// and flushed by the background Serve loop; the pipeline never mutates or
// deletes live entries.
type Sink struct {
	cfg Config

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	size int64
}

// NewSink opens (or creates) the live file for appending. Open failure is
// returned: an unwritable dead-letter path is a deployment problem, caught
// at startup rather than silently dropping every entry later.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.RotateBytes <= 0 {
		cfg.RotateBytes = 32 << 20
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}

	s := &Sink{cfg: cfg}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) open() error {
	file, err := os.OpenFile(s.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open dead-letter file %s: %w", s.cfg.Path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat dead-letter file %s: %w", s.cfg.Path, err)
	}

	s.file = file
	s.buf = bufio.NewWriter(file)
	s.size = info.Size()
	return nil
}

// Record appends one entry. rawText is expected to be pre-truncated by the
// parser. Errors are swallowed after logging.
func (s *Sink) Record(rawText, reason string) {
	s.RecordEntry(models.DeadLetterEntry{
		Timestamp:   time.Now().UTC(),
		ErrorReason: reason,
		Raw:         rawText,
	})
}

// RecordEntry appends a pre-built entry.
func (s *Sink) RecordEntry(entry models.DeadLetterEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		metrics.DeadLettersDropped.Inc()
		logging.Error().Err(err).Msg("failed to marshal dead-letter entry")
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		metrics.DeadLettersDropped.Inc()
		return
	}

	if s.size+int64(len(line)) > s.cfg.RotateBytes {
		s.rotateLocked()
	}

	n, err := s.buf.Write(line)
	s.size += int64(n)
	if err != nil {
		metrics.DeadLettersDropped.Inc()
		logging.Error().Err(err).Msg("failed to append dead-letter entry")
		return
	}
	metrics.DeadLettersWritten.Inc()
}

// Flush pushes buffered entries to the file.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

func (s *Sink) flushLocked() {
	if s.buf == nil {
		return
	}
	if err := s.buf.Flush(); err != nil {
		logging.Error().Err(err).Msg("failed to flush dead-letter buffer")
	}
}

// rotateLocked renames the live file to a timestamped segment, compresses it
// in the background, and reopens a fresh live file. Must hold s.mu.
func (s *Sink) rotateLocked() {
	s.flushLocked()
	if err := s.file.Close(); err != nil {
		logging.Error().Err(err).Msg("failed to close dead-letter file for rotation")
	}

	rotated := fmt.Sprintf("%s.%d", s.cfg.Path, time.Now().Unix())
	if err := os.Rename(s.cfg.Path, rotated); err != nil {
		logging.Error().Err(err).Msg("failed to rotate dead-letter file")
	} else {
		go compressSegment(rotated)
	}

	if err := s.open(); err != nil {
		// Degraded: subsequent entries are dropped until the next restart.
		logging.Error().Err(err).Msg("failed to reopen dead-letter file after rotation")
		s.file = nil
		s.buf = nil
		s.size = 0
	}
}

// compressSegment gzips a rotated segment and removes the original.
func compressSegment(path string) {
	in, err := os.Open(path)
	if err != nil {
		logging.Error().Err(err).Str("path", path).Msg("failed to open rotated dead-letter segment")
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		logging.Error().Err(err).Str("path", path).Msg("failed to create compressed segment")
		return
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		logging.Error().Err(err).Str("path", path).Msg("failed to compress dead-letter segment")
		_ = gz.Close()
		return
	}
	if err := gz.Close(); err != nil {
		logging.Error().Err(err).Str("path", path).Msg("failed to finalize compressed segment")
		return
	}
	if err := os.Remove(path); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("failed to remove uncompressed segment")
	}
}

// Serve runs the periodic flush loop until ctx is canceled, then performs a
// final flush and closes the file. Implements suture.Service.
func (s *Sink) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		}
	}
}

// Close flushes and closes the live file.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushLocked()
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close dead-letter file")
		}
		s.file = nil
		s.buf = nil
	}
}
