// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package listener binds the UDP syslog intake socket and hands off
// datagrams to the pipeline through a bounded queue.
package listener

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/arcspark/arclight/internal/config"
	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/metrics"
	"github.com/arcspark/arclight/internal/models"
)

// maxDatagramSize covers any UDP payload a firewall will emit.
const maxDatagramSize = 65536

// readDeadline bounds each blocking read so shutdown is observed promptly.
const readDeadline = 100 * time.Millisecond

// Listener receives firewall syslog datagrams over UDP. Ingestion is
// lossy-but-live: when the hand-off queue is full the datagram is dropped
// and counted, never blocking the socket read loop. After a successful
// bind, socket read errors are counted and the loop continues; only the
// initial bind can fail the listener.
type Listener struct {
	host           string
	port           int
	readBufferSize int

	out chan models.RawDatagram

	mu       sync.RWMutex
	conn     *net.UDPConn
	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool

	datagramsReceived atomic.Int64
	datagramsDropped  atomic.Int64
	bytesReceived     atomic.Int64
	readErrors        atomic.Int64
	lastActivity      atomic.Value // time.Time

	logger zerolog.Logger
}

// New creates an unbound listener from config. Datagrams() yields what it
// receives once Serve is running.
func New(cfg config.ListenerConfig) *Listener {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 8192
	}
	return &Listener{
		host:           cfg.Host,
		port:           cfg.Port,
		readBufferSize: cfg.ReadBufferBytes,
		out:            make(chan models.RawDatagram, queueSize),
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
		logger:         logging.With().Str("component", "udp-listener").Int("port", cfg.Port).Logger(),
	}
}

// Datagrams returns the bounded hand-off queue.
func (l *Listener) Datagrams() <-chan models.RawDatagram {
	return l.out
}

// Serve binds the socket and runs the read loop until ctx is cancelled.
// A bind failure is returned immediately so the supervisor can back off
// and retry. It satisfies suture.Service.
func (l *Listener) Serve(ctx context.Context) error {
	if err := l.bindSocket(); err != nil {
		return err
	}

	l.running.Store(true)
	l.logger.Info().Str("host", l.host).Msg("UDP listener started")

	defer func() {
		l.running.Store(false)
		l.mu.Lock()
		if l.conn != nil {
			_ = l.conn.Close()
			l.conn = nil
		}
		l.mu.Unlock()
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	}()

	l.readLoop(ctx)

	// A direct Stop() is terminal: the shutdown channel stays closed, so a
	// restarted loop would rebind and exit immediately. Tell the supervisor
	// not to bring this service back.
	select {
	case <-l.shutdown:
		return suture.ErrDoNotRestart
	default:
	}
	return ctx.Err()
}

// Stop signals the read loop to exit and waits up to timeout for it to
// drain. Used on the direct shutdown path where intake must stop before
// downstream stages flush.
func (l *Listener) Stop(timeout time.Duration) error {
	if !l.running.Load() {
		return nil
	}
	l.running.Store(false)

	l.mu.Lock()
	select {
	case <-l.shutdown:
	default:
		close(l.shutdown)
	}
	// Close the socket to unblock a pending read
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("udp listener stop timed out after %v", timeout)
	}
}

// Stats reports intake counters for the stats endpoint.
func (l *Listener) Stats() (received, dropped, bytes, errors int64) {
	return l.datagramsReceived.Load(), l.datagramsDropped.Load(),
		l.bytesReceived.Load(), l.readErrors.Load()
}

func (l *Listener) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.host, l.port))
	if err != nil {
		return fmt.Errorf("resolve UDP address %s:%d: %w", l.host, l.port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on UDP port %d: %w", l.port, err)
	}

	// Enlarge the OS socket buffer so attack bursts are absorbed by the
	// kernel instead of dropped at the NIC. Some systems cap this; a
	// failure is survivable.
	if l.readBufferSize > 0 {
		if err := conn.SetReadBuffer(l.readBufferSize); err != nil {
			l.logger.Warn().
				Err(err).
				Int("buffer_size", l.readBufferSize).
				Msg("Could not set UDP socket buffer size")
		}
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	return nil
}

func (l *Listener) readLoop(ctx context.Context) {
	buf := make([]byte, maxDatagramSize)

	for l.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		default:
		}

		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()
		if conn == nil {
			return
		}

		// Bounded read so shutdown is checked at least every deadline
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		n, addr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-l.shutdown:
				return
			default:
			}

			l.readErrors.Add(1)
			metrics.SocketErrors.Inc()
			l.logger.Warn().Err(err).Msg("UDP read error")
			continue
		}

		now := time.Now()
		l.datagramsReceived.Add(1)
		l.bytesReceived.Add(int64(n))
		l.lastActivity.Store(now)
		metrics.DatagramsReceived.Inc()
		metrics.BytesReceived.Add(float64(n))

		payload := make([]byte, n)
		copy(payload, buf[:n])

		dg := models.RawDatagram{
			Payload:    payload,
			SourceAddr: addr,
			ReceivedAt: now,
		}

		select {
		case l.out <- dg:
		default:
			// Queue full, drop rather than block the socket
			l.datagramsDropped.Add(1)
			metrics.DatagramsDropped.Inc()
		}
	}
}

// LocalAddr returns the bound address, or the zero value before bind.
func (l *Listener) LocalAddr() netip.AddrPort {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return netip.AddrPort{}
	}
	if udpAddr, ok := l.conn.LocalAddr().(*net.UDPAddr); ok {
		return udpAddr.AddrPort()
	}
	return netip.AddrPort{}
}
