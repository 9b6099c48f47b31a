// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package broadcast

import (
	"context"
	"sort"
	"sync"

	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the shutdown deadline elapsed
	// before the hub drained, which may point at a hung operation.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Disconnect causes recorded in the subscriber_disconnects metric.
const (
	DisconnectCauseBackpressure = "backpressure"
	DisconnectCauseReadError    = "read_error"
	DisconnectCauseWriteError   = "write_error"
	DisconnectCauseShutdown     = "shutdown"
)

// Hub maintains the set of attached subscribers and fans out serialized
// batch payloads to every one of them. Each subscriber has a bounded send
// buffer; a subscriber whose buffer is full at dispatch time is forcibly
// disconnected so one slow consumer cannot stall the others.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub event loop until ctx is cancelled, then closes every
// attached subscriber. It satisfies suture.Service.
//
// DETERMINISM: Uses priority-based selection so behavior stays predictable
// when several channels are ready at once:
//   - Priority 1: Context cancellation (shutdown)
//   - Priority 2: Subscriber lifecycle events (Register/Unregister)
//   - Priority 3: Batch payloads
//
// Lifecycle-before-payload ordering guarantees subscriber state is settled
// before a batch is fanned out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Handle subscriber lifecycle events (non-blocking check)
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		// Priority 3: Handle batch payloads or wait for any event (blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case payload := <-h.broadcast:
			h.broadcastToClients(payload)
		}
	}
}

// Dispatch queues a serialized batch for fan-out. It implements Dispatcher.
// A full hub queue drops the batch rather than blocking the batcher.
func (h *Hub) Dispatch(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		logging.Warn().Msg("broadcast queue full, dropping batch")
	}
}

// GetClientCount returns the number of attached subscribers.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
	logging.Info().
		Uint64("client_id", client.id).
		Str("connection_id", client.connID).
		Int("total_clients", count).
		Msg("subscriber attached")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.Subscribers.Set(float64(count))
	logging.Info().
		Uint64("client_id", client.id).
		Str("connection_id", client.connID).
		Int("total_clients", count).
		Msg("subscriber detached")
}

// broadcastToClients sends one payload to every subscriber in a
// deterministic order.
//
// DETERMINISM: Subscribers are sorted by their monotonically assigned ID so
// delivery order is reproducible across runs, which keeps tests stable and
// makes backpressure disconnects attributable.
func (h *Hub) broadcastToClients(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	// Track subscribers to remove (can't modify map during iteration)
	var toRemove []*Client

	for _, client := range clients {
		select {
		case client.send <- payload:
		default:
			// Send buffer full, the subscriber is not keeping up
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.SubscriberDisconnects.WithLabelValues(DisconnectCauseBackpressure).Inc()
		logging.Warn().
			Uint64("client_id", client.id).
			Str("connection_id", client.connID).
			Msg("subscriber send buffer full, disconnecting")
	}

	if len(toRemove) > 0 {
		metrics.Subscribers.Set(float64(len(h.clients)))
	}
}

// closeAllClients closes every subscriber in ID order during shutdown.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.SubscriberDisconnects.WithLabelValues(DisconnectCauseShutdown).Inc()
	}
	metrics.Subscribers.Set(0)
}

// logGracefulShutdown closes all subscribers and logs structured shutdown
// information. ctx.Err() is not logged as an error because cancellation is
// the expected shutdown trigger.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "broadcast-hub").
		Str("reason", string(shutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("broadcast hub stopped")
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}
