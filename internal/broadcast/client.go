// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package broadcast

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/metrics"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxInboundSize    = 1024 // subscribers only receive; inbound traffic is control frames
	defaultSendBuffer = 64
)

// clientIDCounter assigns unique, monotonically increasing subscriber IDs.
// DETERMINISM: IDs give the hub a stable sort key for fan-out order.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
// Subscribers are receive-only; anything they send beyond control frames is
// read and discarded to service the connection.
type Client struct {
	id     uint64
	connID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
}

// NewClient creates a subscriber with a bounded send buffer. sendBuffer <= 0
// selects the default.
func NewClient(hub *Hub, conn *websocket.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Client{
		id:     clientIDCounter.Add(1),
		connID: uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
}

// ID returns the subscriber's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// ConnID returns the connection correlation id, logged on every lifecycle
// event of this subscriber.
func (c *Client) ConnID() string {
	return c.connID
}

// readPump drains the connection so control frames are processed and closes
// the subscriber when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(maxInboundSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).
					Uint64("client_id", c.id).
					Str("connection_id", c.connID).
					Msg("unexpected websocket close error")
				metrics.SubscriberDisconnects.WithLabelValues(DisconnectCauseReadError).Inc()
			}
			return
		}
	}
}

// writePump moves payloads from the send buffer onto the wire and keeps the
// connection alive with pings. A write error terminates the subscriber.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Error().Err(err).
					Uint64("client_id", c.id).
					Str("connection_id", c.connID).
					Msg("failed to write batch")
				metrics.SubscriberDisconnects.WithLabelValues(DisconnectCauseWriteError).Inc()
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the subscriber.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
