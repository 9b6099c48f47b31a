// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package server exposes the HTTP surface: the subscriber websocket
// endpoint, Prometheus metrics, health, and a JSON stats snapshot.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/arcspark/arclight/internal/broadcast"
	"github.com/arcspark/arclight/internal/config"
	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/metrics"
)

// AuthFunc decides whether a websocket attach request may proceed.
// Authentication itself lives outside this service; the gate is injected
// so deployments can plug in their gateway's decision.
type AuthFunc func(*http.Request) bool

// AllowAll is the default gate for deployments fronted by a trusted proxy.
func AllowAll(*http.Request) bool { return true }

// Server is the HTTP/websocket front of the broadcast stage.
type Server struct {
	httpServer *http.Server
	hub        *broadcast.Hub
	authorize  AuthFunc
	sendBuffer int
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// New builds the server and its router. A nil authorize gate admits all.
func New(cfg config.ServerConfig, bcCfg config.BroadcastConfig, hub *broadcast.Hub, authorize AuthFunc) *Server {
	if authorize == nil {
		authorize = AllowAll
	}

	s := &Server{
		hub:        hub,
		authorize:  authorize,
		sendBuffer: bcCfg.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin checking is the deployment gateway's concern
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.With().Str("component", "http-server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		// No WriteTimeout: websocket connections are long-lived
	}
	return s
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully. It satisfies suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleWebSocket authenticates, upgrades, and attaches a subscriber.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own error response
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := broadcast.NewClient(s.hub, conn, s.sendBuffer)
	s.hub.Register <- client
	client.Start()

	s.logger.Info().
		Str("connection_id", client.ConnID()).
		Uint64("client_id", client.ID()).
		Str("remote", r.RemoteAddr).
		Msg("subscriber connected")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStats serves the pollable pipeline snapshot as JSON.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap, err := metrics.Collect()
	if err != nil {
		http.Error(w, "failed to collect stats", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode stats")
	}
}
