// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Command arclight runs the firewall telemetry server: UDP syslog intake,
// parse and geo enrichment, and batched websocket broadcast.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcspark/arclight/internal/broadcast"
	"github.com/arcspark/arclight/internal/bus"
	"github.com/arcspark/arclight/internal/config"
	"github.com/arcspark/arclight/internal/deadletter"
	"github.com/arcspark/arclight/internal/enrich"
	"github.com/arcspark/arclight/internal/geo"
	"github.com/arcspark/arclight/internal/listener"
	"github.com/arcspark/arclight/internal/logging"
	"github.com/arcspark/arclight/internal/parser"
	"github.com/arcspark/arclight/internal/pipeline"
	"github.com/arcspark/arclight/internal/server"
	"github.com/arcspark/arclight/internal/supervisor"
)

const listenerStopTimeout = 5 * time.Second

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("udp_port", cfg.Listener.Port).
		Int("http_port", cfg.Server.Port).
		Msg("Starting Arclight")

	// Dead-letter sink opens first: a deployment that cannot persist
	// rejected input should fail fast rather than silently discard it.
	sink, err := deadletter.NewSink(deadletter.Config{
		Path:          cfg.DeadLetter.Path,
		RotateBytes:   cfg.DeadLetter.RotateBytes,
		FlushInterval: cfg.DeadLetter.FlushInterval,
	})
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.DeadLetter.Path).Msg("Failed to open dead-letter sink")
	}

	// Geolocation provider. A missing database degrades to events without
	// geo data rather than refusing to start.
	var provider geo.Provider = geo.NoopProvider{}
	if cfg.Geo.DatabasePath != "" {
		mmdb, err := geo.NewMaxMindProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logging.Warn().Err(err).
				Str("path", cfg.Geo.DatabasePath).
				Msg("Geolocation database unavailable, events will carry no geo data")
		} else {
			defer func() {
				if err := mmdb.Close(); err != nil {
					logging.Error().Err(err).Msg("Error closing geolocation database")
				}
			}()
			provider = geo.NewBreakerProvider(mmdb)
			logging.Info().Str("provider", mmdb.Name()).Msg("Geolocation provider initialized")
		}
	} else {
		logging.Info().Msg("No geolocation database configured, running without geo enrichment")
	}

	cache := geo.NewCache(cfg.Geo.CacheSize, cfg.Geo.CacheTTL)

	targetNets, invalid := cfg.Pipeline.ParseTargetNetworks()
	for _, cidr := range invalid {
		logging.Warn().Str("cidr", cidr).Msg("Ignoring invalid target network")
	}
	enricher := enrich.NewCoordinator(cache, provider, targetNets)

	eventBus := bus.New()
	defer func() {
		if err := eventBus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	hub := broadcast.NewHub()
	rate := broadcast.NewRateController(cfg.Broadcast.TargetEventsPerSecond)
	batcher := broadcast.NewBatcher(broadcast.BatcherConfig{
		Window:       cfg.Broadcast.Window,
		MaxBatchSize: cfg.Broadcast.MaxBatchSize,
	}, rate, hub)

	udpListener := listener.New(cfg.Listener)
	pipe := pipeline.New(udpListener, parser.New(), eventBus, enricher, sink, batcher)

	httpServer := server.New(cfg.Server, cfg.Broadcast, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribers attach before the listener produces anything
	if err := pipe.Start(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to attach pipeline subscribers")
	}
	defer pipe.Stop()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(udpListener)
	tree.AddPipelineService(pipe)
	tree.AddPipelineService(batcher)
	tree.AddPipelineService(sink)
	tree.AddAPIService(hub)
	tree.AddAPIService(httpServer)

	// SIGHUP reapplies the runtime-tunable settings without restart.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			fresh, err := config.Load()
			if err != nil {
				logging.Warn().Err(err).Msg("Reload failed, keeping current settings")
				continue
			}
			nets, bad := fresh.Pipeline.ParseTargetNetworks()
			for _, cidr := range bad {
				logging.Warn().Str("cidr", cidr).Msg("Ignoring invalid target network")
			}
			enricher.SetTargetNetworks(nets)
			batcher.SetLimits(fresh.Broadcast.Window, fresh.Broadcast.MaxBatchSize)
			rate.SetTarget(fresh.Broadcast.TargetEventsPerSecond)
			logging.SetLevelString(fresh.Logging.Level)
			logging.Info().Msg("Runtime settings reapplied")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

		// Ordered shutdown: stop intake first so downstream stages drain
		// a bounded backlog, flush the open batch, then cancel the tree.
		if err := udpListener.Stop(listenerStopTimeout); err != nil {
			logging.Warn().Err(err).Msg("Listener did not stop cleanly")
		}
		batcher.Flush()
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Arclight stopped gracefully")
}
