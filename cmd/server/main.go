// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package main is the entry point for the Sentinelgate server.
//
// Sentinelgate ingests security events (authentication attempts, API usage,
// data access), scores them for risk, evaluates detection rules against
// per-user behavioral baselines, and responds automatically by blocking IPs,
// suspending users, requiring step-up authentication, raising alerts, and
// opening incidents.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from file and environment (Koanf v2)
//  2. Store: BadgerDB for durable events, incidents, and enforcement
//     markers (or an in-memory store for development)
//  3. Geo resolver: optional HTTP geolocation client behind a circuit breaker
//  4. Event bus: in-process pub/sub with an optional NATS JetStream mirror
//  5. Engine: rules, evaluators, enforcement, incidents, action executor
//  6. Supervisor tree: sweeper and NATS mirror in the engine layer, HTTP
//     server in the API layer
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (SENTINELGATE_ prefix, e.g. SENTINELGATE_SERVER_PORT)
//   - Config file (config.yaml, or SENTINELGATE_CONFIG)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete
//   - Closes the event bus and the durable store
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/sentinelgate/internal/api"
	"github.com/tomtom215/sentinelgate/internal/config"
	"github.com/tomtom215/sentinelgate/internal/geo"
	"github.com/tomtom215/sentinelgate/internal/logging"
	"github.com/tomtom215/sentinelgate/internal/pubsub"
	"github.com/tomtom215/sentinelgate/internal/store"
	"github.com/tomtom215/sentinelgate/internal/supervisor"
	"github.com/tomtom215/sentinelgate/internal/threat"
)

func main() {
	// Load configuration first to get logging settings.
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
		Str("addr", cfg.Server.Addr()).
		Bool("store_in_memory", cfg.Store.InMemory).
		Bool("geo_enabled", cfg.Geo.Enabled).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Sentinelgate")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
	logging.Info().Msg("Shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	bus := pubsub.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	var resolver geo.Resolver
	if cfg.Geo.Enabled {
		resolver = geo.NewHTTPResolver(geo.HTTPResolverConfig{
			BaseURL: cfg.Geo.Endpoint,
			Timeout: cfg.Geo.Timeout,
		})
		logging.Info().Str("endpoint", cfg.Geo.Endpoint).Msg("Geolocation enabled")
	} else {
		logging.Info().Msg("Geolocation disabled, locations resolve to unknown")
	}

	var ruleDefs []*threat.Rule
	if cfg.Rules.Path != "" {
		ruleDefs, err = threat.LoadRulesFile(cfg.Rules.Path)
		if err != nil {
			return err
		}
		logging.Info().
			Str("path", cfg.Rules.Path).
			Int("rules", len(ruleDefs)).
			Msg("Loaded rule definitions, built-ins replaced")
	}

	engine, err := threat.New(kv, bus, resolver, threat.Options{
		Rules:      ruleDefs,
		WebhookURL: cfg.Rules.WebhookURL,
	})
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	logging.Info().
		Int("rules", len(engine.Rules().List())).
		Msg("Engine started, enforcement state restored")

	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddEngineService(threat.NewSweeper(engine))
	if cfg.NATS.Enabled {
		tree.AddEngineService(pubsub.NewNATSMirror(bus, pubsub.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}))
		logging.Info().Str("url", cfg.NATS.URL).Msg("NATS mirror enabled")
	}
	router := api.NewRouter(engine, cfg.Server)
	tree.AddAPIService(supervisor.NewHTTPServer(cfg.Server, router.Handler()))

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore selects the durable backend. The in-memory store is for
// development and tests; enforcement markers do not survive restarts with it.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.InMemory {
		logging.Warn().Msg("Using in-memory store, state will not survive restarts")
		return store.NewMemoryStore(nil), nil
	}
	return store.NewBadgerStore(store.BadgerConfig{
		Dir:        cfg.Store.Path,
		GCInterval: cfg.Store.GCInterval,
	})
}
