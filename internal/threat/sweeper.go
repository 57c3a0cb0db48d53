// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"time"

	"github.com/tomtom215/sentinelgate/internal/logging"
	"github.com/tomtom215/sentinelgate/internal/metrics"
)

// Sweeper intervals.
const (
	markerSweepInterval  = 10 * time.Second
	profileSweepInterval = time.Minute
	retentionInterval    = time.Hour
)

// Sweeper is the engine's background maintenance loop: it reconciles the
// in-memory enforcement sets with their durable markers, periodically
// re-evaluates profiles, and applies retention to events and incidents.
// It runs as a supervised service.
type Sweeper struct {
	engine *Engine
}

// NewSweeper creates the sweeper for an engine.
func NewSweeper(engine *Engine) *Sweeper {
	return &Sweeper{engine: engine}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string { return "threat-sweeper" }

// Serve runs the sweep loops until the context is cancelled.
func (s *Sweeper) Serve(ctx context.Context) error {
	clk := s.engine.clk
	markers := clk.NewTicker(markerSweepInterval)
	defer markers.Stop()
	profiles := clk.NewTicker(profileSweepInterval)
	defer profiles.Stop()
	retention := clk.NewTicker(retentionInterval)
	defer retention.Stop()

	logging.Debug().Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-markers.C():
			s.sweepMarkers(ctx)
		case <-profiles.C():
			s.sweepProfiles(ctx)
		case <-retention.C():
			s.sweepRetention(ctx)
		}
	}
}

// sweepMarkers drops enforcement entries whose durable marker expired.
func (s *Sweeper) sweepMarkers(ctx context.Context) {
	s.engine.enforcement.Sweep(ctx)
	metrics.SweeperRuns.WithLabelValues("markers").Inc()
}

// sweepProfiles invalidates cached profiles whose durable entry expired so
// stale baselines stop serving evaluations.
func (s *Sweeper) sweepProfiles(ctx context.Context) {
	s.engine.profiles.SweepExpired(ctx)
	metrics.SweeperRuns.WithLabelValues("profiles").Inc()
}

// sweepRetention trims the recent-events list and auto-resolves stale
// incidents.
func (s *Sweeper) sweepRetention(ctx context.Context) {
	if err := s.engine.events.Purge(ctx); err != nil {
		logging.Warn().Err(err).Msg("event retention purge failed")
	}
	if n := s.engine.incidents.AutoResolve(ctx); n > 0 {
		logging.Info().Int("resolved", n).Msg("auto-resolved stale incidents")
	}
	metrics.SweeperRuns.WithLabelValues("retention").Inc()
}
