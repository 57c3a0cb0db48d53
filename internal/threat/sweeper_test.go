// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweeperStopsOnCancel(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	s := NewSweeper(e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop on cancellation")
	}
}

func TestSweeperAutoResolvesStaleIncidents(t *testing.T) {
	ctx := context.Background()
	e, fc, _ := newTestEngine(t, nil)

	in := EventInput{
		Category: CategoryAuthentication,
		Type:     TypeFailure,
		UserID:   "u1",
		SourceIP: "10.0.0.5",
	}
	for i := 0; i < 5; i++ {
		if _, err := e.RecordEvent(ctx, in); err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}
	if _, active := e.Incidents().Counts(); active != 1 {
		t.Fatal("expected one active incident")
	}

	s := NewSweeper(e)
	serveCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(serveCtx) }()

	// Let Serve register its tickers before driving the clock.
	time.Sleep(20 * time.Millisecond)
	fc.Advance(25 * time.Hour)

	deadline := time.After(2 * time.Second)
	for {
		if _, active := e.Incidents().Counts(); active == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not auto-resolve the stale incident")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
