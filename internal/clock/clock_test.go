// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresAfter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	ch := fc.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("timer fired before advance")
	default:
	}

	fc.Advance(5 * time.Second)

	select {
	case got := <-ch:
		if !got.Equal(start.Add(5 * time.Second)) {
			t.Errorf("fired at %v, want %v", got, start.Add(5*time.Second))
		}
	default:
		t.Fatal("timer did not fire after advance")
	}
}

func TestFakeAfterZeroFiresImmediately(t *testing.T) {
	fc := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	select {
	case <-fc.After(0):
	default:
		t.Fatal("zero-duration timer did not fire immediately")
	}
}

func TestFakeTicker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	ticker := fc.NewTicker(10 * time.Second)
	defer ticker.Stop()

	fc.Advance(35 * time.Second)

	// Three full intervals elapsed.
	for i := 0; i < 3; i++ {
		select {
		case <-ticker.C():
		default:
			t.Fatalf("expected tick %d", i+1)
		}
	}

	select {
	case <-ticker.C():
		t.Fatal("unexpected extra tick")
	default:
	}
}

func TestFakeTickerStop(t *testing.T) {
	fc := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	ticker := fc.NewTicker(time.Second)
	ticker.Stop()
	fc.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}

func TestRealClockNow(t *testing.T) {
	c := New()
	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v outside [%v, %v]", got, before, after)
	}
}
