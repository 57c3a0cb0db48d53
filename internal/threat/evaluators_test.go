// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/sentinelgate/internal/clock"
	"github.com/tomtom215/sentinelgate/internal/geo"
	"github.com/tomtom215/sentinelgate/internal/profile"
	"github.com/tomtom215/sentinelgate/internal/store"
)

func TestFailedAuthEvaluatorIgnoresNonFailures(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore(nil)
	ev := NewFailedAuthEvaluator(kv)

	cond := Condition{
		Kind:       ConditionFailedAuthBurst,
		Threshold:  1,
		Window:     time.Minute,
		FailedAuth: &FailedAuthParams{CheckUserAndIP: true},
	}
	event := &SecurityEvent{Category: CategoryAuthentication, Type: TypeSuccess, UserID: "u1", SourceIP: "1.2.3.4"}

	hit, err := ev.Evaluate(ctx, cond, event)
	if err != nil || hit {
		t.Errorf("Evaluate = %v, %v; success events must not count", hit, err)
	}
}

func TestFailedAuthEvaluatorKeying(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	kv := store.NewMemoryStore(fc)
	ev := NewFailedAuthEvaluator(kv)

	cond := Condition{
		Kind:       ConditionFailedAuthBurst,
		Threshold:  3,
		Window:     5 * time.Minute,
		FailedAuth: &FailedAuthParams{CheckUserAndIP: true},
	}

	fail := func(user, ip string) bool {
		t.Helper()
		hit, err := ev.Evaluate(ctx, cond, &SecurityEvent{
			Category: CategoryAuthentication, Type: TypeFailure, UserID: user, SourceIP: ip,
		})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		return hit
	}

	// Different users from the same address count separately.
	fail("u1", "1.2.3.4")
	fail("u2", "1.2.3.4")
	fail("u1", "1.2.3.4")
	if fail("u2", "1.2.3.4") {
		t.Error("u2 at 2 failures must not trigger")
	}
	if !fail("u1", "1.2.3.4") {
		t.Error("u1 at 3 failures must trigger")
	}

	// Window expiry resets the counter.
	fc.Advance(6 * time.Minute)
	if fail("u1", "1.2.3.4") {
		t.Error("counter must reset after window")
	}
}

func TestRateAnomalyBaselineComparison(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	kv := store.NewMemoryStore(fc)
	profiles := profile.NewStore(kv, fc)
	ev := NewRateAnomalyEvaluator(kv, profiles)

	p := profile.New("u1", fc.Now())
	p.APIUsage.AvgRequestsPerHour = 10 // baseline limit: 3x10 = 30/h
	if err := profiles.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cond := Condition{
		Kind:        ConditionRateAnomaly,
		Threshold:   1000,
		Window:      time.Hour,
		RateAnomaly: &RateAnomalyParams{PerUser: true, CompareToBaseline: true},
	}
	event := &SecurityEvent{Category: CategoryAPIUsage, UserID: "u1", SourceIP: "1.2.3.4"}

	for i := 0; i < 30; i++ {
		hit, err := ev.Evaluate(ctx, cond, event)
		if err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
		if hit {
			t.Fatalf("triggered at count %d, inside 3x baseline", i+1)
		}
	}
	hit, err := ev.Evaluate(ctx, cond, event)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !hit {
		t.Error("expected trigger above 3x baseline")
	}
}

func TestRateAnomalyRawThresholdWithoutProfile(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore(nil)
	profiles := profile.NewStore(kv, nil)
	ev := NewRateAnomalyEvaluator(kv, profiles)

	cond := Condition{
		Kind:        ConditionRateAnomaly,
		Threshold:   5,
		Window:      time.Hour,
		RateAnomaly: &RateAnomalyParams{PerUser: true, CompareToBaseline: true},
	}
	event := &SecurityEvent{Category: CategoryAPIUsage, UserID: "nobody", SourceIP: "1.2.3.4"}

	var hit bool
	var err error
	for i := 0; i < 5; i++ {
		hit, err = ev.Evaluate(ctx, cond, event)
		if err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
	}
	if !hit {
		t.Error("expected raw threshold to apply without a profile")
	}
}

func TestAnomalyScore(t *testing.T) {
	base := profile.New("u1", time.Now())
	base.LoginHours = []int{9, 10}
	base.KnownIPs = []string{"8.8.8.8"}
	base.KnownLocations = []geo.Location{{Latitude: 37.77, Longitude: -122.42}}

	at := func(hour int) time.Time {
		return time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC)
	}
	nearby := &geo.Location{Latitude: 37.8, Longitude: -122.4}
	distant := &geo.Location{Latitude: 51.5, Longitude: -0.13}
	torExit := &geo.Location{Latitude: 51.5, Longitude: -0.13, IsTor: true}

	tests := []struct {
		name  string
		event *SecurityEvent
		want  int
	}{
		{
			"fully normal",
			&SecurityEvent{Timestamp: at(9), SourceIP: "8.8.8.8", Location: nearby},
			0,
		},
		{
			"unusual hour only",
			&SecurityEvent{Timestamp: at(3), SourceIP: "8.8.8.8", Location: nearby},
			20,
		},
		{
			"unknown ip only",
			&SecurityEvent{Timestamp: at(9), SourceIP: "9.9.9.9", Location: nearby},
			15,
		},
		{
			"distant location",
			&SecurityEvent{Timestamp: at(9), SourceIP: "8.8.8.8", Location: distant},
			30,
		},
		{
			"everything wrong",
			&SecurityEvent{Timestamp: at(3), SourceIP: "9.9.9.9", Location: torExit},
			85,
		},
		{
			"no location",
			&SecurityEvent{Timestamp: at(3), SourceIP: "9.9.9.9"},
			35,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnomalyScore(base, tt.event); got != tt.want {
				t.Errorf("AnomalyScore = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBehaviorAnomalyFailsClosedWithoutProfile(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore(nil)
	ev := NewBehaviorAnomalyEvaluator(profile.NewStore(kv, nil))

	cond := Condition{Kind: ConditionBehaviorAnomaly, Threshold: 0, Window: 10 * time.Minute}
	hit, err := ev.Evaluate(ctx, cond, &SecurityEvent{UserID: "nobody", SourceIP: "1.2.3.4"})
	if err != nil || hit {
		t.Errorf("Evaluate = %v, %v; want no trigger without profile", hit, err)
	}
}

func TestDetectPatterns(t *testing.T) {
	mk := func(n int, cat EventCategory, typ string) []*SecurityEvent {
		out := make([]*SecurityEvent, n)
		for i := range out {
			out[i] = &SecurityEvent{ID: fmt.Sprintf("e%d", i), Category: cat, Type: typ}
		}
		return out
	}

	tests := []struct {
		name   string
		events []*SecurityEvent
		want   []string
	}{
		{"empty", nil, nil},
		{"ten downloads is not bulk", mk(10, CategoryDataAccess, TypeDownload), nil},
		{"eleven downloads is bulk", mk(11, CategoryDataAccess, TypeDownload), []string{PatternBulkDownload}},
		{"twenty credential reads is not enumeration", mk(20, CategoryCredentialAccess, ""), nil},
		{"twentyone credential reads is enumeration", mk(21, CategoryCredentialAccess, ""), []string{PatternCredentialEnumeration}},
		{"hundred events is not rapid", mk(100, CategoryAPIUsage, ""), nil},
		{"hundred one events is rapid", mk(101, CategoryAPIUsage, ""), []string{PatternRapidAccess}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectPatterns(tt.events)
			if len(got) != len(tt.want) {
				t.Fatalf("DetectPatterns = %v, want %v", got, tt.want)
			}
			for _, p := range tt.want {
				if !got[p] {
					t.Errorf("missing pattern %s in %v", p, got)
				}
			}
		})
	}
}

func TestPatternEvaluatorScopesToSubjectAndWindow(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	kv := store.NewMemoryStore(fc)
	log := NewEventLog(kv, fc)
	ev := NewPatternEvaluator(log)

	record := func(user string) {
		t.Helper()
		e := &SecurityEvent{
			ID:        fmt.Sprintf("%s-%d", user, fc.Now().UnixNano()),
			Timestamp: fc.Now(),
			Category:  CategoryDataAccess,
			Type:      TypeDownload,
			UserID:    user,
			SourceIP:  "1.2.3.4",
		}
		if err := log.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
		fc.Advance(time.Millisecond)
	}

	// 11 downloads for u1 inside the window; u2's activity must not leak in.
	for i := 0; i < 11; i++ {
		record("u1")
		record("u2")
	}

	cond := Condition{
		Kind:              ConditionSuspiciousPattern,
		Window:            10 * time.Minute,
		SuspiciousPattern: &SuspiciousPatternParams{Patterns: []string{PatternBulkDownload}},
	}

	hit, err := ev.Evaluate(ctx, cond, &SecurityEvent{UserID: "u1", SourceIP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !hit {
		t.Error("expected bulk_download for u1")
	}

	// Outside the window nothing matches.
	fc.Advance(11 * time.Minute)
	hit, err = ev.Evaluate(ctx, cond, &SecurityEvent{UserID: "u1", SourceIP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if hit {
		t.Error("events outside the window must not count")
	}
}
