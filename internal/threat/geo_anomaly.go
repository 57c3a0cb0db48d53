// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"

	"github.com/tomtom215/sentinelgate/internal/profile"
)

// GeoAnomalyEvaluator detects logins from locations far from everything the
// subject's baseline has seen. Subjects without a profile or without known
// locations never trigger: the first login from anywhere is how the baseline
// gets seeded, not an anomaly.
type GeoAnomalyEvaluator struct {
	profiles *profile.Store
}

// NewGeoAnomalyEvaluator creates the geographic anomaly evaluator.
func NewGeoAnomalyEvaluator(profiles *profile.Store) *GeoAnomalyEvaluator {
	return &GeoAnomalyEvaluator{profiles: profiles}
}

// Kind implements Evaluator.
func (e *GeoAnomalyEvaluator) Kind() ConditionKind { return ConditionGeoAnomaly }

// Evaluate triggers when the minimum great-circle distance from the event
// location to every known location exceeds the threshold (kilometers).
func (e *GeoAnomalyEvaluator) Evaluate(ctx context.Context, cond Condition, event *SecurityEvent) (bool, error) {
	if event.UserID == "" || event.Location == nil || event.Location.Unknown() {
		return false, nil
	}

	p, err := e.profiles.Get(ctx, event.UserID)
	if err != nil {
		return false, fmt.Errorf("geo anomaly profile lookup: %w", err)
	}
	if p == nil {
		return false, nil
	}

	minKm, ok := p.MinDistanceKm(*event.Location)
	if !ok {
		return false, nil
	}
	return minKm > cond.Threshold, nil
}
