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

// Behavior anomaly score contributions.
const (
	scoreUnusualHour       = 20
	scoreLocationDeviation = 30
	scoreUnknownIP         = 15
	scoreAnonymizedSource  = 20
)

// BehaviorAnomalyEvaluator scores how far an event deviates from the
// subject's learned baseline and triggers above the condition threshold.
// Subjects without a profile never trigger.
type BehaviorAnomalyEvaluator struct {
	profiles *profile.Store
}

// NewBehaviorAnomalyEvaluator creates the behavior anomaly evaluator.
func NewBehaviorAnomalyEvaluator(profiles *profile.Store) *BehaviorAnomalyEvaluator {
	return &BehaviorAnomalyEvaluator{profiles: profiles}
}

// Kind implements Evaluator.
func (e *BehaviorAnomalyEvaluator) Kind() ConditionKind { return ConditionBehaviorAnomaly }

// Evaluate computes the anomaly score in [0,100] and compares it to the
// threshold.
func (e *BehaviorAnomalyEvaluator) Evaluate(ctx context.Context, cond Condition, event *SecurityEvent) (bool, error) {
	if event.UserID == "" {
		return false, nil
	}

	p, err := e.profiles.Get(ctx, event.UserID)
	if err != nil {
		return false, fmt.Errorf("behavior anomaly profile lookup: %w", err)
	}
	if p == nil {
		return false, nil
	}

	score := AnomalyScore(p, event)
	return float64(score) >= cond.Threshold, nil
}

// AnomalyScore sums the per-dimension deviations of an event from the
// profile: unusual login hour, location beyond the profile's deviation
// threshold from every known location, unseen source address, and an
// anonymized source. Clamped to [0,100].
func AnomalyScore(p *profile.BehaviorProfile, event *SecurityEvent) int {
	score := 0

	if len(p.LoginHours) > 0 && !p.HasLoginHour(event.Timestamp.Hour()) {
		score += scoreUnusualHour
	}

	if event.Location != nil && !event.Location.Unknown() {
		if min, ok := p.MinDistanceKm(*event.Location); ok && min > p.Thresholds.LocationDeviationKm {
			score += scoreLocationDeviation
		}
		if event.Location.IsProxy || event.Location.IsTor {
			score += scoreAnonymizedSource
		}
	}

	if len(p.KnownIPs) > 0 && !p.KnowsIP(event.SourceIP) {
		score += scoreUnknownIP
	}

	if score > 100 {
		score = 100
	}
	return score
}
