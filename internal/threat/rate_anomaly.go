// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"

	"github.com/tomtom215/sentinelgate/internal/profile"
	"github.com/tomtom215/sentinelgate/internal/store"
)

const rateCounterPrefix = "counter:rate:"

// RateAnomalyEvaluator detects request rates far above normal, either against
// a raw threshold or against the subject's learned hourly baseline.
type RateAnomalyEvaluator struct {
	kv       store.Store
	profiles *profile.Store
}

// NewRateAnomalyEvaluator creates the rate anomaly evaluator.
func NewRateAnomalyEvaluator(kv store.Store, profiles *profile.Store) *RateAnomalyEvaluator {
	return &RateAnomalyEvaluator{kv: kv, profiles: profiles}
}

// Kind implements Evaluator.
func (e *RateAnomalyEvaluator) Kind() ConditionKind { return ConditionRateAnomaly }

// Evaluate increments a windowed counter keyed by subject (or source address)
// and compares. With baseline comparison enabled and a profile present, the
// window count is converted to a per-hour rate and checked against the
// profile's rate multiplier times its average; otherwise the raw threshold
// applies. Subjects without a profile fall back to the raw threshold.
func (e *RateAnomalyEvaluator) Evaluate(ctx context.Context, cond Condition, event *SecurityEvent) (bool, error) {
	key := rateCounterPrefix + event.SourceIP
	perUser := cond.RateAnomaly != nil && cond.RateAnomaly.PerUser
	if perUser && event.UserID != "" {
		key = rateCounterPrefix + event.UserID
	}

	count, err := e.kv.Increment(ctx, key, cond.Window)
	if err != nil {
		return false, fmt.Errorf("rate counter %s: %w", key, err)
	}

	if cond.RateAnomaly != nil && cond.RateAnomaly.CompareToBaseline && event.UserID != "" {
		p, err := e.profiles.Get(ctx, event.UserID)
		if err != nil {
			return false, fmt.Errorf("rate anomaly profile lookup: %w", err)
		}
		if p != nil {
			perHour := float64(count) / cond.Window.Hours()
			return perHour > p.Thresholds.RequestRateMultiplier*p.APIUsage.AvgRequestsPerHour, nil
		}
	}

	return float64(count) >= cond.Threshold, nil
}
