// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"

	"github.com/tomtom215/sentinelgate/internal/store"
)

const failedAuthCounterPrefix = "counter:failed_auth:"

// FailedAuthEvaluator detects bursts of failed authentications using a
// windowed counter in the durable store. The counter key carries the source
// address and, when configured, the subject, so bursts are tracked per
// attacker rather than globally.
type FailedAuthEvaluator struct {
	kv store.Store
}

// NewFailedAuthEvaluator creates the failed-auth burst evaluator.
func NewFailedAuthEvaluator(kv store.Store) *FailedAuthEvaluator {
	return &FailedAuthEvaluator{kv: kv}
}

// Kind implements Evaluator.
func (e *FailedAuthEvaluator) Kind() ConditionKind { return ConditionFailedAuthBurst }

// Evaluate increments the burst counter for failed authentications and
// triggers when the post-increment count reaches the threshold. The counter
// expires with the condition window, so the window starts at the first
// failure and is not extended by later ones.
func (e *FailedAuthEvaluator) Evaluate(ctx context.Context, cond Condition, event *SecurityEvent) (bool, error) {
	if !event.IsAuthFailure() {
		return false, nil
	}

	key := failedAuthCounterPrefix + event.SourceIP
	if cond.FailedAuth != nil && cond.FailedAuth.CheckUserAndIP {
		key = failedAuthCounterPrefix + event.UserID + ":" + event.SourceIP
	}

	count, err := e.kv.Increment(ctx, key, cond.Window)
	if err != nil {
		return false, fmt.Errorf("failed-auth counter %s: %w", key, err)
	}
	return count >= int64(cond.Threshold), nil
}
