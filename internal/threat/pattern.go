// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"
)

// Pattern detection thresholds over the subject's recent events.
const (
	bulkDownloadMin          = 10
	credentialEnumerationMin = 20
	rapidAccessMin           = 100
)

// PatternEvaluator scans the subject's recent events for suspicious access
// patterns: bulk downloads, credential enumeration, and rapid access.
type PatternEvaluator struct {
	events *EventLog
}

// NewPatternEvaluator creates the suspicious-pattern evaluator.
func NewPatternEvaluator(events *EventLog) *PatternEvaluator {
	return &PatternEvaluator{events: events}
}

// Kind implements Evaluator.
func (e *PatternEvaluator) Kind() ConditionKind { return ConditionSuspiciousPattern }

// Evaluate triggers when any pattern named in the condition's parameters is
// detected among the subject's events inside the window.
func (e *PatternEvaluator) Evaluate(ctx context.Context, cond Condition, event *SecurityEvent) (bool, error) {
	if event.UserID == "" || cond.SuspiciousPattern == nil {
		return false, nil
	}

	recent, err := e.events.RecentForUser(ctx, event.UserID, cond.Window)
	if err != nil {
		return false, fmt.Errorf("pattern scan for %s: %w", event.UserID, err)
	}

	detected := DetectPatterns(recent)
	for _, want := range cond.SuspiciousPattern.Patterns {
		if detected[want] {
			return true, nil
		}
	}
	return false, nil
}

// DetectPatterns classifies a subject's recent events. The returned map has
// an entry per detected pattern name.
func DetectPatterns(events []*SecurityEvent) map[string]bool {
	downloads := 0
	credential := 0
	for _, e := range events {
		if e.Category == CategoryDataAccess && e.Type == TypeDownload {
			downloads++
		}
		if e.Category == CategoryCredentialAccess {
			credential++
		}
	}

	detected := make(map[string]bool, 3)
	if downloads > bulkDownloadMin {
		detected[PatternBulkDownload] = true
	}
	if credential > credentialEnumerationMin {
		detected[PatternCredentialEnumeration] = true
	}
	if len(events) > rapidAccessMin {
		detected[PatternRapidAccess] = true
	}
	return detected
}
