// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/sentinelgate/internal/geo"
	"github.com/tomtom215/sentinelgate/internal/logging"
	"github.com/tomtom215/sentinelgate/internal/metrics"
	"github.com/tomtom215/sentinelgate/internal/pubsub"
)

// Risk score contributions.
const (
	riskBaseAuthFailure      = 30
	riskBaseAuthSuccess      = 10
	riskBaseCredentialAccess = 25
	riskBaseAPIUsage         = 5
	riskBaseSystemAccess     = 20
	riskBaseDataAccess       = 15
	riskBaseDefault          = 10

	riskProxy         = 15
	riskTor           = 25
	riskBlockedIP     = 40
	riskSuspendedUser = 35
	riskOffHours      = 10

	// Normal activity window for the off-hours adjustment.
	businessHourStart = 6
	businessHourEnd   = 22
)

// EventInput is the caller-supplied part of a security event.
type EventInput struct {
	Category  EventCategory  `json:"category"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	SourceIP  string         `json:"source_ip"`
	UserAgent string         `json:"user_agent,omitempty"`
	Severity  Severity       `json:"severity,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Validate checks the input's required fields.
func (in EventInput) Validate() error {
	switch in.Category {
	case CategoryAuthentication, CategoryCredentialAccess, CategoryAPIUsage,
		CategorySystemAccess, CategoryDataAccess:
	case "":
		return fmt.Errorf("event: category required")
	default:
		return fmt.Errorf("event: unknown category %q", in.Category)
	}
	if in.SourceIP == "" {
		return fmt.Errorf("event: source_ip required")
	}
	switch in.Severity {
	case "", SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("event: unknown severity %q", in.Severity)
	}
	return nil
}

// RecordEvent is the engine's entry point. It resolves the source location,
// computes the risk score exactly once, persists the event, publishes it,
// evaluates the threat rules, and folds successful authentications into the
// subject's behavior profile. A durable-store write failure is returned
// (wrapping ErrStoreUnavailable); every other collaborator failure is
// contained and logged.
func (e *Engine) RecordEvent(ctx context.Context, in EventInput) (*SecurityEvent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	event := &SecurityEvent{
		ID:        uuid.NewString(),
		Timestamp: e.clk.Now(),
		Category:  in.Category,
		Type:      in.Type,
		UserID:    in.UserID,
		SourceIP:  in.SourceIP,
		UserAgent: in.UserAgent,
		Severity:  in.Severity,
		Details:   in.Details,
	}

	event.Location = e.resolveLocation(ctx, in.SourceIP)
	event.RiskScore = e.riskScore(event)
	if event.Severity == "" {
		event.Severity = severityForScore(event.RiskScore)
	}

	if err := e.events.Record(ctx, event); err != nil {
		metrics.EventPersistErrors.Inc()
		return nil, err
	}
	metrics.EventsRecorded.WithLabelValues(string(event.Category)).Inc()
	metrics.EventRiskScore.Observe(float64(event.RiskScore))

	if e.bus != nil {
		if err := e.bus.Publish(ctx, pubsub.TopicSecurityEvent, event); err != nil {
			logging.Warn().Err(err).Str("event_id", event.ID).Msg("event publish failed")
		}
	}

	e.evaluateRules(ctx, event)

	if event.IsAuthSuccess() && event.UserID != "" {
		err := e.profiles.RecordAuthentication(ctx, event.UserID, event.SourceIP, event.Location, event.Timestamp)
		if err != nil {
			logging.Warn().Err(err).Str("user_id", event.UserID).Msg("profile update failed")
		}
	}

	return event, nil
}

// resolveLocation maps the source address to a location. Private and
// loopback addresses short-circuit to a synthetic local-network location;
// resolver failures degrade to no location.
func (e *Engine) resolveLocation(ctx context.Context, ip string) *geo.Location {
	if geo.IsPrivate(ip) {
		loc := geo.LocalNetwork()
		return &loc
	}
	if e.resolver == nil {
		return nil
	}

	loc, err := e.resolver.Resolve(ctx, ip)
	if err != nil {
		metrics.GeoResolutionErrors.Inc()
		logging.Debug().Err(err).Str("ip", ip).Msg("geo resolution failed")
		return nil
	}
	return loc
}

// riskScore computes the event's risk exactly once at intake.
func (e *Engine) riskScore(event *SecurityEvent) int {
	score := riskBaseDefault
	switch event.Category {
	case CategoryAuthentication:
		if event.Type == TypeFailure {
			score = riskBaseAuthFailure
		} else {
			score = riskBaseAuthSuccess
		}
	case CategoryCredentialAccess:
		score = riskBaseCredentialAccess
	case CategoryAPIUsage:
		score = riskBaseAPIUsage
	case CategorySystemAccess:
		score = riskBaseSystemAccess
	case CategoryDataAccess:
		score = riskBaseDataAccess
	}

	if loc := event.Location; loc != nil {
		if loc.IsProxy {
			score += riskProxy
		}
		if loc.IsTor {
			score += riskTor
		}
	}
	if e.enforcement.IsIPBlocked(event.SourceIP) {
		score += riskBlockedIP
	}
	if event.UserID != "" && e.enforcement.IsUserSuspended(event.UserID) {
		score += riskSuspendedUser
	}

	hour := event.Timestamp.Hour()
	if hour < businessHourStart || hour >= businessHourEnd {
		score += riskOffHours
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// severityForScore derives an event severity when the caller supplied none.
func severityForScore(score int) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
