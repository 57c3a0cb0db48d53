// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/sentinelgate/internal/geo"
)

// EventCategory classifies a security event.
type EventCategory string

const (
	CategoryAuthentication   EventCategory = "authentication"
	CategoryCredentialAccess EventCategory = "credential_access"
	CategoryAPIUsage         EventCategory = "api_usage"
	CategorySystemAccess     EventCategory = "system_access"
	CategoryDataAccess       EventCategory = "data_access"
)

// Event sub-types the engine treats specially.
const (
	TypeFailure  = "failure"
	TypeSuccess  = "success"
	TypeDownload = "download"
)

// Severity indicates how serious an event, rule, or incident is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is one ingested security-relevant occurrence.
// It is immutable once created except for the append-only Resolved and
// ResponseActions fields; the risk score is computed exactly once at intake.
type SecurityEvent struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Category        EventCategory  `json:"category"`
	Type            string         `json:"type"`
	UserID          string         `json:"user_id,omitempty"`
	SourceIP        string         `json:"source_ip"`
	UserAgent       string         `json:"user_agent,omitempty"`
	Location        *geo.Location  `json:"location,omitempty"`
	Severity        Severity       `json:"severity"`
	Details         map[string]any `json:"details,omitempty"`
	RiskScore       int            `json:"risk_score"`
	Resolved        bool           `json:"resolved"`
	ResponseActions []string       `json:"response_actions,omitempty"`
}

// IsAuthFailure reports whether the event is a failed authentication.
func (e *SecurityEvent) IsAuthFailure() bool {
	return e.Category == CategoryAuthentication && e.Type == TypeFailure
}

// IsAuthSuccess reports whether the event is a successful authentication.
func (e *SecurityEvent) IsAuthSuccess() bool {
	return e.Category == CategoryAuthentication && e.Type == TypeSuccess
}

// ConditionKind identifies one of the five condition evaluators.
type ConditionKind string

const (
	ConditionFailedAuthBurst   ConditionKind = "failed_auth_burst"
	ConditionGeoAnomaly        ConditionKind = "geo_anomaly"
	ConditionRateAnomaly       ConditionKind = "rate_anomaly"
	ConditionBehaviorAnomaly   ConditionKind = "behavior_anomaly"
	ConditionSuspiciousPattern ConditionKind = "suspicious_pattern"
)

// FailedAuthParams parameterizes the failed-auth burst condition.
type FailedAuthParams struct {
	// CheckUserAndIP keys the burst counter by (user, source IP) instead of
	// source IP alone.
	CheckUserAndIP bool `json:"check_user_and_ip"`
}

// RateAnomalyParams parameterizes the rate anomaly condition.
type RateAnomalyParams struct {
	// PerUser keys the rate counter by user instead of source IP.
	PerUser bool `json:"per_user"`

	// CompareToBaseline triggers on 3x the profile's average hourly rate
	// instead of the raw threshold. Without a profile the raw threshold
	// applies, so first-seen subjects are still rate limited.
	CompareToBaseline bool `json:"compare_to_baseline"`
}

// SuspiciousPatternParams parameterizes the suspicious pattern condition.
type SuspiciousPatternParams struct {
	// Patterns lists the pattern names that satisfy the condition:
	// bulk_download, credential_enumeration, rapid_access.
	Patterns []string `json:"patterns"`
}

// Pattern names detected by the suspicious pattern condition.
const (
	PatternBulkDownload          = "bulk_download"
	PatternCredentialEnumeration = "credential_enumeration"
	PatternRapidAccess           = "rapid_access"
)

// Condition is one predicate in a rule. All of a rule's conditions must hold
// for the rule to trigger. Exactly the parameter struct matching Kind may be
// set; Validate enforces this at rule-load time.
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Threshold float64       `json:"threshold"`
	Window    time.Duration `json:"window"`

	FailedAuth        *FailedAuthParams        `json:"failed_auth,omitempty"`
	RateAnomaly       *RateAnomalyParams       `json:"rate_anomaly,omitempty"`
	SuspiciousPattern *SuspiciousPatternParams `json:"suspicious_pattern,omitempty"`
}

// Validate checks the condition's kind, threshold, and parameter pairing.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionFailedAuthBurst, ConditionRateAnomaly:
		if c.Threshold < 1 {
			return fmt.Errorf("condition %s: threshold must be at least 1", c.Kind)
		}
		if c.Window <= 0 {
			return fmt.Errorf("condition %s: window must be positive", c.Kind)
		}
	case ConditionGeoAnomaly:
		if c.Threshold <= 0 {
			return fmt.Errorf("condition %s: distance threshold must be positive", c.Kind)
		}
	case ConditionBehaviorAnomaly:
		if c.Threshold < 0 || c.Threshold > 100 {
			return fmt.Errorf("condition %s: score threshold must be within [0,100]", c.Kind)
		}
	case ConditionSuspiciousPattern:
		if c.SuspiciousPattern == nil || len(c.SuspiciousPattern.Patterns) == 0 {
			return fmt.Errorf("condition %s: at least one pattern required", c.Kind)
		}
		if c.Window <= 0 {
			return fmt.Errorf("condition %s: window must be positive", c.Kind)
		}
		for _, p := range c.SuspiciousPattern.Patterns {
			switch p {
			case PatternBulkDownload, PatternCredentialEnumeration, PatternRapidAccess:
			default:
				return fmt.Errorf("condition %s: unknown pattern %q", c.Kind, p)
			}
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}

	if c.FailedAuth != nil && c.Kind != ConditionFailedAuthBurst {
		return fmt.Errorf("condition %s: failed_auth params not applicable", c.Kind)
	}
	if c.RateAnomaly != nil && c.Kind != ConditionRateAnomaly {
		return fmt.Errorf("condition %s: rate_anomaly params not applicable", c.Kind)
	}
	if c.SuspiciousPattern != nil && c.Kind != ConditionSuspiciousPattern {
		return fmt.Errorf("condition %s: suspicious_pattern params not applicable", c.Kind)
	}
	return nil
}

// ActionKind identifies an automated response action.
type ActionKind string

const (
	ActionAlert          ActionKind = "alert"
	ActionBlockSource    ActionKind = "block_source"
	ActionSuspendSubject ActionKind = "suspend_subject"
	ActionRequireStepUp  ActionKind = "require_step_up"
	ActionLog            ActionKind = "log"
	ActionWebhook        ActionKind = "webhook"
)

// BlockParams parameterizes block_source, suspend_subject, and
// require_step_up actions.
type BlockParams struct {
	// Duration is how long the marker stays active.
	Duration time.Duration `json:"duration"`
}

// AlertParams parameterizes the alert action.
type AlertParams struct {
	Level   Severity `json:"level"`
	Message string   `json:"message,omitempty"`
}

// WebhookParams parameterizes the webhook action.
type WebhookParams struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// LogParams parameterizes the log action.
type LogParams struct {
	Level string `json:"level,omitempty"`
}

// Action is one automated mitigation or notification step in a rule.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Delay is an optional wait before the action executes.
	Delay time.Duration `json:"delay,omitempty"`

	Block   *BlockParams   `json:"block,omitempty"`
	Alert   *AlertParams   `json:"alert,omitempty"`
	Webhook *WebhookParams `json:"webhook,omitempty"`
	Log     *LogParams     `json:"log,omitempty"`
}

// Validate checks the action's kind and parameter pairing.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionBlockSource, ActionSuspendSubject, ActionRequireStepUp:
		if a.Block == nil || a.Block.Duration <= 0 {
			return fmt.Errorf("action %s: positive duration required", a.Kind)
		}
	case ActionAlert:
		if a.Alert == nil {
			return fmt.Errorf("action %s: alert params required", a.Kind)
		}
	case ActionWebhook:
		if a.Webhook == nil || a.Webhook.URL == "" {
			return fmt.Errorf("action %s: webhook URL required", a.Kind)
		}
	case ActionLog:
		// No required parameters.
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if a.Delay < 0 {
		return fmt.Errorf("action %s: delay cannot be negative", a.Kind)
	}
	return nil
}

// Rule is a named set of AND-ed conditions, an ordered action list, and a
// cooldown gating re-triggers.
type Rule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Severity    Severity      `json:"severity"`
	Enabled     bool          `json:"enabled"`
	Conditions  []Condition   `json:"conditions"`
	Actions     []Action      `json:"actions"`
	Cooldown    time.Duration `json:"cooldown"`
}

// Validate checks the rule and all its conditions and actions.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule: id required")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: at least one condition required", r.ID)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %s: at least one action required", r.ID)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %s: cooldown cannot be negative", r.ID)
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("rule %s condition %d: %w", r.ID, i, err)
		}
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("rule %s action %d: %w", r.ID, i, err)
		}
	}
	return nil
}

// IncidentStatus tracks an incident through its lifecycle.
// active -> investigating -> resolved | false_positive; the last two are
// terminal.
type IncidentStatus string

const (
	StatusActive        IncidentStatus = "active"
	StatusInvestigating IncidentStatus = "investigating"
	StatusResolved      IncidentStatus = "resolved"
	StatusFalsePositive IncidentStatus = "false_positive"
)

// Terminal reports whether the status permits no further transitions.
func (s IncidentStatus) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// ActionOutcome is the result of one executed action.
type ActionOutcome string

const (
	OutcomeSuccess ActionOutcome = "success"
	OutcomeFailed  ActionOutcome = "failed"
	OutcomePartial ActionOutcome = "partial"
)

// ExecutedAction records one action attempt against an incident.
type ExecutedAction struct {
	Action     Action        `json:"action"`
	ExecutedAt time.Time     `json:"executed_at"`
	Outcome    ActionOutcome `json:"outcome"`
	Detail     string        `json:"detail,omitempty"`
}

// TimelineEventType classifies an incident timeline entry.
type TimelineEventType string

const (
	TimelineDetection  TimelineEventType = "detection"
	TimelineEscalation TimelineEventType = "escalation"
	TimelineAction     TimelineEventType = "action"
	TimelineResolution TimelineEventType = "resolution"
)

// Timeline actors.
const (
	ActorSystem = "system"
	ActorAdmin  = "admin"
	ActorUser   = "user"
)

// IncidentEvent is one entry in an incident's timeline.
type IncidentEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	Type        TimelineEventType `json:"type"`
	Description string            `json:"description"`
	Actor       string            `json:"actor"`
	Details     map[string]any    `json:"details,omitempty"`
}

// Incident is the record of one rule trigger: its timeline, the outcomes of
// its actions, and the affected subjects and resources.
type Incident struct {
	ID                string           `json:"id"`
	RuleID            string           `json:"rule_id"`
	Severity          Severity         `json:"severity"`
	Status            IncidentStatus   `json:"status"`
	Actions           []ExecutedAction `json:"actions"`
	Timeline          []IncidentEvent  `json:"timeline"`
	AffectedUsers     []string         `json:"affected_users,omitempty"`
	AffectedResources []string         `json:"affected_resources,omitempty"`
	Resolution        string           `json:"resolution,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// Alert is one entry in the bounded alert log.
type Alert struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	IncidentID string    `json:"incident_id,omitempty"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	UserID     string    `json:"user_id,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Evaluator is the interface all condition evaluators implement.
type Evaluator interface {
	// Kind returns the condition kind this evaluator handles.
	Kind() ConditionKind

	// Evaluate checks the condition against the event.
	Evaluate(ctx context.Context, cond Condition, event *SecurityEvent) (bool, error)
}

// EngineMetrics is a point-in-time snapshot of engine state counts.
type EngineMetrics struct {
	RecentEvents    int `json:"recent_events"`
	ActiveIncidents int `json:"active_incidents"`
	TotalIncidents  int `json:"total_incidents"`
	BlockedIPs      int `json:"blocked_ips"`
	SuspendedUsers  int `json:"suspended_users"`
	StepUpRequired  int `json:"step_up_required"`
	Rules           int `json:"rules"`
	EnabledRules    int `json:"enabled_rules"`
}
