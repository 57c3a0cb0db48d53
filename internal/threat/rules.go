// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"fmt"
	"sync"
	"time"
)

// BuiltinRules returns the five detection rules the engine ships with.
// webhookURL, when non-empty, adds an outbound webhook action to the
// credential-access rule; otherwise that rule only alerts.
func BuiltinRules(webhookURL string) []*Rule {
	rules := []*Rule{
		{
			ID:          "failed_auth_burst",
			Name:        "Failed Authentication Burst",
			Description: "Repeated failed logins from the same user and source address",
			Severity:    SeverityHigh,
			Enabled:     true,
			Conditions: []Condition{
				{
					Kind:       ConditionFailedAuthBurst,
					Threshold:  5,
					Window:     5 * time.Minute,
					FailedAuth: &FailedAuthParams{CheckUserAndIP: true},
				},
			},
			Actions: []Action{
				{Kind: ActionAlert, Alert: &AlertParams{Level: SeverityHigh}},
				{Kind: ActionBlockSource, Block: &BlockParams{Duration: 3600 * time.Second}},
			},
			Cooldown: 15 * time.Minute,
		},
		{
			ID:          "geo_anomaly",
			Name:        "Geographic Anomaly",
			Description: "Login from a location far from every known location",
			Severity:    SeverityMedium,
			Enabled:     true,
			Conditions: []Condition{
				{Kind: ConditionGeoAnomaly, Threshold: 1000},
			},
			Actions: []Action{
				{Kind: ActionAlert, Alert: &AlertParams{Level: SeverityMedium}},
				{Kind: ActionRequireStepUp, Block: &BlockParams{Duration: 86400 * time.Second}},
			},
			Cooldown: time.Hour,
		},
		{
			ID:          "api_rate_anomaly",
			Name:        "API Rate Anomaly",
			Description: "Request rate far above the user's learned baseline",
			Severity:    SeverityMedium,
			Enabled:     true,
			Conditions: []Condition{
				{
					Kind:        ConditionRateAnomaly,
					Threshold:   1000,
					Window:      time.Hour,
					RateAnomaly: &RateAnomalyParams{PerUser: true, CompareToBaseline: true},
				},
			},
			Actions: []Action{
				{Kind: ActionAlert, Alert: &AlertParams{Level: SeverityMedium}},
			},
			Cooldown: 30 * time.Minute,
		},
		{
			ID:          "credential_access_anomaly",
			Name:        "Credential Access Anomaly",
			Description: "Credential retrieval that deviates from the user's baseline behavior",
			Severity:    SeverityHigh,
			Enabled:     true,
			Conditions: []Condition{
				{Kind: ConditionBehaviorAnomaly, Threshold: 60, Window: 10 * time.Minute},
			},
			Actions: []Action{
				{Kind: ActionAlert, Alert: &AlertParams{Level: SeverityHigh}},
			},
			Cooldown: 30 * time.Minute,
		},
		{
			ID:          "data_exfiltration",
			Name:        "Data Exfiltration Pattern",
			Description: "Bulk downloads combined with rapid access across recent events",
			Severity:    SeverityCritical,
			Enabled:     true,
			// One condition per pattern: conditions AND together, so the
			// rule needs bulk downloads and rapid access, not either alone.
			Conditions: []Condition{
				{
					Kind:   ConditionSuspiciousPattern,
					Window: 10 * time.Minute,
					SuspiciousPattern: &SuspiciousPatternParams{
						Patterns: []string{PatternBulkDownload},
					},
				},
				{
					Kind:   ConditionSuspiciousPattern,
					Window: 10 * time.Minute,
					SuspiciousPattern: &SuspiciousPatternParams{
						Patterns: []string{PatternRapidAccess},
					},
				},
			},
			Actions: []Action{
				{Kind: ActionAlert, Alert: &AlertParams{Level: SeverityCritical}},
				{Kind: ActionSuspendSubject, Block: &BlockParams{Duration: 7200 * time.Second}},
			},
			Cooldown: time.Hour,
		},
	}

	if webhookURL != "" {
		cred := rules[3]
		cred.Actions = append(cred.Actions, Action{
			Kind:    ActionWebhook,
			Webhook: &WebhookParams{URL: webhookURL},
		})
	}

	return rules
}

// RuleSet holds the active rule definitions. Rules are loaded at startup and
// may be mutated at runtime; all methods are safe for concurrent use.
type RuleSet struct {
	mu    sync.RWMutex
	rules []*Rule
	byID  map[string]*Rule
}

// NewRuleSet creates a rule set, validating every rule.
func NewRuleSet(rules []*Rule) (*RuleSet, error) {
	rs := &RuleSet{byID: make(map[string]*Rule)}
	for _, r := range rules {
		if err := rs.Add(r); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Add validates and registers a rule.
func (rs *RuleSet) Add(r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.byID[r.ID]; exists {
		return fmt.Errorf("rule %s already exists", r.ID)
	}
	rs.rules = append(rs.rules, r)
	rs.byID[r.ID] = r
	return nil
}

// Get returns the rule with the given id.
func (rs *RuleSet) Get(id string) (*Rule, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.byID[id]
	return r, ok
}

// List returns the rules in declaration order.
func (rs *RuleSet) List() []*Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]*Rule(nil), rs.rules...)
}

// Enabled returns only the enabled rules, in declaration order.
func (rs *RuleSet) Enabled() []*Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	enabled := make([]*Rule, 0, len(rs.rules))
	for _, r := range rs.rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return enabled
}

// SetEnabled enables or disables a rule.
func (rs *RuleSet) SetEnabled(id string, enabled bool) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.byID[id]
	if !ok {
		return fmt.Errorf("rule %s not found", id)
	}
	r.Enabled = enabled
	return nil
}

// Counts returns (total, enabled) rule counts.
func (rs *RuleSet) Counts() (int, int) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	enabled := 0
	for _, r := range rs.rules {
		if r.Enabled {
			enabled++
		}
	}
	return len(rs.rules), enabled
}
