// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package threat implements the detection core: event intake with risk
// scoring, the rule engine with its five condition evaluators, automated
// response actions, incident management, and enforcement state.
package threat

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/sentinelgate/internal/clock"
	"github.com/tomtom215/sentinelgate/internal/geo"
	"github.com/tomtom215/sentinelgate/internal/logging"
	"github.com/tomtom215/sentinelgate/internal/metrics"
	"github.com/tomtom215/sentinelgate/internal/profile"
	"github.com/tomtom215/sentinelgate/internal/pubsub"
	"github.com/tomtom215/sentinelgate/internal/store"
)

const cooldownKeyPrefix = "cooldown:"

// Options configures engine construction.
type Options struct {
	// Rules overrides the built-in rule set when non-nil.
	Rules []*Rule

	// WebhookURL, when set, is wired into the built-in credential-access
	// rule's webhook action. Ignored when Rules is non-nil.
	WebhookURL string

	// Clock defaults to the real clock.
	Clock clock.Clock

	// HTTPClient is used for webhook actions; nil gets a default client.
	HTTPClient *http.Client
}

// Engine is the threat detection and incident response core. One engine
// processes each recorded event end-to-end: scoring, persistence, rule
// evaluation, and response actions.
type Engine struct {
	kv       store.Store
	bus      pubsub.Publisher
	resolver geo.Resolver
	clk      clock.Clock

	profiles    *profile.Store
	events      *EventLog
	rules       *RuleSet
	evaluators  map[ConditionKind]Evaluator
	enforcement *Enforcement
	incidents   *IncidentManager
	executor    *ActionExecutor

	cooldownMu sync.Mutex
	cooldowns  map[string]time.Time
}

// New wires the engine. resolver may be nil when geolocation is disabled.
func New(kv store.Store, bus pubsub.Publisher, resolver geo.Resolver, opts Options) (*Engine, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	ruleDefs := opts.Rules
	if ruleDefs == nil {
		ruleDefs = BuiltinRules(opts.WebhookURL)
	}
	rules, err := NewRuleSet(ruleDefs)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	profiles := profile.NewStore(kv, clk)
	events := NewEventLog(kv, clk)
	enforcement := NewEnforcement(kv, bus, clk)
	incidents := NewIncidentManager(kv, bus, clk)
	executor := NewActionExecutor(enforcement, incidents, bus, clk, opts.HTTPClient)

	e := &Engine{
		kv:          kv,
		bus:         bus,
		resolver:    resolver,
		clk:         clk,
		profiles:    profiles,
		events:      events,
		rules:       rules,
		enforcement: enforcement,
		incidents:   incidents,
		executor:    executor,
		cooldowns:   make(map[string]time.Time),
	}
	e.evaluators = map[ConditionKind]Evaluator{
		ConditionFailedAuthBurst:   NewFailedAuthEvaluator(kv),
		ConditionGeoAnomaly:        NewGeoAnomalyEvaluator(profiles),
		ConditionRateAnomaly:       NewRateAnomalyEvaluator(kv, profiles),
		ConditionBehaviorAnomaly:   NewBehaviorAnomalyEvaluator(profiles),
		ConditionSuspiciousPattern: NewPatternEvaluator(events),
	}
	return e, nil
}

// Start restores durable state into the in-memory views. Call once before
// recording events.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.enforcement.Restore(ctx); err != nil {
		return err
	}
	return e.incidents.Restore(ctx)
}

// evaluateRules runs every enabled rule against the event. Evaluator errors
// and panics are contained per rule and count as "did not trigger".
func (e *Engine) evaluateRules(ctx context.Context, event *SecurityEvent) {
	for _, rule := range e.rules.Enabled() {
		if e.onCooldown(ctx, rule) {
			metrics.RuleEvaluations.WithLabelValues(rule.ID, "cooldown").Inc()
			continue
		}

		matched, err := e.matchConditions(ctx, rule, event)
		if err != nil {
			metrics.RuleEvaluations.WithLabelValues(rule.ID, "error").Inc()
			logging.Warn().Err(err).Str("rule_id", rule.ID).Str("event_id", event.ID).Msg("rule evaluation failed")
			continue
		}
		if !matched {
			metrics.RuleEvaluations.WithLabelValues(rule.ID, "no_match").Inc()
			continue
		}

		metrics.RuleEvaluations.WithLabelValues(rule.ID, "triggered").Inc()
		e.trigger(ctx, rule, event)
	}
}

// matchConditions AND-evaluates the rule's conditions with short-circuit.
func (e *Engine) matchConditions(ctx context.Context, rule *Rule, event *SecurityEvent) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("rule %s: evaluator panic: %v", rule.ID, r)
		}
	}()

	for _, cond := range rule.Conditions {
		ev, ok := e.evaluators[cond.Kind]
		if !ok {
			return false, fmt.Errorf("rule %s: no evaluator for %s", rule.ID, cond.Kind)
		}

		start := time.Now()
		hit, err := ev.Evaluate(ctx, cond, event)
		metrics.ConditionDuration.WithLabelValues(string(cond.Kind)).Observe(time.Since(start).Seconds())
		if err != nil {
			return false, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if !hit {
			return false, nil
		}
	}
	return true, nil
}

// onCooldown reports whether the rule fired within its cooldown. The
// in-memory map is checked first; the durable marker catches triggers from
// other replicas sharing the store.
func (e *Engine) onCooldown(ctx context.Context, rule *Rule) bool {
	if rule.Cooldown <= 0 {
		return false
	}

	now := e.clk.Now()
	e.cooldownMu.Lock()
	until, ok := e.cooldowns[rule.ID]
	e.cooldownMu.Unlock()
	if ok && until.After(now) {
		return true
	}

	has, err := e.kv.Has(ctx, cooldownKeyPrefix+rule.ID)
	if err != nil {
		logging.Warn().Err(err).Str("rule_id", rule.ID).Msg("cooldown check failed, assuming not cooling")
		return false
	}
	return has
}

// startCooldown records the trigger time so the rule cannot fire again until
// the cooldown elapses.
func (e *Engine) startCooldown(ctx context.Context, rule *Rule) {
	if rule.Cooldown <= 0 {
		return
	}

	now := e.clk.Now()
	e.cooldownMu.Lock()
	e.cooldowns[rule.ID] = now.Add(rule.Cooldown)
	e.cooldownMu.Unlock()

	if err := e.kv.Set(ctx, cooldownKeyPrefix+rule.ID, []byte(now.Format(time.RFC3339Nano)), rule.Cooldown); err != nil {
		logging.Warn().Err(err).Str("rule_id", rule.ID).Msg("persisting cooldown marker failed")
	}
}

// trigger opens an incident for the rule and runs its actions.
func (e *Engine) trigger(ctx context.Context, rule *Rule, event *SecurityEvent) {
	e.startCooldown(ctx, rule)

	inc, err := e.incidents.Create(ctx, rule, event)
	if err != nil {
		logging.Error().Err(err).Str("rule_id", rule.ID).Str("event_id", event.ID).Msg("incident creation failed")
		return
	}

	logging.Info().
		Str("rule_id", rule.ID).
		Str("incident_id", inc.ID).
		Str("event_id", event.ID).
		Str("severity", string(rule.Severity)).
		Msg("threat rule triggered")

	if failed := e.executor.Execute(ctx, rule, inc, event); failed > 0 {
		logging.Warn().Int("failed", failed).Str("incident_id", inc.ID).Msg("some response actions failed")
	}

	// The executor appended the applied actions to the event; sync the
	// durable record.
	if err := e.events.Update(ctx, event); err != nil {
		logging.Warn().Err(err).Str("event_id", event.ID).Msg("persisting response actions failed")
	}
}

// Rules exposes the rule set for the operator API.
func (e *Engine) Rules() *RuleSet { return e.rules }

// Incidents exposes the incident manager for the operator API.
func (e *Engine) Incidents() *IncidentManager { return e.incidents }

// Enforcement exposes enforcement state for the operator API.
func (e *Engine) Enforcement() *Enforcement { return e.enforcement }

// Profiles exposes the behavior profile store.
func (e *Engine) Profiles() *profile.Store { return e.profiles }

// Events exposes the event log.
func (e *Engine) Events() *EventLog { return e.events }

// IsIPBlocked reports whether the source address is currently blocked.
func (e *Engine) IsIPBlocked(ip string) bool { return e.enforcement.IsIPBlocked(ip) }

// IsUserSuspended reports whether the subject is currently suspended.
func (e *Engine) IsUserSuspended(userID string) bool { return e.enforcement.IsUserSuspended(userID) }

// IsStepUpRequired reports whether the subject must complete step-up
// verification.
func (e *Engine) IsStepUpRequired(userID string) bool { return e.enforcement.IsStepUpRequired(userID) }

// ActiveIncidents returns non-terminal incidents, newest first.
func (e *Engine) ActiveIncidents() []*Incident {
	out := e.incidents.List("")
	live := out[:0]
	for _, inc := range out {
		if !inc.Status.Terminal() {
			live = append(live, inc)
		}
	}
	return live
}

// Alerts returns up to limit alerts from the bounded log, most recent first.
func (e *Engine) Alerts(limit int) []Alert { return e.executor.Alerts(limit) }

// Metrics returns a point-in-time snapshot of engine state counts.
func (e *Engine) Metrics(ctx context.Context) EngineMetrics {
	total, active := e.incidents.Counts()
	blocked, suspended, stepUp := e.enforcement.Counts()
	totalRules, enabledRules := e.rules.Counts()
	return EngineMetrics{
		RecentEvents:    e.events.RecentCount(ctx),
		ActiveIncidents: active,
		TotalIncidents:  total,
		BlockedIPs:      blocked,
		SuspendedUsers:  suspended,
		StepUpRequired:  stepUp,
		Rules:           totalRules,
		EnabledRules:    enabledRules,
	}
}
