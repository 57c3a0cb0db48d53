// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tomtom215/sentinelgate/internal/clock"
	"github.com/tomtom215/sentinelgate/internal/logging"
	"github.com/tomtom215/sentinelgate/internal/metrics"
	"github.com/tomtom215/sentinelgate/internal/pubsub"
)

const (
	// actionTimeout bounds each individual action.
	actionTimeout = 10 * time.Second

	// webhookTimeout bounds one outbound webhook call, inside actionTimeout.
	webhookTimeout = 5 * time.Second

	// AlertLogCap bounds the in-memory alert log.
	AlertLogCap = 1000
)

// webhookPayload is the JSON body POSTed by the webhook action.
type webhookPayload struct {
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Severity   Severity  `json:"severity"`
	IncidentID string    `json:"incident_id"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	RiskScore  int       `json:"risk_score"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActionExecutor runs a triggered rule's actions in declaration order.
// Every action is attempted even when earlier ones fail; each outcome is
// appended to the incident. Actions run on contexts detached from the intake
// request so a hung webhook cannot be cancelled by the caller going away.
type ActionExecutor struct {
	enforcement *Enforcement
	incidents   *IncidentManager
	bus         pubsub.Publisher
	clk         clock.Clock
	httpClient  *http.Client
	webhookRate *rate.Limiter

	mu     sync.RWMutex
	alerts []Alert
}

// NewActionExecutor creates the executor. httpClient may be nil; a default
// client with the webhook timeout is used.
func NewActionExecutor(enforcement *Enforcement, incidents *IncidentManager, bus pubsub.Publisher, clk clock.Clock, httpClient *http.Client) *ActionExecutor {
	if clk == nil {
		clk = clock.New()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: webhookTimeout}
	}
	return &ActionExecutor{
		enforcement: enforcement,
		incidents:   incidents,
		bus:         bus,
		clk:         clk,
		httpClient:  httpClient,
		webhookRate: rate.NewLimiter(rate.Limit(2), 10),
	}
}

// Execute runs the rule's actions against the incident. Returns the number
// of actions that failed.
func (x *ActionExecutor) Execute(ctx context.Context, rule *Rule, inc *Incident, event *SecurityEvent) int {
	base := context.WithoutCancel(ctx)
	failed := 0

	for _, action := range rule.Actions {
		if action.Delay > 0 {
			select {
			case <-x.clk.After(action.Delay):
			case <-base.Done():
				return failed
			}
		}

		actionCtx, cancel := context.WithTimeout(base, actionTimeout)
		outcome, detail := x.run(actionCtx, action, rule, inc, event)
		cancel()

		metrics.ActionsExecuted.WithLabelValues(string(action.Kind), string(outcome)).Inc()
		if outcome == OutcomeFailed {
			failed++
			logging.Warn().
				Str("rule_id", rule.ID).
				Str("incident_id", inc.ID).
				Str("action", string(action.Kind)).
				Str("detail", detail).
				Msg("action failed")
		}

		ea := ExecutedAction{
			Action:     action,
			ExecutedAt: x.clk.Now(),
			Outcome:    outcome,
			Detail:     detail,
		}
		if err := x.incidents.AppendAction(base, inc.ID, ea); err != nil {
			logging.Warn().Err(err).Str("incident_id", inc.ID).Msg("recording action outcome failed")
		}

		event.ResponseActions = append(event.ResponseActions, string(action.Kind))
	}
	return failed
}

func (x *ActionExecutor) run(ctx context.Context, action Action, rule *Rule, inc *Incident, event *SecurityEvent) (ActionOutcome, string) {
	switch action.Kind {
	case ActionBlockSource:
		if event.SourceIP == "" {
			return OutcomeFailed, "event has no source address"
		}
		if err := x.enforcement.BlockIP(ctx, event.SourceIP, rule.ID, action.Block.Duration); err != nil {
			return OutcomeFailed, err.Error()
		}
		return OutcomeSuccess, fmt.Sprintf("blocked %s for %s", event.SourceIP, action.Block.Duration)

	case ActionSuspendSubject:
		if event.UserID == "" {
			return OutcomeFailed, "event has no subject"
		}
		if err := x.enforcement.SuspendUser(ctx, event.UserID, rule.ID, action.Block.Duration); err != nil {
			return OutcomeFailed, err.Error()
		}
		return OutcomeSuccess, fmt.Sprintf("suspended %s for %s", event.UserID, action.Block.Duration)

	case ActionRequireStepUp:
		if event.UserID == "" {
			return OutcomeFailed, "event has no subject"
		}
		if err := x.enforcement.RequireStepUp(ctx, event.UserID, rule.ID, action.Block.Duration); err != nil {
			return OutcomeFailed, err.Error()
		}
		return OutcomeSuccess, fmt.Sprintf("step-up required for %s for %s", event.UserID, action.Block.Duration)

	case ActionAlert:
		return x.raiseAlert(ctx, action, rule, inc, event)

	case ActionWebhook:
		return x.callWebhook(ctx, action, rule, inc, event)

	case ActionLog:
		x.logEvent(action, rule, inc, event)
		return OutcomeSuccess, ""

	default:
		return OutcomeFailed, fmt.Sprintf("unknown action kind %q", action.Kind)
	}
}

func (x *ActionExecutor) raiseAlert(ctx context.Context, action Action, rule *Rule, inc *Incident, event *SecurityEvent) (ActionOutcome, string) {
	msg := action.Alert.Message
	if msg == "" {
		msg = fmt.Sprintf("%s: %s", rule.Name, rule.Description)
	}
	alert := Alert{
		ID:         uuid.NewString(),
		RuleID:     rule.ID,
		IncidentID: inc.ID,
		Severity:   action.Alert.Level,
		Message:    msg,
		UserID:     event.UserID,
		SourceIP:   event.SourceIP,
		CreatedAt:  x.clk.Now(),
	}

	x.mu.Lock()
	x.alerts = append(x.alerts, alert)
	if len(x.alerts) > AlertLogCap {
		x.alerts = x.alerts[len(x.alerts)-AlertLogCap:]
	}
	x.mu.Unlock()

	if x.bus != nil {
		if err := x.bus.Publish(ctx, pubsub.TopicSecurityAlert, alert); err != nil {
			// Alert is in the log; only fan-out failed.
			return OutcomePartial, fmt.Sprintf("alert logged, publish failed: %v", err)
		}
	}
	return OutcomeSuccess, msg
}

func (x *ActionExecutor) callWebhook(ctx context.Context, action Action, rule *Rule, inc *Incident, event *SecurityEvent) (ActionOutcome, string) {
	if err := x.webhookRate.Wait(ctx); err != nil {
		return OutcomeFailed, fmt.Sprintf("webhook rate limit: %v", err)
	}

	payload := webhookPayload{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Severity:   rule.Severity,
		IncidentID: inc.ID,
		EventID:    event.ID,
		UserID:     event.UserID,
		SourceIP:   event.SourceIP,
		RiskScore:  event.RiskScore,
		Timestamp:  x.clk.Now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OutcomeFailed, fmt.Sprintf("encode payload: %v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, action.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return OutcomeFailed, fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range action.Webhook.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := x.httpClient.Do(req)
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return OutcomeFailed, fmt.Sprintf("call webhook: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return OutcomeFailed, fmt.Sprintf("webhook returned %d", resp.StatusCode)
	}
	return OutcomeSuccess, fmt.Sprintf("webhook returned %d", resp.StatusCode)
}

func (x *ActionExecutor) logEvent(action Action, rule *Rule, inc *Incident, event *SecurityEvent) {
	level := "warn"
	if action.Log != nil && action.Log.Level != "" {
		level = action.Log.Level
	}

	e := logging.Warn()
	switch level {
	case "debug":
		e = logging.Debug()
	case "info":
		e = logging.Info()
	case "error":
		e = logging.Error()
	}
	e.Str("rule_id", rule.ID).
		Str("incident_id", inc.ID).
		Str("event_id", event.ID).
		Str("user_id", event.UserID).
		Str("source_ip", event.SourceIP).
		Int("risk_score", event.RiskScore).
		Msg("threat rule triggered")
}

// Alerts returns up to limit alerts, most recent first. limit <= 0 means all.
func (x *ActionExecutor) Alerts(limit int) []Alert {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, x.alerts[i])
	}
	return out
}
