// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinelgate/internal/clock"
	"github.com/tomtom215/sentinelgate/internal/store"
)

func newTestExecutor(t *testing.T) (*ActionExecutor, *IncidentManager, *Enforcement, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	kv := store.NewMemoryStore(fc)
	en := NewEnforcement(kv, nil, fc)
	im := NewIncidentManager(kv, nil, fc)
	x := NewActionExecutor(en, im, nil, fc, &http.Client{Timeout: time.Second})
	return x, im, en, fc
}

func TestExecuteRunsAllActionsInOrder(t *testing.T) {
	ctx := context.Background()
	x, im, en, _ := newTestExecutor(t)

	rule := testRule()
	rule.Actions = []Action{
		{Kind: ActionAlert, Alert: &AlertParams{Level: SeverityHigh}},
		{Kind: ActionBlockSource, Block: &BlockParams{Duration: time.Hour}},
		{Kind: ActionSuspendSubject, Block: &BlockParams{Duration: time.Hour}},
		{Kind: ActionLog},
	}
	event := testEvent()
	inc, err := im.Create(ctx, rule, event)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if failed := x.Execute(ctx, rule, inc, event); failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}

	got, _ := im.Get(inc.ID)
	if len(got.Actions) != 4 {
		t.Fatalf("executed = %d, want 4", len(got.Actions))
	}
	for i, a := range got.Actions {
		if a.Action.Kind != rule.Actions[i].Kind {
			t.Errorf("action %d = %s, want %s", i, a.Action.Kind, rule.Actions[i].Kind)
		}
		if a.Outcome != OutcomeSuccess {
			t.Errorf("action %s outcome = %s: %s", a.Action.Kind, a.Outcome, a.Detail)
		}
	}

	if !en.IsIPBlocked(event.SourceIP) || !en.IsUserSuspended(event.UserID) {
		t.Error("enforcement side effects missing")
	}
	if len(event.ResponseActions) != 4 {
		t.Errorf("ResponseActions = %v", event.ResponseActions)
	}
}

func TestExecuteContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	x, im, en, _ := newTestExecutor(t)

	rule := testRule()
	rule.Actions = []Action{
		// No subject on the event, so this fails.
		{Kind: ActionSuspendSubject, Block: &BlockParams{Duration: time.Hour}},
		{Kind: ActionBlockSource, Block: &BlockParams{Duration: time.Hour}},
	}
	event := testEvent()
	event.UserID = ""
	inc, err := im.Create(ctx, rule, event)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if failed := x.Execute(ctx, rule, inc, event); failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}

	got, _ := im.Get(inc.ID)
	if got.Actions[0].Outcome != OutcomeFailed {
		t.Errorf("first outcome = %s, want failed", got.Actions[0].Outcome)
	}
	if got.Actions[1].Outcome != OutcomeSuccess {
		t.Errorf("second outcome = %s, want success", got.Actions[1].Outcome)
	}
	if !en.IsIPBlocked(event.SourceIP) {
		t.Error("block must still apply after the earlier failure")
	}
}

func TestWebhookAction(t *testing.T) {
	ctx := context.Background()
	x, im, _, _ := newTestExecutor(t)

	var received webhookPayload
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		gotHeader = r.Header.Get("X-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rule := testRule()
	rule.Actions = []Action{{
		Kind: ActionWebhook,
		Webhook: &WebhookParams{
			URL:     srv.URL,
			Headers: map[string]string{"X-Token": "secret"},
		},
	}}
	event := testEvent()
	event.RiskScore = 70
	inc, err := im.Create(ctx, rule, event)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if failed := x.Execute(ctx, rule, inc, event); failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
	if received.RuleID != rule.ID || received.IncidentID != inc.ID || received.RiskScore != 70 {
		t.Errorf("payload = %+v", received)
	}
	if gotHeader != "secret" {
		t.Errorf("X-Token = %q, want secret", gotHeader)
	}
}

func TestWebhookFailureOutcome(t *testing.T) {
	ctx := context.Background()
	x, im, _, _ := newTestExecutor(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rule := testRule()
	rule.Actions = []Action{{Kind: ActionWebhook, Webhook: &WebhookParams{URL: srv.URL}}}
	event := testEvent()
	inc, err := im.Create(ctx, rule, event)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if failed := x.Execute(ctx, rule, inc, event); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	got, _ := im.Get(inc.ID)
	if got.Actions[0].Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", got.Actions[0].Outcome)
	}
}

func TestActionDelayHonored(t *testing.T) {
	ctx := context.Background()
	x, im, en, fc := newTestExecutor(t)

	rule := testRule()
	rule.Actions = []Action{{
		Kind:  ActionBlockSource,
		Delay: 5 * time.Second,
		Block: &BlockParams{Duration: time.Hour},
	}}
	event := testEvent()
	inc, err := im.Create(ctx, rule, event)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan int, 1)
	go func() { done <- x.Execute(ctx, rule, inc, event) }()

	// The action waits on the fake clock; nothing should happen yet.
	select {
	case <-done:
		t.Fatal("Execute returned before the delay elapsed")
	case <-time.After(50 * time.Millisecond):
	}
	if en.IsIPBlocked(event.SourceIP) {
		t.Fatal("block applied before delay")
	}

	fc.Advance(5 * time.Second)
	if failed := <-done; failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
	if !en.IsIPBlocked(event.SourceIP) {
		t.Error("block missing after delay elapsed")
	}
}

func TestAlertLogBounded(t *testing.T) {
	ctx := context.Background()
	x, im, _, _ := newTestExecutor(t)

	rule := testRule()
	rule.Actions = []Action{{Kind: ActionAlert, Alert: &AlertParams{Level: SeverityLow}}}
	event := testEvent()
	inc, err := im.Create(ctx, rule, event)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < AlertLogCap+25; i++ {
		rule.Actions[0].Alert.Message = fmt.Sprintf("alert %d", i)
		x.Execute(ctx, rule, inc, event)
	}

	alerts := x.Alerts(0)
	if len(alerts) != AlertLogCap {
		t.Fatalf("alerts = %d, want capped at %d", len(alerts), AlertLogCap)
	}
	// Most recent first; the oldest entries were dropped.
	if alerts[0].Message != fmt.Sprintf("alert %d", AlertLogCap+24) {
		t.Errorf("newest alert = %q", alerts[0].Message)
	}

	if got := x.Alerts(10); len(got) != 10 {
		t.Errorf("Alerts(10) = %d entries", len(got))
	}
}
