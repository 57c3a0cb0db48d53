// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/sentinelgate/internal/store"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	return path
}

func TestLoadRulesFile(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - id: tight_auth
    name: Tight Auth
    severity: high
    enabled: true
    conditions:
      - kind: failed_auth_burst
        threshold: 3
        window: 2m
        failed_auth:
          check_user_and_ip: true
    actions:
      - kind: alert
        alert:
          level: high
      - kind: block_source
        delay: 30s
        block:
          duration: 1h
    cooldown: 5m
  - id: exfil_watch
    name: Exfil Watch
    severity: critical
    enabled: false
    conditions:
      - kind: suspicious_pattern
        window: 10m
        suspicious_pattern:
          patterns: [bulk_download]
    actions:
      - kind: log
    cooldown: 1h
`)

	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("LoadRulesFile: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}

	r := rules[0]
	if r.ID != "tight_auth" || r.Severity != SeverityHigh || !r.Enabled {
		t.Errorf("rule[0] = %+v", r)
	}
	if r.Cooldown != 5*time.Minute {
		t.Errorf("Cooldown = %s, want 5m", r.Cooldown)
	}
	cond := r.Conditions[0]
	if cond.Kind != ConditionFailedAuthBurst || cond.Threshold != 3 || cond.Window != 2*time.Minute {
		t.Errorf("condition = %+v", cond)
	}
	if cond.FailedAuth == nil || !cond.FailedAuth.CheckUserAndIP {
		t.Errorf("FailedAuth params = %+v", cond.FailedAuth)
	}
	if len(r.Actions) != 2 || r.Actions[1].Kind != ActionBlockSource {
		t.Fatalf("actions = %+v", r.Actions)
	}
	if r.Actions[1].Delay != 30*time.Second || r.Actions[1].Block.Duration != time.Hour {
		t.Errorf("block action = %+v", r.Actions[1])
	}

	if rules[1].Enabled {
		t.Error("rule[1] should be disabled")
	}
	if got := rules[1].Conditions[0].SuspiciousPattern.Patterns; len(got) != 1 || got[0] != PatternBulkDownload {
		t.Errorf("patterns = %v", got)
	}
}

func TestLoadRulesFileReplacesBuiltins(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - id: only_rule
    name: Only Rule
    severity: low
    enabled: true
    conditions:
      - kind: rate_anomaly
        threshold: 50
        window: 1m
    actions:
      - kind: log
`)

	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("LoadRulesFile: %v", err)
	}
	e, err := New(store.NewMemoryStore(nil), nil, nil, Options{Rules: rules})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	listed := e.Rules().List()
	if len(listed) != 1 || listed[0].ID != "only_rule" {
		t.Fatalf("engine rules = %+v, want only the loaded rule", listed)
	}
}

func TestLoadRulesFileRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty file",
			content: "rules: []\n",
			wantErr: "no rules",
		},
		{
			name: "invalid rule",
			content: `
rules:
  - id: broken
    name: Broken
    severity: high
    enabled: true
    conditions:
      - kind: failed_auth_burst
        threshold: 0
        window: 2m
    actions:
      - kind: log
`,
			wantErr: "threshold",
		},
		{
			name: "duplicate id",
			content: `
rules:
  - id: twice
    name: First
    severity: low
    enabled: true
    conditions:
      - kind: rate_anomaly
        threshold: 10
        window: 1m
    actions:
      - kind: log
  - id: twice
    name: Second
    severity: low
    enabled: true
    conditions:
      - kind: rate_anomaly
        threshold: 10
        window: 1m
    actions:
      - kind: log
`,
			wantErr: "duplicate rule id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRulesFile(t, tt.content)
			_, err := LoadRulesFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRulesFileMissingFile(t *testing.T) {
	if _, err := LoadRulesFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
