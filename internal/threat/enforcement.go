// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinelgate/internal/clock"
	"github.com/tomtom215/sentinelgate/internal/logging"
	"github.com/tomtom215/sentinelgate/internal/metrics"
	"github.com/tomtom215/sentinelgate/internal/pubsub"
	"github.com/tomtom215/sentinelgate/internal/store"
)

const (
	blockedIPPrefix = "blocked_ip:"
	suspendedPrefix = "suspended_user:"
	stepUpPrefix    = "step_up:"
)

// marker is the durable-store payload for an enforcement entry.
type marker struct {
	Subject   string    `json:"subject"`
	RuleID    string    `json:"rule_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// markerEvent is published when an enforcement marker is placed.
type markerEvent struct {
	Subject   string    `json:"subject"`
	RuleID    string    `json:"rule_id,omitempty"`
	Duration  string    `json:"duration"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Enforcement tracks blocked source addresses, suspended subjects, and
// step-up requirements. Durable markers with TTLs are the source of truth;
// in-memory expiry maps serve the hot-path queries without store reads.
type Enforcement struct {
	kv  store.Store
	bus pubsub.Publisher
	clk clock.Clock

	mu        sync.RWMutex
	blocked   map[string]time.Time
	suspended map[string]time.Time
	stepUp    map[string]time.Time
}

// NewEnforcement creates the enforcement tracker.
func NewEnforcement(kv store.Store, bus pubsub.Publisher, clk clock.Clock) *Enforcement {
	if clk == nil {
		clk = clock.New()
	}
	return &Enforcement{
		kv:        kv,
		bus:       bus,
		clk:       clk,
		blocked:   make(map[string]time.Time),
		suspended: make(map[string]time.Time),
		stepUp:    make(map[string]time.Time),
	}
}

// Restore repopulates the in-memory maps from surviving durable markers.
// Called once at startup so enforcement persists across restarts.
func (en *Enforcement) Restore(ctx context.Context) error {
	for prefix, set := range map[string]map[string]time.Time{
		blockedIPPrefix: en.blocked,
		suspendedPrefix: en.suspended,
		stepUpPrefix:    en.stepUp,
	} {
		keys, err := en.kv.Keys(ctx, prefix)
		if err != nil {
			return fmt.Errorf("restore %s markers: %w", prefix, err)
		}
		for _, key := range keys {
			m, err := en.loadMarker(ctx, key)
			if err != nil {
				logging.Warn().Err(err).Str("key", key).Msg("skipping unreadable enforcement marker")
				continue
			}
			en.mu.Lock()
			set[strings.TrimPrefix(key, prefix)] = m.ExpiresAt
			en.mu.Unlock()
		}
	}
	en.updateGauges()
	return nil
}

// BlockIP places a block marker for the source address. Idempotent: blocking
// an already-blocked address refreshes the expiry.
func (en *Enforcement) BlockIP(ctx context.Context, ip, ruleID string, d time.Duration) error {
	if err := en.place(ctx, blockedIPPrefix, ip, ruleID, d); err != nil {
		return err
	}
	en.mu.Lock()
	en.blocked[ip] = en.clk.Now().Add(d)
	en.mu.Unlock()
	en.updateGauges()
	en.publish(ctx, pubsub.TopicIPBlocked, ip, ruleID, d)
	return nil
}

// SuspendUser places a suspension marker for the subject.
func (en *Enforcement) SuspendUser(ctx context.Context, userID, ruleID string, d time.Duration) error {
	if err := en.place(ctx, suspendedPrefix, userID, ruleID, d); err != nil {
		return err
	}
	en.mu.Lock()
	en.suspended[userID] = en.clk.Now().Add(d)
	en.mu.Unlock()
	en.updateGauges()
	en.publish(ctx, pubsub.TopicSubjectSuspended, userID, ruleID, d)
	return nil
}

// RequireStepUp places a step-up marker for the subject.
func (en *Enforcement) RequireStepUp(ctx context.Context, userID, ruleID string, d time.Duration) error {
	if err := en.place(ctx, stepUpPrefix, userID, ruleID, d); err != nil {
		return err
	}
	en.mu.Lock()
	en.stepUp[userID] = en.clk.Now().Add(d)
	en.mu.Unlock()
	en.publish(ctx, pubsub.TopicStepUpRequired, userID, ruleID, d)
	return nil
}

// IsIPBlocked reports whether the source address is currently blocked.
func (en *Enforcement) IsIPBlocked(ip string) bool {
	return en.active(en.blocked, ip)
}

// IsUserSuspended reports whether the subject is currently suspended.
func (en *Enforcement) IsUserSuspended(userID string) bool {
	return en.active(en.suspended, userID)
}

// IsStepUpRequired reports whether the subject must complete step-up
// verification.
func (en *Enforcement) IsStepUpRequired(userID string) bool {
	return en.active(en.stepUp, userID)
}

// ClearStepUp removes a subject's step-up requirement, typically after the
// subject completed the stronger verification.
func (en *Enforcement) ClearStepUp(ctx context.Context, userID string) error {
	en.mu.Lock()
	delete(en.stepUp, userID)
	en.mu.Unlock()
	if err := en.kv.Delete(ctx, stepUpPrefix+userID); err != nil {
		return fmt.Errorf("clear step-up %s: %w", userID, err)
	}
	return nil
}

// UnblockIP removes a block marker ahead of its expiry (operator action).
func (en *Enforcement) UnblockIP(ctx context.Context, ip string) error {
	en.mu.Lock()
	delete(en.blocked, ip)
	en.mu.Unlock()
	en.updateGauges()
	if err := en.kv.Delete(ctx, blockedIPPrefix+ip); err != nil {
		return fmt.Errorf("unblock %s: %w", ip, err)
	}
	return nil
}

// ReinstateUser removes a suspension ahead of its expiry (operator action).
func (en *Enforcement) ReinstateUser(ctx context.Context, userID string) error {
	en.mu.Lock()
	delete(en.suspended, userID)
	en.mu.Unlock()
	en.updateGauges()
	if err := en.kv.Delete(ctx, suspendedPrefix+userID); err != nil {
		return fmt.Errorf("reinstate %s: %w", userID, err)
	}
	return nil
}

// Counts returns (blocked, suspended, stepUp) counts of live entries.
func (en *Enforcement) Counts() (int, int, int) {
	now := en.clk.Now()
	en.mu.RLock()
	defer en.mu.RUnlock()

	count := func(set map[string]time.Time) int {
		n := 0
		for _, exp := range set {
			if exp.After(now) {
				n++
			}
		}
		return n
	}
	return count(en.blocked), count(en.suspended), count(en.stepUp)
}

// BlockedIPs returns the currently blocked addresses.
func (en *Enforcement) BlockedIPs() []string {
	return en.live(en.blocked)
}

// SuspendedUsers returns the currently suspended subjects.
func (en *Enforcement) SuspendedUsers() []string {
	return en.live(en.suspended)
}

// Sweep drops in-memory entries whose expiry passed or whose durable marker
// disappeared. The background sweeper calls this every few seconds.
func (en *Enforcement) Sweep(ctx context.Context) {
	for prefix, set := range map[string]map[string]time.Time{
		blockedIPPrefix: en.blocked,
		suspendedPrefix: en.suspended,
		stepUpPrefix:    en.stepUp,
	} {
		en.sweepSet(ctx, prefix, set)
	}
	en.updateGauges()
}

func (en *Enforcement) sweepSet(ctx context.Context, prefix string, set map[string]time.Time) {
	now := en.clk.Now()

	en.mu.RLock()
	stale := make([]string, 0, len(set))
	for subject, exp := range set {
		if !exp.After(now) {
			stale = append(stale, subject)
			continue
		}
		ok, err := en.kv.Has(ctx, prefix+subject)
		if err == nil && !ok {
			stale = append(stale, subject)
		}
	}
	en.mu.RUnlock()

	if len(stale) == 0 {
		return
	}
	en.mu.Lock()
	for _, subject := range stale {
		delete(set, subject)
	}
	en.mu.Unlock()
}

func (en *Enforcement) place(ctx context.Context, prefix, subject, ruleID string, d time.Duration) error {
	if subject == "" {
		return fmt.Errorf("enforcement marker %s: empty subject", prefix)
	}
	if d <= 0 {
		return fmt.Errorf("enforcement marker %s%s: non-positive duration", prefix, subject)
	}

	now := en.clk.Now()
	m := marker{Subject: subject, RuleID: ruleID, CreatedAt: now, ExpiresAt: now.Add(d)}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode marker %s%s: %w", prefix, subject, err)
	}
	if err := en.kv.Set(ctx, prefix+subject, data, d); err != nil {
		return fmt.Errorf("place marker %s%s: %w", prefix, subject, err)
	}
	return nil
}

func (en *Enforcement) active(set map[string]time.Time, subject string) bool {
	en.mu.RLock()
	exp, ok := set[subject]
	en.mu.RUnlock()
	return ok && exp.After(en.clk.Now())
}

func (en *Enforcement) live(set map[string]time.Time) []string {
	now := en.clk.Now()
	en.mu.RLock()
	defer en.mu.RUnlock()

	out := make([]string, 0, len(set))
	for subject, exp := range set {
		if exp.After(now) {
			out = append(out, subject)
		}
	}
	return out
}

func (en *Enforcement) publish(ctx context.Context, topic, subject, ruleID string, d time.Duration) {
	if en.bus == nil {
		return
	}
	ev := markerEvent{
		Subject:   subject,
		RuleID:    ruleID,
		Duration:  d.String(),
		ExpiresAt: en.clk.Now().Add(d),
	}
	if err := en.bus.Publish(ctx, topic, ev); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("enforcement publish failed")
	}
}

func (en *Enforcement) updateGauges() {
	blocked, suspended, _ := en.Counts()
	metrics.BlockedIPs.Set(float64(blocked))
	metrics.SuspendedUsers.Set(float64(suspended))
}

func (en *Enforcement) loadMarker(ctx context.Context, key string) (*marker, error) {
	data, err := en.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode marker %s: %w", key, err)
	}
	return &m, nil
}
