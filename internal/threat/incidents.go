// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/sentinelgate/internal/clock"
	"github.com/tomtom215/sentinelgate/internal/logging"
	"github.com/tomtom215/sentinelgate/internal/metrics"
	"github.com/tomtom215/sentinelgate/internal/pubsub"
	"github.com/tomtom215/sentinelgate/internal/store"
)

const (
	incidentKeyPrefix = "incident:"

	// IncidentRetention is how long incident records stay in the durable store.
	IncidentRetention = 30 * 24 * time.Hour

	// AutoResolveAfter is the age past which the sweeper resolves incidents
	// nobody picked up.
	AutoResolveAfter = 24 * time.Hour
)

// IncidentManager owns the incident lifecycle: creation on rule trigger,
// action outcome recording, operator status transitions, and automatic
// resolution of stale incidents.
type IncidentManager struct {
	kv  store.Store
	bus pubsub.Publisher
	clk clock.Clock

	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewIncidentManager creates the incident manager.
func NewIncidentManager(kv store.Store, bus pubsub.Publisher, clk clock.Clock) *IncidentManager {
	if clk == nil {
		clk = clock.New()
	}
	return &IncidentManager{
		kv:        kv,
		bus:       bus,
		clk:       clk,
		incidents: make(map[string]*Incident),
	}
}

// Restore loads surviving incidents from the durable store. Called once at
// startup.
func (m *IncidentManager) Restore(ctx context.Context) error {
	keys, err := m.kv.Keys(ctx, incidentKeyPrefix)
	if err != nil {
		return fmt.Errorf("restore incidents: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		data, err := m.kv.Get(ctx, key)
		if err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("skipping unreadable incident")
			continue
		}
		var inc Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("skipping undecodable incident")
			continue
		}
		m.incidents[inc.ID] = &inc
	}

	metrics.ActiveIncidents.Set(float64(m.activeCountLocked()))
	return nil
}

// Create opens an incident for a triggered rule. The incident is born with
// its detection timeline entry.
func (m *IncidentManager) Create(ctx context.Context, rule *Rule, event *SecurityEvent) (*Incident, error) {
	now := m.clk.Now()
	inc := &Incident{
		ID:       uuid.NewString(),
		RuleID:   rule.ID,
		Severity: rule.Severity,
		Status:   StatusActive,
		Timeline: []IncidentEvent{{
			Timestamp:   now,
			Type:        TimelineDetection,
			Description: fmt.Sprintf("rule %s triggered by event %s", rule.ID, event.ID),
			Actor:       ActorSystem,
			Details: map[string]any{
				"event_id":   event.ID,
				"category":   event.Category,
				"source_ip":  event.SourceIP,
				"risk_score": event.RiskScore,
			},
		}},
		CreatedAt: now,
	}
	if event.UserID != "" {
		inc.AffectedUsers = []string{event.UserID}
	}
	if event.SourceIP != "" {
		inc.AffectedResources = []string{event.SourceIP}
	}

	m.mu.Lock()
	m.incidents[inc.ID] = inc
	active := m.activeCountLocked()
	m.mu.Unlock()

	if err := m.persist(ctx, inc); err != nil {
		return nil, err
	}

	metrics.IncidentsCreated.WithLabelValues(string(inc.Severity)).Inc()
	metrics.ActiveIncidents.Set(float64(active))
	m.publish(ctx, pubsub.TopicIncidentCreated, inc)
	return inc, nil
}

// AppendAction records one executed action's outcome on the incident.
// Outcomes land in declaration order because the executor runs actions
// sequentially.
func (m *IncidentManager) AppendAction(ctx context.Context, incidentID string, ea ExecutedAction) error {
	m.mu.Lock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("incident %s not found", incidentID)
	}
	inc.Actions = append(inc.Actions, ea)
	inc.Timeline = append(inc.Timeline, IncidentEvent{
		Timestamp:   ea.ExecutedAt,
		Type:        TimelineAction,
		Description: fmt.Sprintf("action %s: %s", ea.Action.Kind, ea.Outcome),
		Actor:       ActorSystem,
	})
	m.mu.Unlock()

	if err := m.persist(ctx, inc); err != nil {
		return err
	}
	m.publish(ctx, pubsub.TopicIncidentUpdated, inc)
	return nil
}

// UpdateStatus transitions an incident. Terminal statuses are frozen;
// re-resolving a resolved incident is an error.
func (m *IncidentManager) UpdateStatus(ctx context.Context, incidentID string, status IncidentStatus, resolution, actor string) error {
	switch status {
	case StatusInvestigating, StatusResolved, StatusFalsePositive:
	default:
		return fmt.Errorf("invalid target status %q", status)
	}
	if actor == "" {
		actor = ActorAdmin
	}

	m.mu.Lock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("incident %s not found", incidentID)
	}
	if inc.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("incident %s already %s", incidentID, inc.Status)
	}

	now := m.clk.Now()
	inc.Status = status
	entryType := TimelineEscalation
	if status.Terminal() {
		entryType = TimelineResolution
		inc.Resolution = resolution
		inc.ResolvedAt = &now
	}
	desc := fmt.Sprintf("status changed to %s", status)
	if resolution != "" {
		desc += ": " + resolution
	}
	inc.Timeline = append(inc.Timeline, IncidentEvent{
		Timestamp:   now,
		Type:        entryType,
		Description: desc,
		Actor:       actor,
	})
	active := m.activeCountLocked()
	m.mu.Unlock()

	if err := m.persist(ctx, inc); err != nil {
		return err
	}
	metrics.ActiveIncidents.Set(float64(active))
	m.publish(ctx, pubsub.TopicIncidentUpdated, inc)
	return nil
}

// Get returns the incident with the given id.
func (m *IncidentManager) Get(incidentID string) (*Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[incidentID]
	return inc, ok
}

// List returns incidents, newest first, optionally filtered by status.
func (m *IncidentManager) List(status IncidentStatus) []*Incident {
	m.mu.RLock()
	out := make([]*Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		if status != "" && inc.Status != status {
			continue
		}
		out = append(out, inc)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Counts returns (total, active) incident counts. Active includes
// investigating: an incident only stops counting once terminal.
func (m *IncidentManager) Counts() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.incidents), m.activeCountLocked()
}

// AutoResolve closes active incidents older than AutoResolveAfter with an
// automatic note. The sweeper runs this hourly.
func (m *IncidentManager) AutoResolve(ctx context.Context) int {
	cutoff := m.clk.Now().Add(-AutoResolveAfter)

	m.mu.RLock()
	var stale []string
	for id, inc := range m.incidents {
		if inc.Status == StatusActive && inc.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	resolved := 0
	for _, id := range stale {
		err := m.UpdateStatus(ctx, id, StatusResolved,
			"auto-resolved: no activity within 24h of detection", ActorSystem)
		if err != nil {
			logging.Warn().Err(err).Str("incident_id", id).Msg("auto-resolve failed")
			continue
		}
		resolved++
	}
	return resolved
}

func (m *IncidentManager) persist(ctx context.Context, inc *Incident) error {
	m.mu.RLock()
	data, err := json.Marshal(inc)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode incident %s: %w", inc.ID, err)
	}
	if err := m.kv.Set(ctx, incidentKeyPrefix+inc.ID, data, IncidentRetention); err != nil {
		return fmt.Errorf("persist incident %s: %w", inc.ID, err)
	}
	return nil
}

func (m *IncidentManager) publish(ctx context.Context, topic string, inc *Incident) {
	if m.bus == nil {
		return
	}
	m.mu.RLock()
	snapshot := *inc
	m.mu.RUnlock()
	if err := m.bus.Publish(ctx, topic, snapshot); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Str("incident_id", inc.ID).Msg("incident publish failed")
	}
}

// activeCountLocked counts non-terminal incidents. Callers hold mu.
func (m *IncidentManager) activeCountLocked() int {
	n := 0
	for _, inc := range m.incidents {
		if !inc.Status.Terminal() {
			n++
		}
	}
	return n
}
