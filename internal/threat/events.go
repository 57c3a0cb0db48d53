// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package threat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinelgate/internal/clock"
	"github.com/tomtom215/sentinelgate/internal/logging"
	"github.com/tomtom215/sentinelgate/internal/store"
)

const (
	eventKeyPrefix  = "event:"
	recentEventsKey = "recent_events"

	// RecentEventsCap bounds the recent-events id list.
	RecentEventsCap = 1000

	// EventRetention is how long event records stay in the durable store.
	EventRetention = 30 * 24 * time.Hour
)

// ErrStoreUnavailable is returned when the durable store rejects an event
// write. Intake fails rather than silently dropping the record.
var ErrStoreUnavailable = errors.New("durable store unavailable")

// EventLog persists security events and maintains the bounded list of
// recent event ids used by the suspicious-pattern evaluator.
type EventLog struct {
	kv  store.Store
	clk clock.Clock
}

// NewEventLog creates an event log over the durable KV store.
func NewEventLog(kv store.Store, clk clock.Clock) *EventLog {
	if clk == nil {
		clk = clock.New()
	}
	return &EventLog{kv: kv, clk: clk}
}

// Record persists the event and prepends its id to the recent list.
func (l *EventLog) Record(ctx context.Context, e *SecurityEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	if err := l.kv.Set(ctx, eventKeyPrefix+e.ID, data, EventRetention); err != nil {
		return fmt.Errorf("%w: persist event %s: %w", ErrStoreUnavailable, e.ID, err)
	}
	if err := l.kv.PushList(ctx, recentEventsKey, e.ID, RecentEventsCap); err != nil {
		return fmt.Errorf("%w: index event %s: %w", ErrStoreUnavailable, e.ID, err)
	}
	return nil
}

// Update re-persists an already recorded event so post-intake mutations
// (applied response actions) reach the durable record. The retention TTL
// restarts from now.
func (l *EventLog) Update(ctx context.Context, e *SecurityEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	if err := l.kv.Set(ctx, eventKeyPrefix+e.ID, data, EventRetention); err != nil {
		return fmt.Errorf("%w: update event %s: %w", ErrStoreUnavailable, e.ID, err)
	}
	return nil
}

// Get loads one event by id. Returns store.ErrKeyNotFound when absent or
// expired.
func (l *EventLog) Get(ctx context.Context, id string) (*SecurityEvent, error) {
	data, err := l.kv.Get(ctx, eventKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	var e SecurityEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", id, err)
	}
	return &e, nil
}

// Recent returns up to limit events from the recent list, most recent first.
// Ids whose event record has expired are skipped. limit <= 0 means all.
func (l *EventLog) Recent(ctx context.Context, limit int) ([]*SecurityEvent, error) {
	ids, err := l.kv.GetList(ctx, recentEventsKey)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load recent events: %w", err)
	}

	events := make([]*SecurityEvent, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(events) >= limit {
			break
		}
		e, err := l.Get(ctx, id)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// RecentForUser returns the user's events newer than now-window, most recent
// first. The recent list is ordered newest first, so the scan stops at the
// first event outside the window.
func (l *EventLog) RecentForUser(ctx context.Context, userID string, window time.Duration) ([]*SecurityEvent, error) {
	ids, err := l.kv.GetList(ctx, recentEventsKey)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load recent events: %w", err)
	}

	cutoff := l.clk.Now().Add(-window)
	var events []*SecurityEvent
	for _, id := range ids {
		e, err := l.Get(ctx, id)
		if errors.Is(err, store.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.Timestamp.Before(cutoff) {
			break
		}
		if e.UserID == userID {
			events = append(events, e)
		}
	}
	return events, nil
}

// RecentCount returns the current length of the recent-events list.
func (l *EventLog) RecentCount(ctx context.Context) int {
	ids, err := l.kv.GetList(ctx, recentEventsKey)
	if err != nil {
		return 0
	}
	return len(ids)
}

// Purge drops recent-list entries whose event record has expired. The sweeper
// runs this hourly.
func (l *EventLog) Purge(ctx context.Context) error {
	err := l.kv.TrimList(ctx, recentEventsKey, func(id string) bool {
		ok, err := l.kv.Has(ctx, eventKeyPrefix+id)
		if err != nil {
			logging.Warn().Err(err).Str("event_id", id).Msg("purge: existence check failed, keeping entry")
			return true
		}
		return ok
	})
	if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("purge recent events: %w", err)
	}
	return nil
}
