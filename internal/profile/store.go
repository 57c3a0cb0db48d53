// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinelgate/internal/clock"
	"github.com/tomtom215/sentinelgate/internal/geo"
	"github.com/tomtom215/sentinelgate/internal/store"
)

// keyPrefix namespaces profile entries in the durable store.
const keyPrefix = "profile:"

// Store persists behavior profiles with a read-through in-memory cache.
// The durable store remains the source of truth so multiple engine replicas
// can share baselines; the cache only avoids repeated decodes on the hot
// evaluation path.
type Store struct {
	kv  store.Store
	clk clock.Clock

	mu    sync.Mutex
	cache map[string]*BehaviorProfile
}

// NewStore creates a profile store over the durable KV store.
func NewStore(kv store.Store, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		kv:    kv,
		clk:   clk,
		cache: make(map[string]*BehaviorProfile),
	}
}

// Get returns the profile for userID, or (nil, nil) when none exists.
// Conditions that require a baseline treat a nil profile as "not anomalous".
func (s *Store) Get(ctx context.Context, userID string) (*BehaviorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, userID)
}

// getLocked loads from cache or the durable store. Callers hold mu.
func (s *Store) getLocked(ctx context.Context, userID string) (*BehaviorProfile, error) {
	if p, ok := s.cache[userID]; ok {
		return p, nil
	}

	data, err := s.kv.Get(ctx, keyPrefix+userID)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}

	var p BehaviorProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}

	s.cache[userID] = &p
	return &p, nil
}

// RecordAuthentication folds a successful authentication into the user's
// baseline, creating the profile lazily on first sight.
func (s *Store) RecordAuthentication(ctx context.Context, userID, sourceIP string, loc *geo.Location, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getLocked(ctx, userID)
	if err != nil {
		return err
	}
	if p == nil {
		p = New(userID, s.clk.Now())
		s.cache[userID] = p
	}

	p.ObserveLogin(at.Hour(), sourceIP, loc, s.clk.Now())
	return s.saveLocked(ctx, p)
}

// Save persists a profile, refreshing its retention TTL.
func (s *Store) Save(ctx context.Context, p *BehaviorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[p.UserID] = p
	return s.saveLocked(ctx, p)
}

// saveLocked writes the profile to the durable store. Callers hold mu.
func (s *Store) saveLocked(ctx context.Context, p *BehaviorProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.UserID, err)
	}
	if err := s.kv.Set(ctx, keyPrefix+p.UserID, data, Retention); err != nil {
		return fmt.Errorf("store profile %s: %w", p.UserID, err)
	}
	return nil
}

// Delete removes a profile (explicit data-retention purge only).
func (s *Store) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, userID)
	return s.kv.Delete(ctx, keyPrefix+userID)
}

// Invalidate drops a cached profile so the next Get reloads from the store.
// The sweeper calls this when a profile's durable entry has expired.
func (s *Store) Invalidate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, userID)
}

// SweepExpired evicts cached profiles whose durable entry lapsed past the
// retention window, so a stale baseline cannot outlive its store record.
func (s *Store) SweepExpired(ctx context.Context) {
	s.mu.Lock()
	cached := make([]string, 0, len(s.cache))
	for userID := range s.cache {
		cached = append(cached, userID)
	}
	s.mu.Unlock()

	for _, userID := range cached {
		ok, err := s.kv.Has(ctx, keyPrefix+userID)
		if err != nil {
			continue
		}
		if !ok {
			s.Invalidate(userID)
		}
	}
}
