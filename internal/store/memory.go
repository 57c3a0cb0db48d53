// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tomtom215/sentinelgate/internal/clock"
)

// MemoryStore implements Store in process memory with lazy TTL expiry.
// It takes a clock.Clock so tests can expire entries by advancing a fake
// clock instead of sleeping.
type MemoryStore struct {
	mu    sync.Mutex
	clk   clock.Clock
	data  map[string]memoryEntry
	lists map[string][]string
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an in-memory store using the given clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clk:   clk,
		data:  make(map[string]memoryEntry),
		lists: make(map[string][]string),
	}
}

// expired reports whether the entry is past its TTL. Callers hold mu.
func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !s.clk.Now().Before(e.expiresAt)
}

// Get retrieves the value for a key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || s.expired(e) {
		delete(s.data, key)
		return nil, ErrKeyNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a value with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clk.Now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	delete(s.lists, key)
	return nil
}

// Has reports whether a key exists and has not expired.
func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if s.expired(e) {
		delete(s.data, key)
		return false, nil
	}
	return true, nil
}

// Increment atomically increments the counter at key.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	e, ok := s.data[key]
	if ok && !s.expired(e) {
		current, _ = strconv.ParseInt(string(e.value), 10, 64)
	} else {
		// New window: TTL starts now.
		e = memoryEntry{}
		if ttl > 0 {
			e.expiresAt = s.clk.Now().Add(ttl)
		}
	}

	current++
	e.value = []byte(strconv.FormatInt(current, 10))
	s.data[key] = e
	return current, nil
}

// Keys returns all live keys with the given prefix.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k, e := range s.data {
		if s.expired(e) {
			delete(s.data, k)
			continue
		}
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// PushList prepends an entry to the bounded list at key.
func (s *MemoryStore) PushList(_ context.Context, key, entry string, maxLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append([]string{entry}, s.lists[key]...)
	if maxLen > 0 && len(list) > maxLen {
		list = list[:maxLen]
	}
	s.lists[key] = list
	return nil
}

// GetList returns the bounded list at key, most-recent-first.
func (s *MemoryStore) GetList(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.lists[key]...), nil
}

// TrimList removes entries for which keep returns false.
func (s *MemoryStore) TrimList(_ context.Context, key string, keep func(entry string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	kept := list[:0]
	for _, e := range list {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	s.lists[key] = kept
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
