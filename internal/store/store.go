// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package store defines the durable key-value abstraction the engine persists
// through: events, expiring counters, block/suspension markers, behavior
// profiles, and incidents all live behind this interface. The production
// implementation is BadgerDB; a memory implementation backs unit tests and
// supports a fake clock for TTL expiry.
//
// The engine treats this store as the source of truth. In-process caches
// (block sets, profile cache) are read-through layers over it so a
// multi-instance deployment can point all replicas at a shared store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key does not exist or its TTL has lapsed.
var ErrKeyNotFound = errors.New("store: key not found")

// Store is the durable persistence interface.
// All writes accept a TTL; a zero TTL means the entry does not expire.
// Increment must be atomic with respect to concurrent callers.
type Store interface {
	// Get retrieves the value for a key. Returns ErrKeyNotFound if absent
	// or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether a key exists and has not expired.
	Has(ctx context.Context, key string) (bool, error)

	// Increment atomically increments the counter at key and returns the
	// post-increment value. The TTL is applied when the counter is created;
	// subsequent increments within the window do not extend it.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// PushList prepends an entry to the bounded list at key, evicting the
	// oldest entries beyond maxLen. The list is most-recent-first.
	PushList(ctx context.Context, key, entry string, maxLen int) error

	// GetList returns the bounded list at key, most-recent-first.
	// A missing list is returned as empty, not as an error.
	GetList(ctx context.Context, key string) ([]string, error)

	// TrimList removes entries for which keep returns false.
	TrimList(ctx context.Context, key string, keep func(entry string) bool) error

	// Close releases underlying resources.
	Close() error
}
