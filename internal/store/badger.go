// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinelgate/internal/logging"
)

// incrementRetries bounds the retry loop for optimistic transaction conflicts.
const incrementRetries = 10

// BadgerStore implements Store backed by BadgerDB.
// Badger handles per-key TTL natively, which maps directly onto the engine's
// expiring counters and action markers.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig configures the Badger-backed store.
type BadgerConfig struct {
	// Dir is the on-disk location. Ignored when InMemory is set.
	Dir string

	// InMemory runs Badger without persistence (tests, ephemeral deployments).
	InMemory bool

	// GCInterval is how often value-log garbage collection runs.
	// Default: 10 minutes.
	GCInterval time.Duration
}

// NewBadgerStore opens the Badger database and starts value-log GC.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db}

	if !cfg.InMemory {
		interval := cfg.GCInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		go s.runGC(interval)
	}

	return s, nil
}

// runGC periodically reclaims value-log space.
func (s *BadgerStore) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if s.db.IsClosed() {
			return
		}
		// ErrNoRewrite just means there was nothing to collect.
		if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			logging.Warn().Err(err).Msg("badger value log GC failed")
		}
	}
}

// Get retrieves the value for a key.
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("get %q: %w", key, err)
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores a value with the given TTL.
func (s *BadgerStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete removes a key.
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Has reports whether a key exists and has not expired.
func (s *BadgerStore) Has(_ context.Context, key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has %q: %w", key, err)
	}
	return true, nil
}

// Increment atomically increments the counter at key.
// Badger transactions are optimistic, so concurrent increments can conflict;
// the loop retries until the transaction commits.
func (s *BadgerStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	var count int64

	for attempt := 0; attempt < incrementRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			var current int64
			var remaining time.Duration

			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				remaining = ttl
			case err != nil:
				return fmt.Errorf("increment read %q: %w", key, err)
			default:
				if err := item.Value(func(val []byte) error {
					current, err = strconv.ParseInt(string(val), 10, 64)
					return err
				}); err != nil {
					return fmt.Errorf("increment parse %q: %w", key, err)
				}
				// Preserve the window set when the counter was created.
				if exp := item.ExpiresAt(); exp > 0 {
					remaining = time.Until(time.Unix(int64(exp), 0))
					if remaining <= 0 {
						current = 0
						remaining = ttl
					}
				}
			}

			count = current + 1
			entry := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(count, 10)))
			if remaining > 0 {
				entry = entry.WithTTL(remaining)
			}
			return txn.SetEntry(entry)
		})

		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return count, nil
	}

	return 0, fmt.Errorf("increment %q: too many conflicts", key)
}

// Keys returns all live keys with the given prefix.
func (s *BadgerStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("keys %q: %w", prefix, err)
	}
	return keys, nil
}

// PushList prepends an entry to the bounded list at key.
func (s *BadgerStore) PushList(_ context.Context, key, entry string, maxLen int) error {
	for attempt := 0; attempt < incrementRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			list, err := readList(txn, key)
			if err != nil {
				return err
			}

			list = append([]string{entry}, list...)
			if maxLen > 0 && len(list) > maxLen {
				list = list[:maxLen]
			}
			return writeList(txn, key, list)
		})

		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("push list %q: too many conflicts", key)
}

// GetList returns the bounded list at key, most-recent-first.
func (s *BadgerStore) GetList(_ context.Context, key string) ([]string, error) {
	var list []string

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		list, err = readList(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// TrimList removes entries for which keep returns false.
func (s *BadgerStore) TrimList(_ context.Context, key string, keep func(entry string) bool) error {
	for attempt := 0; attempt < incrementRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			list, err := readList(txn, key)
			if err != nil {
				return err
			}

			kept := list[:0]
			for _, e := range list {
				if keep(e) {
					kept = append(kept, e)
				}
			}
			return writeList(txn, key, kept)
		})

		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("trim list %q: too many conflicts", key)
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// readList decodes the JSON-encoded list at key inside a transaction.
func readList(txn *badger.Txn, key string) ([]string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read list %q: %w", key, err)
	}

	var list []string
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &list)
	}); err != nil {
		return nil, fmt.Errorf("decode list %q: %w", key, err)
	}
	return list, nil
}

// writeList encodes and stores the list at key inside a transaction.
func writeList(txn *badger.Txn, key string, list []string) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode list %q: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}
