// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/sentinelgate/internal/clock"
)

// newTestStores returns both implementations so the contract tests run
// against each. The memory store gets its own fake clock handle for
// TTL-specific tests.
func newTestStores(t *testing.T) map[string]Store {
	t.Helper()

	badgerStore, err := NewBadgerStore(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { badgerStore.Close() })

	return map[string]Store{
		"badger": badgerStore,
		"memory": NewMemoryStore(nil),
	}
}

func TestGetSetDelete(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
				t.Errorf("Get missing = %v, want ErrKeyNotFound", err)
			}

			if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
				t.Fatalf("Set: %v", err)
			}

			got, err := s.Get(ctx, "k")
			if err != nil || string(got) != "v" {
				t.Fatalf("Get = %q, %v, want %q", got, err, "v")
			}

			ok, err := s.Has(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("Has = %v, %v, want true", ok, err)
			}

			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
				t.Errorf("Get after delete = %v, want ErrKeyNotFound", err)
			}

			// Deleting a missing key is not an error.
			if err := s.Delete(ctx, "k"); err != nil {
				t.Errorf("Delete missing: %v", err)
			}
		})
	}
}

func TestIncrementReturnsPostIncrementCount(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for want := int64(1); want <= 5; want++ {
				got, err := s.Increment(ctx, "counter", time.Minute)
				if err != nil {
					t.Fatalf("Increment: %v", err)
				}
				if got != want {
					t.Errorf("Increment = %d, want %d", got, want)
				}
			}
		})
	}
}

func TestIncrementConcurrent(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 8
			const perWorker = 25

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						if _, err := s.Increment(ctx, "concurrent", time.Minute); err != nil {
							t.Errorf("Increment: %v", err)
							return
						}
					}
				}()
			}
			wg.Wait()

			got, err := s.Increment(ctx, "concurrent", time.Minute)
			if err != nil {
				t.Fatalf("final Increment: %v", err)
			}
			if got != workers*perWorker+1 {
				t.Errorf("final count = %d, want %d", got, workers*perWorker+1)
			}
		})
	}
}

func TestKeysPrefix(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, k := range []string{"blocked_ip:10.0.0.5", "blocked_ip:10.0.0.6", "suspended_user:u1"} {
				if err := s.Set(ctx, k, []byte("1"), 0); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}

			keys, err := s.Keys(ctx, "blocked_ip:")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if len(keys) != 2 {
				t.Errorf("Keys = %v, want 2 blocked_ip entries", keys)
			}
		})
	}
}

func TestPushListBoundedMostRecentFirst(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, id := range []string{"a", "b", "c", "d"} {
				if err := s.PushList(ctx, "recent", id, 3); err != nil {
					t.Fatalf("PushList: %v", err)
				}
			}

			list, err := s.GetList(ctx, "recent")
			if err != nil {
				t.Fatalf("GetList: %v", err)
			}
			want := []string{"d", "c", "b"}
			if len(list) != len(want) {
				t.Fatalf("list = %v, want %v", list, want)
			}
			for i := range want {
				if list[i] != want[i] {
					t.Errorf("list[%d] = %q, want %q", i, list[i], want[i])
				}
			}
		})
	}
}

func TestTrimList(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, id := range []string{"keep-1", "drop-1", "keep-2"} {
				if err := s.PushList(ctx, "trim", id, 0); err != nil {
					t.Fatalf("PushList: %v", err)
				}
			}

			err := s.TrimList(ctx, "trim", func(entry string) bool {
				return entry[:4] == "keep"
			})
			if err != nil {
				t.Fatalf("TrimList: %v", err)
			}

			list, err := s.GetList(ctx, "trim")
			if err != nil {
				t.Fatalf("GetList: %v", err)
			}
			if len(list) != 2 {
				t.Errorf("list = %v, want only keep entries", list)
			}
		})
	}
}

func TestMemoryTTLExpiryWithFakeClock(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewMemoryStore(fc)

	if err := s.Set(ctx, "marker", []byte("1"), 30*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ok, _ := s.Has(ctx, "marker")
	if !ok {
		t.Fatal("marker should exist before TTL")
	}

	fc.Advance(31 * time.Second)

	ok, _ = s.Has(ctx, "marker")
	if ok {
		t.Error("marker should be expired after TTL")
	}
	if _, err := s.Get(ctx, "marker"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get expired = %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryCounterWindowResetsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewMemoryStore(fc)

	for i := 0; i < 3; i++ {
		if _, err := s.Increment(ctx, "burst", time.Minute); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	fc.Advance(61 * time.Second)

	got, err := s.Increment(ctx, "burst", time.Minute)
	if err != nil {
		t.Fatalf("Increment after expiry: %v", err)
	}
	if got != 1 {
		t.Errorf("count after window expiry = %d, want 1", got)
	}
}

func TestBadgerTTL(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerStore(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer s.Close()

	if err := s.Set(ctx, "short", []byte("1"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	if ok, _ := s.Has(ctx, "short"); ok {
		t.Error("entry should be expired")
	}
}
