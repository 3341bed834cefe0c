// Package counter provides minute-bucketed usage counters for routing
// decisions. It supports both in-memory (single instance) and Redis
// (distributed) backends behind one interface; the router and orchestrator
// are written against the interface only.
package counter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MetricTPM and MetricRPM are the two usage metrics tracked per deployment
// per minute.
const (
	MetricTPM = "tpm"
	MetricRPM = "rpm"
)

// DefaultTTL keeps a bucket readable well past its one-minute width, so a
// slow batch read right at a minute boundary still observes the value.
const DefaultTTL = time.Hour

// Store is an abstract key-value counter store with per-key TTL.
//
// Increment must be atomic: a value read after N concurrent increments of
// v1..vN equals the prior value plus sum(v1..vN), regardless of
// interleaving. Callers never perform read-then-write pairs on shared keys.
type Store interface {
	// Get returns the counter at key, reporting absence separately from zero.
	Get(ctx context.Context, key string) (int64, bool, error)

	// BatchGet fetches all keys in one round trip, preserving input order.
	// Absent keys are returned as nil entries.
	BatchGet(ctx context.Context, keys []string) ([]*int64, error)

	// Increment atomically adds delta to the counter at key, creating it at
	// zero if absent, and resets its expiry to ttl from now.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) error
}

// Key builds the shared counter key shape "{deployment_id}:{metric}:{HH-MM}".
// The minute-bucket suffix is the sole rollover mechanism, so the shape must
// stay stable for interoperability with pre-existing store instances.
func Key(deploymentID, metric, bucket string) string {
	return fmt.Sprintf("%s:%s:%s", deploymentID, metric, bucket)
}

// MinuteBucket truncates t to UTC "HH-MM" granularity. Counters for a bucket
// only ever grow within that minute and are logically discarded once it
// rolls over.
func MinuteBucket(t time.Time) string {
	return t.UTC().Format("15-04")
}

// InMemoryStore implements Store with a mutex-guarded map. Suitable for
// tests and single-instance deployments.
type InMemoryStore struct {
	mu    sync.Mutex
	items map[string]*item
}

type item struct {
	value     int64
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{
		items: make(map[string]*item),
	}
	go s.cleanup()
	return s
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok || time.Now().After(it.expiresAt) {
		return 0, false, nil
	}
	return it.value, true, nil
}

func (s *InMemoryStore) BatchGet(ctx context.Context, keys []string) ([]*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	values := make([]*int64, len(keys))
	for i, key := range keys {
		it, ok := s.items[key]
		if !ok || now.After(it.expiresAt) {
			continue
		}
		value := it.value
		values[i] = &value
	}
	return values, nil
}

func (s *InMemoryStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok || time.Now().After(it.expiresAt) {
		it = &item{}
		s.items[key] = it
	}
	it.value += delta
	it.expiresAt = time.Now().Add(ttl)
	return nil
}

func (s *InMemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for key, it := range s.items {
			if now.After(it.expiresAt) {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
}
