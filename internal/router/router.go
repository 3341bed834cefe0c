// Package router selects a deployment within a model group based on recent
// token and request usage. The least-loaded deployment wins, subject to each
// deployment's declared TPM/RPM caps; ties are broken at random to spread
// load across equally idle deployments under concurrent callers.
package router

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-router/internal/counter"
	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/felipepmaragno/ai-router/internal/metrics"
)

// UsageRouter makes routing decisions against a counter store snapshot.
// The store handle is injected so tests can supply isolated in-memory
// stores; nothing here is process-global.
type UsageRouter struct {
	store counter.Store
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*UsageRouter)

// WithCounterTTL overrides the expiry set on usage counters.
func WithCounterTTL(ttl time.Duration) Option {
	return func(r *UsageRouter) {
		r.ttl = ttl
	}
}

// WithClock overrides the time source, for bucket-boundary tests.
func WithClock(now func() time.Time) Option {
	return func(r *UsageRouter) {
		r.now = now
	}
}

func New(store counter.Store, opts ...Option) *UsageRouter {
	r := &UsageRouter{
		store: store,
		ttl:   counter.DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select picks one deployment for the next call:
//
//  1. Fetch every deployment's current-minute tpm and rpm counters, one
//     batched round trip per metric, dispatched in parallel.
//  2. Exclude deployments whose usage plus this call would exceed a declared
//     cap (absent counter reads as 0, absent cap as unbounded).
//  3. Among the survivors pick the lowest tpm usage, ties broken uniformly
//     at random.
//
// An unreadable counter store degrades to "pick anything" rather than
// refusing all calls; an empty survivor set is a capacity-exhaustion error,
// distinct from any backend failure.
func (r *UsageRouter) Select(ctx context.Context, modelGroup string, healthy []domain.Deployment, estimatedInputTokens int64) (*domain.Deployment, error) {
	if len(healthy) == 0 {
		return nil, domain.ErrNoDeploymentsAvailable
	}

	bucket := counter.MinuteBucket(r.now())

	tpmKeys := make([]string, len(healthy))
	rpmKeys := make([]string, len(healthy))
	for i, d := range healthy {
		tpmKeys[i] = counter.Key(d.ID, counter.MetricTPM, bucket)
		rpmKeys[i] = counter.Key(d.ID, counter.MetricRPM, bucket)
	}

	tpmUsed, rpmUsed := r.fetchUsage(ctx, modelGroup, tpmKeys, rpmKeys)

	var (
		candidates []int
		lowest     int64
	)
	for i, d := range healthy {
		tpm := valueOrZero(tpmUsed, i)
		rpm := valueOrZero(rpmUsed, i)

		if d.TPMLimit != nil && tpm+estimatedInputTokens > *d.TPMLimit {
			continue
		}
		if d.RPMLimit != nil && rpm+1 > *d.RPMLimit {
			continue
		}

		switch {
		case len(candidates) == 0 || tpm < lowest:
			candidates = candidates[:0]
			candidates = append(candidates, i)
			lowest = tpm
		case tpm == lowest:
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		slog.Warn("all deployments over limit",
			"model_group", modelGroup,
			"deployments", len(healthy),
			"estimated_input_tokens", estimatedInputTokens,
		)
		return nil, domain.ErrNoDeploymentsAvailable
	}

	chosen := healthy[candidates[rand.IntN(len(candidates))]]
	return &chosen, nil
}

// fetchUsage issues the two batched reads in parallel. A failed read logs
// and falls back to all-absent, so a cache outage never blocks routing.
func (r *UsageRouter) fetchUsage(ctx context.Context, modelGroup string, tpmKeys, rpmKeys []string) ([]*int64, []*int64) {
	var (
		wg      sync.WaitGroup
		tpmUsed []*int64
		rpmUsed []*int64
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		tpmUsed, err = r.store.BatchGet(ctx, tpmKeys)
		if err != nil {
			slog.Warn("tpm counter read failed, assuming zero usage",
				"model_group", modelGroup, "error", err)
			metrics.RecordCounterStoreError("batch_get")
			tpmUsed = nil
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		rpmUsed, err = r.store.BatchGet(ctx, rpmKeys)
		if err != nil {
			slog.Warn("rpm counter read failed, assuming zero usage",
				"model_group", modelGroup, "error", err)
			metrics.RecordCounterStoreError("batch_get")
			rpmUsed = nil
		}
	}()
	wg.Wait()

	return tpmUsed, rpmUsed
}

// RecordUsage reports a completed call back into the counter store: tpm by
// the call's total tokens, rpm by one, both in the completion-time minute
// bucket. A call that straddles a minute boundary lands in a later bucket
// than the one it was routed against; that drift is an accepted
// approximation. Write failures are logged and swallowed, so usage
// accounting stays best-effort relative to call success.
func (r *UsageRouter) RecordUsage(ctx context.Context, deploymentID string, totalTokens int64) {
	bucket := counter.MinuteBucket(r.now())

	if err := r.store.Increment(ctx, counter.Key(deploymentID, counter.MetricTPM, bucket), totalTokens, r.ttl); err != nil {
		slog.Warn("tpm counter write failed", "deployment_id", deploymentID, "error", err)
		metrics.RecordCounterStoreError("increment")
	}
	if err := r.store.Increment(ctx, counter.Key(deploymentID, counter.MetricRPM, bucket), 1, r.ttl); err != nil {
		slog.Warn("rpm counter write failed", "deployment_id", deploymentID, "error", err)
		metrics.RecordCounterStoreError("increment")
	}
}

func valueOrZero(values []*int64, i int) int64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}
