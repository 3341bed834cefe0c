// Package gateway orchestrates a chat completion end to end: resolve the
// model group, filter unhealthy deployments, pick one by current usage,
// dispatch to the provider adapter, then record usage, cost and spend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipepmaragno/ai-router/internal/budget"
	"github.com/felipepmaragno/ai-router/internal/cache"
	"github.com/felipepmaragno/ai-router/internal/circuitbreaker"
	"github.com/felipepmaragno/ai-router/internal/cost"
	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/felipepmaragno/ai-router/internal/metrics"
	"github.com/felipepmaragno/ai-router/internal/notifications"
	"github.com/felipepmaragno/ai-router/internal/router"
	"github.com/felipepmaragno/ai-router/internal/spend"
	"github.com/felipepmaragno/ai-router/internal/stream"
	"github.com/felipepmaragno/ai-router/internal/telemetry"
)

// Adapter is the provider-facing contract. Each deployment is bound to one
// adapter instance configured for that backend.
type Adapter interface {
	ID() string
	Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
	CompleteStream(ctx context.Context, req domain.ChatRequest) (*stream.Stream, error)
	Models(ctx context.Context) ([]domain.Model, error)
	HealthCheck(ctx context.Context) error
}

type Config struct {
	Deployments []domain.Deployment
	Adapters    map[string]Adapter
	Router      *router.UsageRouter
	Breakers    *circuitbreaker.Manager
	Calculator  *cost.Calculator
	Tracker     cost.Tracker
	SpendSink   spend.Sink
	Notifier    notifications.Notifier
	Budget      *budget.Monitor
	Cache       cache.Cache
	CacheTTL    time.Duration
}

type Gateway struct {
	groups     map[string][]domain.Deployment
	adapters   map[string]Adapter
	router     *router.UsageRouter
	breakers   *circuitbreaker.Manager
	calculator *cost.Calculator
	tracker    cost.Tracker
	spendSink  spend.Sink
	notifier   notifications.Notifier
	budget     *budget.Monitor
	cache      cache.Cache
	cacheTTL   time.Duration
}

func New(cfg Config) *Gateway {
	groups := make(map[string][]domain.Deployment)
	for _, d := range cfg.Deployments {
		groups[d.ModelGroup] = append(groups[d.ModelGroup], d)
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Gateway{
		groups:     groups,
		adapters:   cfg.Adapters,
		router:     cfg.Router,
		breakers:   cfg.Breakers,
		calculator: cfg.Calculator,
		tracker:    cfg.Tracker,
		spendSink:  cfg.SpendSink,
		notifier:   cfg.Notifier,
		budget:     cfg.Budget,
		cache:      cfg.Cache,
		cacheTTL:   cacheTTL,
	}
}

// Deployments returns the configured deployments for a model group.
func (g *Gateway) Deployments(modelGroup string) []domain.Deployment {
	return g.groups[modelGroup]
}

// ModelGroups lists the configured model group names.
func (g *Gateway) ModelGroups() []string {
	names := make([]string, 0, len(g.groups))
	for name := range g.groups {
		names = append(names, name)
	}
	return names
}

// Complete runs a non-streaming completion. req.Model names a model group;
// the selected deployment's underlying model is substituted before dispatch.
func (g *Gateway) Complete(ctx context.Context, key *domain.VirtualKey, req domain.ChatRequest, requestID string) (*domain.ChatResponse, error) {
	start := time.Now()
	modelGroup := req.Model

	ctx, span := telemetry.StartSpan(ctx, "gateway.complete")
	defer span.End()

	if err := g.checkBudget(ctx, key); err != nil {
		return nil, err
	}

	var cacheKey string
	if g.cache != nil {
		cacheKey = cache.GenerateCacheKey(req)
		if cached, ok := g.cache.Get(ctx, cacheKey); ok {
			metrics.RecordCacheHit(modelGroup)
			telemetry.AddCacheAttribute(span, true)
			cached.Gateway = &domain.Gateway{
				DeploymentID: "cache",
				ModelGroup:   modelGroup,
				LatencyMs:    time.Since(start).Milliseconds(),
				CacheHit:     true,
				RequestID:    requestID,
				TraceID:      telemetry.GetTraceID(ctx),
			}
			return cached, nil
		}
		metrics.RecordCacheMiss(modelGroup)
	}

	estimate := cost.EstimateInputTokens(req.Messages)

	healthy, err := g.healthyDeployments(ctx, modelGroup)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for len(healthy) > 0 {
		dep, err := g.selectDeployment(ctx, modelGroup, healthy, estimate)
		if err != nil {
			return nil, err
		}

		adapter, ok := g.adapters[dep.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no adapter for deployment %s", domain.ErrDeploymentNotFound, dep.ID)
		}

		provReq := req
		provReq.Model = dep.Model

		resp, err := adapter.Complete(ctx, provReq)
		if err != nil {
			lastErr = err
			g.recordBreakerResult(ctx, dep.ID, false)
			metrics.RecordRequest(modelGroup, dep.ID, "error", time.Since(start).Seconds())
			slog.Warn("deployment failed, excluding and retrying",
				"deployment_id", dep.ID,
				"model_group", modelGroup,
				"error", err,
				"request_id", requestID,
			)
			healthy = removeDeployment(healthy, dep.ID)
			continue
		}

		g.recordBreakerResult(ctx, dep.ID, true)

		costUSD := g.calculator.Calculate(dep.Model, resp.Usage)
		latency := time.Since(start).Milliseconds()
		resp.Gateway = &domain.Gateway{
			DeploymentID: dep.ID,
			ModelGroup:   modelGroup,
			LatencyMs:    latency,
			CostUSD:      costUSD,
			RequestID:    requestID,
			TraceID:      telemetry.GetTraceID(ctx),
		}

		g.recordCompletion(ctx, key, dep, modelGroup, requestID, resp.Usage, costUSD, false)
		metrics.RecordRequest(modelGroup, dep.ID, "success", time.Since(start).Seconds())
		telemetry.AddRequestAttributes(span, modelGroup, dep.ID, dep.Model, requestID)
		telemetry.AddTokenAttributes(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		telemetry.AddCostAttribute(span, costUSD)

		if g.cache != nil && cacheKey != "" {
			if err := g.cache.Set(ctx, cacheKey, resp, g.cacheTTL); err != nil {
				slog.Warn("failed to cache response", "error", err, "request_id", requestID)
			}
		}

		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all deployments failed: %w", lastErr)
	}
	return nil, domain.ErrNoDeploymentsAvailable
}

// CompleteStream runs a streaming completion. Usage recording and spend
// emission happen in the stream's finish hook, after the caller has drained
// it, so the final usage chunk is taken into account.
func (g *Gateway) CompleteStream(ctx context.Context, key *domain.VirtualKey, req domain.ChatRequest, requestID string) (*stream.Stream, *domain.Deployment, error) {
	start := time.Now()
	modelGroup := req.Model

	if err := g.checkBudget(ctx, key); err != nil {
		return nil, nil, err
	}

	estimate := cost.EstimateInputTokens(req.Messages)

	healthy, err := g.healthyDeployments(ctx, modelGroup)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for len(healthy) > 0 {
		dep, err := g.selectDeployment(ctx, modelGroup, healthy, estimate)
		if err != nil {
			return nil, nil, err
		}

		adapter, ok := g.adapters[dep.ID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: no adapter for deployment %s", domain.ErrDeploymentNotFound, dep.ID)
		}

		provReq := req
		provReq.Model = dep.Model

		s, err := adapter.CompleteStream(ctx, provReq)
		if err != nil {
			lastErr = err
			g.recordBreakerResult(ctx, dep.ID, false)
			slog.Warn("deployment failed to open stream, excluding and retrying",
				"deployment_id", dep.ID,
				"model_group", modelGroup,
				"error", err,
				"request_id", requestID,
			)
			healthy = removeDeployment(healthy, dep.ID)
			continue
		}

		metrics.ActiveStreams.Inc()
		selected := *dep
		s.OnFinish(func(usage *domain.Usage, streamErr error) {
			metrics.ActiveStreams.Dec()

			// The request context is likely done by the time the
			// caller finishes draining.
			bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			g.recordBreakerResult(bg, selected.ID, streamErr == nil)

			var u domain.Usage
			if usage != nil {
				u = *usage
			}

			costUSD, known := s.Cost()
			if !known {
				costUSD = g.calculator.Calculate(selected.Model, u)
			}

			status := "success"
			if streamErr != nil {
				status = "error"
			}
			metrics.RecordRequest(modelGroup, selected.ID, status, time.Since(start).Seconds())

			g.recordCompletion(bg, key, &selected, modelGroup, requestID, u, costUSD, false)
		})

		return s, dep, nil
	}

	if lastErr != nil {
		return nil, nil, fmt.Errorf("all deployments failed: %w", lastErr)
	}
	return nil, nil, domain.ErrNoDeploymentsAvailable
}

// healthyDeployments returns the group's deployments whose circuit breakers
// currently admit traffic.
func (g *Gateway) healthyDeployments(ctx context.Context, modelGroup string) ([]domain.Deployment, error) {
	deployments, ok := g.groups[modelGroup]
	if !ok || len(deployments) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelGroupNotFound, modelGroup)
	}

	healthy := make([]domain.Deployment, 0, len(deployments))
	for _, d := range deployments {
		if err := g.breakers.Get(d.ID).Allow(ctx); err != nil {
			slog.Debug("deployment excluded by circuit breaker", "deployment_id", d.ID)
			continue
		}
		healthy = append(healthy, d)
	}

	if len(healthy) == 0 {
		return nil, fmt.Errorf("%w: all deployments for %s are unhealthy", domain.ErrNoDeploymentsAvailable, modelGroup)
	}
	return healthy, nil
}

func (g *Gateway) selectDeployment(ctx context.Context, modelGroup string, healthy []domain.Deployment, estimate int64) (*domain.Deployment, error) {
	dep, err := g.router.Select(ctx, modelGroup, healthy, estimate)
	if err != nil {
		if errors.Is(err, domain.ErrNoDeploymentsAvailable) {
			metrics.RecordRoutingExhausted(modelGroup)
			g.notifyCapacityExhausted(ctx, modelGroup)
		}
		return nil, err
	}
	metrics.RecordRoutingDecision(modelGroup, dep.ID)
	return dep, nil
}

// recordCompletion performs the post-call bookkeeping: usage counters for
// routing, cost tracking, spend emission, token metrics and budget alerts.
// Everything here is best-effort.
func (g *Gateway) recordCompletion(ctx context.Context, key *domain.VirtualKey, dep *domain.Deployment, modelGroup, requestID string, usage domain.Usage, costUSD float64, cacheHit bool) {
	g.router.RecordUsage(ctx, dep.ID, int64(usage.TotalTokens))

	metrics.RecordTokens(modelGroup, dep.ID, usage.PromptTokens, usage.CompletionTokens)
	metrics.RecordCost(modelGroup, dep.ID, costUSD)

	keyID := ""
	if key != nil {
		keyID = key.ID
	}

	if g.tracker != nil {
		record := cost.UsageRecord{
			KeyID:        keyID,
			RequestID:    requestID,
			Model:        dep.Model,
			DeploymentID: dep.ID,
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
			CostUSD:      costUSD,
			Timestamp:    time.Now(),
		}
		if err := g.tracker.Record(ctx, record); err != nil {
			slog.Warn("failed to record usage", "error", err, "request_id", requestID)
		}
	}

	if g.spendSink != nil {
		rec := spend.Record{
			RequestID:    requestID,
			KeyID:        keyID,
			Model:        dep.Model,
			ModelGroup:   modelGroup,
			DeploymentID: dep.ID,
			TotalTokens:  usage.TotalTokens,
			ResponseCost: costUSD,
			CacheHit:     cacheHit,
			Timestamp:    time.Now(),
		}
		if err := g.spendSink.Emit(ctx, rec); err != nil {
			slog.Warn("failed to emit spend record", "error", err, "request_id", requestID)
		}
	}

	if g.budget != nil && key != nil {
		if _, err := g.budget.Check(ctx, key); err != nil {
			slog.Warn("budget check failed", "error", err, "key_id", key.ID)
		}
	}
}

func (g *Gateway) recordBreakerResult(ctx context.Context, deploymentID string, success bool) {
	breaker := g.breakers.Get(deploymentID)
	if success {
		breaker.RecordSuccess(ctx)
	} else {
		breaker.RecordFailure(ctx)
	}
	metrics.SetCircuitBreakerState(deploymentID, int(breaker.State(ctx)))
}

func (g *Gateway) checkBudget(ctx context.Context, key *domain.VirtualKey) error {
	if g.budget == nil || key == nil {
		return nil
	}
	exceeded, err := g.budget.IsBudgetExceeded(ctx, key)
	if err != nil {
		slog.Warn("budget lookup failed, allowing request", "error", err, "key_id", key.ID)
		return nil
	}
	if exceeded {
		return fmt.Errorf("%w: key %s", domain.ErrBudgetExceeded, key.ID)
	}
	return nil
}

func (g *Gateway) notifyCapacityExhausted(ctx context.Context, modelGroup string) {
	if g.notifier == nil {
		return
	}
	err := g.notifier.Send(ctx, notifications.Notification{
		Type:       notifications.NotificationCapacityExhausted,
		ModelGroup: modelGroup,
		Message:    fmt.Sprintf("all deployments in group %s are over their rate limits", modelGroup),
	})
	if err != nil {
		slog.Warn("failed to send capacity notification", "error", err, "model_group", modelGroup)
	}
}

// Models aggregates the model lists of every configured adapter.
func (g *Gateway) Models(ctx context.Context) ([]domain.Model, error) {
	seen := make(map[string]bool)
	var all []domain.Model

	for id, adapter := range g.adapters {
		models, err := adapter.Models(ctx)
		if err != nil {
			slog.Warn("failed to list models", "deployment_id", id, "error", err)
			continue
		}
		for _, m := range models {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			all = append(all, m)
		}
	}

	return all, nil
}

// HealthStates checks every adapter and reports per-deployment status.
func (g *Gateway) HealthStates(ctx context.Context) map[string]string {
	states := make(map[string]string)
	for id, adapter := range g.adapters {
		if err := adapter.HealthCheck(ctx); err != nil {
			states[id] = "unhealthy"
		} else {
			states[id] = "ok"
		}
	}
	return states
}

// BreakerStates reports the circuit breaker state per deployment.
func (g *Gateway) BreakerStates() map[string]string {
	return g.breakers.States()
}

func removeDeployment(deployments []domain.Deployment, id string) []domain.Deployment {
	out := deployments[:0]
	for _, d := range deployments {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}
