package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/ai-router/internal/api"
	"github.com/felipepmaragno/ai-router/internal/budget"
	"github.com/felipepmaragno/ai-router/internal/cache"
	"github.com/felipepmaragno/ai-router/internal/chunkparser"
	"github.com/felipepmaragno/ai-router/internal/circuitbreaker"
	"github.com/felipepmaragno/ai-router/internal/config"
	"github.com/felipepmaragno/ai-router/internal/cost"
	"github.com/felipepmaragno/ai-router/internal/counter"
	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/felipepmaragno/ai-router/internal/gateway"
	"github.com/felipepmaragno/ai-router/internal/keys"
	"github.com/felipepmaragno/ai-router/internal/notifications"
	"github.com/felipepmaragno/ai-router/internal/provider/bedrock"
	"github.com/felipepmaragno/ai-router/internal/provider/claudecli"
	"github.com/felipepmaragno/ai-router/internal/provider/openai"
	"github.com/felipepmaragno/ai-router/internal/queue"
	"github.com/felipepmaragno/ai-router/internal/router"
	"github.com/felipepmaragno/ai-router/internal/secrets"
	"github.com/felipepmaragno/ai-router/internal/spend"
	"github.com/felipepmaragno/ai-router/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting AI Router", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "ai-router", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	var store counter.Store
	if cfg.RedisURL != "" {
		redisStore, err := counter.NewRedisStore(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		store = redisStore
		slog.Info("using redis usage counters", "url", cfg.RedisURL)
	} else {
		store = counter.NewInMemoryStore()
		slog.Info("using in-memory usage counters")
	}

	usageRouter := router.New(store, router.WithCounterTTL(cfg.CounterTTL))

	breakerOpts := []circuitbreaker.ManagerOption{}
	if cfg.UseDistributedCircuitBreaker && cfg.RedisURL != "" {
		breakerOpts = append(breakerOpts, circuitbreaker.WithRedis(cfg.RedisURL))
		slog.Info("using distributed circuit breakers")
	}
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), breakerOpts...)

	var secretStore secrets.SecretStore
	if cfg.AWSRegion != "" {
		secretStore, err = secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to initialize secrets manager", "error", err)
			os.Exit(1)
		}
	}

	deploymentConfigs, err := config.LoadDeployments(cfg.DeploymentsFile)
	if err != nil {
		slog.Error("failed to load deployments", "error", err)
		os.Exit(1)
	}

	deployments, adapters, err := buildDeployments(ctx, cfg, deploymentConfigs, secretStore)
	if err != nil {
		slog.Error("failed to build deployments", "error", err)
		os.Exit(1)
	}
	if len(deployments) == 0 {
		slog.Error("no deployments configured")
		os.Exit(1)
	}

	keyRepo := keys.NewInMemoryRepository()
	if cfg.KeysFile != "" {
		keyConfigs, err := config.LoadKeys(cfg.KeysFile)
		if err != nil {
			slog.Error("failed to load keys", "error", err)
			os.Exit(1)
		}
		for _, kc := range keyConfigs {
			if _, err := keyRepo.Seed(ctx, kc.Name, kc.Key, kc.BudgetUSD); err != nil {
				slog.Error("failed to seed key", "name", kc.Name, "error", err)
				os.Exit(1)
			}
			slog.Info("seeded virtual key", "name", kc.Name)
		}
	}

	var responseCache cache.Cache
	if cfg.RedisURL != "" {
		responseCache, err = cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
			responseCache = cache.NewInMemoryCache()
		} else {
			slog.Info("using redis cache")
		}
	} else {
		responseCache = cache.NewInMemoryCache()
		slog.Info("using in-memory cache")
	}

	var notifier notifications.Notifier
	if cfg.AWSRegion != "" && cfg.SNSTopicArn != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Error("failed to initialize SNS notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("using SNS notifications", "topic", cfg.SNSTopicArn)
	} else {
		notifier = notifications.NewInMemoryNotifier()
	}

	tracker := cost.NewInMemoryTracker()
	calculator := cost.NewCalculator()

	var dedup budget.AlertDeduplicator
	if cfg.RedisURL != "" {
		redisDedup, err := budget.NewRedisDeduplicator(cfg.RedisURL, time.Hour)
		if err != nil {
			slog.Warn("failed to connect to redis for alert dedup, using in-memory", "error", err)
			dedup = budget.NewInMemoryDeduplicator()
		} else {
			dedup = redisDedup
		}
	} else {
		dedup = budget.NewInMemoryDeduplicator()
	}

	budgetMonitor := budget.NewMonitor(tracker, budget.DefaultThresholds())
	budgetMonitor.OnAlert(budget.LogAlertHandler)
	budgetMonitor.OnAlert(func(alert budget.Alert) {
		if !dedup.ShouldAlert(context.Background(), alert.KeyID, alert.Level) {
			return
		}
		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer notifyCancel()
		notifier.Send(notifyCtx, notifications.Notification{
			Type:  budgetNotificationType(alert.Level),
			KeyID: alert.KeyID,
			Message: fmt.Sprintf("budget at %.1f%% (%.2f of %.2f USD)",
				alert.Percentage, alert.CurrentUse, alert.Budget),
		})
	})

	var spendSink spend.Sink
	if cfg.DatabaseURL != "" {
		pgSink, err := spend.NewPostgresSink(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgSink.Close()
		spendSink = pgSink
		slog.Info("using postgres spend sink")
	} else {
		spendSink = spend.NewLogSink()
		slog.Info("using log spend sink")
	}

	gw := gateway.New(gateway.Config{
		Deployments: deployments,
		Adapters:    adapters,
		Router:      usageRouter,
		Breakers:    breakers,
		Calculator:  calculator,
		Tracker:     tracker,
		SpendSink:   spendSink,
		Notifier:    notifier,
		Budget:      budgetMonitor,
		Cache:       responseCache,
		CacheTTL:    cfg.CacheTTL,
	})

	var asyncQueue queue.Queue
	if cfg.SQSRequestURL != "" && cfg.SQSResponseURL != "" {
		asyncQueue, err = queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSRequestURL, cfg.SQSResponseURL)
		if err != nil {
			slog.Error("failed to initialize SQS queue", "error", err)
			os.Exit(1)
		}
		slog.Info("using SQS async queue")

		worker := gateway.NewWorker(gw, asyncQueue, keyRepo)
		go worker.Run(ctx)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Gateway: gw,
		Keys:    keyRepo,
		Queue:   asyncQueue,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func buildDeployments(ctx context.Context, cfg *config.Config, configs []config.DeploymentConfig, secretStore secrets.SecretStore) ([]domain.Deployment, map[string]gateway.Adapter, error) {
	deployments := make([]domain.Deployment, 0, len(configs))
	adapters := make(map[string]gateway.Adapter, len(configs))

	for _, dc := range configs {
		adapter, err := buildAdapter(ctx, cfg, dc, secretStore)
		if err != nil {
			return nil, nil, fmt.Errorf("deployment %s: %w", dc.ID, err)
		}

		deployments = append(deployments, domain.Deployment{
			ID:         dc.ID,
			ModelGroup: dc.ModelGroup,
			Model:      dc.Model,
			TPMLimit:   dc.TPMLimit,
			RPMLimit:   dc.RPMLimit,
		})
		adapters[dc.ID] = adapter

		slog.Info("registered deployment",
			"deployment_id", dc.ID,
			"model_group", dc.ModelGroup,
			"model", dc.Model,
			"provider", dc.Provider,
		)
	}

	return deployments, adapters, nil
}

func buildAdapter(ctx context.Context, cfg *config.Config, dc config.DeploymentConfig, secretStore secrets.SecretStore) (gateway.Adapter, error) {
	switch dc.Provider {
	case "openai":
		apiKey, err := secrets.Resolve(ctx, secretStore, dc.APIKey)
		if err != nil {
			return nil, fmt.Errorf("resolve api key: %w", err)
		}
		baseURL := dc.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		opts := []openai.Option{
			openai.WithReadTimeout(cfg.StreamTimeout),
			openai.WithFormat(parseFormat(dc.Format)),
		}
		return openai.New(apiKey, baseURL, opts...), nil

	case "bedrock":
		region := dc.Region
		if region == "" {
			region = cfg.AWSRegion
		}
		return bedrock.New(ctx, region)

	case "claude-cli":
		return claudecli.New(claudecli.WithReadTimeout(cfg.StreamTimeout)), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", dc.Provider)
	}
}

func parseFormat(format string) chunkparser.Format {
	switch format {
	case "ndjson":
		return chunkparser.FormatNDJSON
	case "event-stream":
		return chunkparser.FormatEventStream
	default:
		return chunkparser.FormatJSONLine
	}
}

func budgetNotificationType(level budget.AlertLevel) notifications.NotificationType {
	switch level {
	case budget.AlertLevelExceeded:
		return notifications.NotificationBudgetExceeded
	case budget.AlertLevelCritical:
		return notifications.NotificationBudgetCritical
	default:
		return notifications.NotificationBudgetWarning
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
