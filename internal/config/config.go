package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr            string
	LogLevel        string
	RedisURL        string
	DatabaseURL     string
	DeploymentsFile string
	KeysFile        string
	OTLPEndpoint    string
	AWSRegion       string
	SNSTopicArn     string
	SQSRequestURL   string
	SQSResponseURL  string
	CacheTTL        time.Duration
	CounterTTL      time.Duration
	StreamTimeout   time.Duration

	// Horizontal scaling features
	UseDistributedCircuitBreaker bool

	// Graceful shutdown
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                         getEnv("ADDR", ":8080"),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		RedisURL:                     getEnv("REDIS_URL", ""),
		DatabaseURL:                  getEnv("DATABASE_URL", ""),
		DeploymentsFile:              getEnv("DEPLOYMENTS_FILE", "deployments.json"),
		KeysFile:                     getEnv("KEYS_FILE", ""),
		OTLPEndpoint:                 getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:                    getEnv("AWS_REGION", ""),
		SNSTopicArn:                  getEnv("SNS_TOPIC_ARN", ""),
		SQSRequestURL:                getEnv("SQS_REQUEST_QUEUE_URL", ""),
		SQSResponseURL:               getEnv("SQS_RESPONSE_QUEUE_URL", ""),
		CacheTTL:                     getDurationEnv("CACHE_TTL", 5*time.Minute),
		CounterTTL:                   getDurationEnv("COUNTER_TTL", time.Hour),
		StreamTimeout:                getDurationEnv("STREAM_TIMEOUT", 60*time.Second),
		UseDistributedCircuitBreaker: getEnv("USE_DISTRIBUTED_CB", "false") == "true",
		ShutdownTimeout:              getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:                 getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
	}

	return cfg, nil
}

// DeploymentConfig declares one routable backend within a model group.
// APIKey values may be plain strings or "secretsmanager:name" references.
type DeploymentConfig struct {
	ID         string `json:"id"`
	ModelGroup string `json:"model_group"`
	Model      string `json:"model"`
	Provider   string `json:"provider"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	Format     string `json:"format,omitempty"`
	Region     string `json:"region,omitempty"`
	TPMLimit   *int64 `json:"tpm_limit,omitempty"`
	RPMLimit   *int64 `json:"rpm_limit,omitempty"`
}

// KeyConfig seeds a virtual key at startup.
type KeyConfig struct {
	Name      string  `json:"name"`
	Key       string  `json:"key"`
	BudgetUSD float64 `json:"budget_usd,omitempty"`
}

func LoadDeployments(path string) ([]DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployments file: %w", err)
	}

	var deployments []DeploymentConfig
	if err := json.Unmarshal(data, &deployments); err != nil {
		return nil, fmt.Errorf("parse deployments file: %w", err)
	}

	seen := make(map[string]bool)
	for _, d := range deployments {
		if d.ID == "" || d.ModelGroup == "" || d.Model == "" || d.Provider == "" {
			return nil, fmt.Errorf("deployment %q: id, model_group, model and provider are required", d.ID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate deployment id %q", d.ID)
		}
		seen[d.ID] = true
	}

	return deployments, nil
}

func LoadKeys(path string) ([]KeyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}

	var keys []KeyConfig
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}

	return keys, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
