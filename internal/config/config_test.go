package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "deployments.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr)
	}
	if cfg.DeploymentsFile != "deployments.json" {
		t.Errorf("expected deployments.json, got %s", cfg.DeploymentsFile)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected 5m cache TTL, got %s", cfg.CacheTTL)
	}
	if cfg.CounterTTL != time.Hour {
		t.Errorf("expected 1h counter TTL, got %s", cfg.CounterTTL)
	}
	if cfg.StreamTimeout != 60*time.Second {
		t.Errorf("expected 60s stream timeout, got %s", cfg.StreamTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("STREAM_TIMEOUT", "120")
	t.Setenv("USE_DISTRIBUTED_CB", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Addr)
	}
	if cfg.StreamTimeout != 120*time.Second {
		t.Errorf("expected 120s, got %s", cfg.StreamTimeout)
	}
	if !cfg.UseDistributedCircuitBreaker {
		t.Error("expected distributed circuit breaker enabled")
	}
}

func TestLoadDeployments(t *testing.T) {
	path := writeFile(t, `[
		{"id": "1234", "model_group": "gpt-3.5-turbo", "model": "gpt-3.5-turbo-0125", "provider": "openai", "api_key": "sk-a", "tpm_limit": 100000},
		{"id": "5678", "model_group": "gpt-3.5-turbo", "model": "gpt-3.5-turbo-0125", "provider": "openai", "api_key": "sk-b", "rpm_limit": 60}
	]`)

	deployments, err := LoadDeployments(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deployments) != 2 {
		t.Fatalf("expected 2 deployments, got %d", len(deployments))
	}
	if deployments[0].ID != "1234" || deployments[0].ModelGroup != "gpt-3.5-turbo" {
		t.Errorf("unexpected deployment: %+v", deployments[0])
	}
	if deployments[0].TPMLimit == nil || *deployments[0].TPMLimit != 100000 {
		t.Errorf("expected tpm_limit 100000, got %v", deployments[0].TPMLimit)
	}
	if deployments[0].RPMLimit != nil {
		t.Errorf("expected nil rpm_limit, got %v", deployments[0].RPMLimit)
	}
}

func TestLoadDeployments_MissingRequiredField(t *testing.T) {
	path := writeFile(t, `[{"id": "1234", "model_group": "gpt-4"}]`)

	_, err := LoadDeployments(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadDeployments_DuplicateID(t *testing.T) {
	path := writeFile(t, `[
		{"id": "1234", "model_group": "g", "model": "m", "provider": "openai"},
		{"id": "1234", "model_group": "g", "model": "m", "provider": "openai"}
	]`)

	_, err := LoadDeployments(path)
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadDeployments_InvalidJSON(t *testing.T) {
	path := writeFile(t, `{not json`)

	if _, err := LoadDeployments(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDeployments_FileNotFound(t *testing.T) {
	if _, err := LoadDeployments("/nonexistent/deployments.json"); err == nil {
		t.Fatal("expected read error")
	}
}

func TestLoadKeys(t *testing.T) {
	path := writeFile(t, `[
		{"name": "team-a", "key": "sk-gw-aaa", "budget_usd": 100},
		{"name": "team-b", "key": "sk-gw-bbb"}
	]`)

	keys, err := LoadKeys(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0].Name != "team-a" || keys[0].BudgetUSD != 100 {
		t.Errorf("unexpected key: %+v", keys[0])
	}
	if keys[1].BudgetUSD != 0 {
		t.Errorf("expected zero budget, got %f", keys[1].BudgetUSD)
	}
}
