package domain

import "errors"

var (
	ErrKeyNotFound            = errors.New("virtual key not found")
	ErrInvalidAPIKey          = errors.New("invalid API key")
	ErrModelGroupNotFound     = errors.New("model group not found")
	ErrNoDeploymentsAvailable = errors.New("no deployments available")
	ErrDeploymentNotFound     = errors.New("deployment not found")
	ErrProviderError          = errors.New("provider error")
	ErrProviderNotFound       = errors.New("provider executable not found")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrBudgetExceeded         = errors.New("budget exceeded")
	ErrCircuitBreakerOpen     = errors.New("circuit breaker open")
	ErrStreamTimeout          = errors.New("stream read timed out")
)
