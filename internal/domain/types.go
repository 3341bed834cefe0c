package domain

import "time"

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the fully folded, non-streaming view of a completed call,
// in the OpenAI-compatible shape all providers are normalized to.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Gateway *Gateway `json:"x_gateway,omitempty"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Delta   `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Gateway carries routing metadata attached by the orchestrator after the
// provider call completes.
type Gateway struct {
	DeploymentID string  `json:"deployment_id"`
	ModelGroup   string  `json:"model_group,omitempty"`
	LatencyMs    int64   `json:"latency_ms"`
	CostUSD      float64 `json:"cost_usd"`
	CacheHit     bool    `json:"cache_hit"`
	RequestID    string  `json:"request_id"`
	TraceID      string  `json:"trace_id,omitempty"`
}

// StreamChunk is one incremental unit of a streamed response. All chunks of
// one logical response share an ID; choice indices are stable across the
// stream. Usage is populated only on the terminal chunk for most providers.
type StreamChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Deployment describes one candidate backend target within a model group.
// Nil limits mean unbounded. Descriptors are read-only snapshots to the
// router; they are built once at configuration load.
type Deployment struct {
	ID         string `json:"id"`
	ModelGroup string `json:"model_group"`
	Model      string `json:"model"`
	TPMLimit   *int64 `json:"tpm_limit,omitempty"`
	RPMLimit   *int64 `json:"rpm_limit,omitempty"`
}

type Model struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	OwnedBy  string `json:"owned_by"`
	Provider string `json:"provider,omitempty"`
}

type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// VirtualKey is a gateway-issued API key. The raw key is bcrypt-hashed at
// creation and never stored.
type VirtualKey struct {
	ID        string
	Name      string
	KeyHash   string
	BudgetUSD float64
	CreatedAt time.Time
	UpdatedAt time.Time
}
