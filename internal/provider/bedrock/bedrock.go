// Package bedrock implements the AWS Bedrock provider adapter. Streaming
// responses arrive as binary event-stream frames; the SDK's event stream
// hands us complete payloads which are mapped onto normalized chunks.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/felipepmaragno/ai-router/internal/stream"
)

type Provider struct {
	client      *bedrockruntime.Client
	region      string
	readTimeout time.Duration
}

func New(ctx context.Context, region string) (*Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Provider{
		client:      bedrockruntime.NewFromConfig(cfg),
		region:      region,
		readTimeout: 30 * time.Second,
	}, nil
}

func NewWithConfig(cfg aws.Config) *Provider {
	return &Provider{
		client:      bedrockruntime.NewFromConfig(cfg),
		region:      cfg.Region,
		readTimeout: 30 * time.Second,
	}
}

func (p *Provider) ID() string {
	return "bedrock"
}

func (p *Provider) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	bedrockReq := toBedrockRequest(req)

	body, err := json.Marshal(bedrockReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(mapModelID(req.Model)),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}

	output, err := p.client.InvokeModel(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}

	return parseBedrockResponse(output.Body, req.Model)
}

func (p *Provider) CompleteStream(ctx context.Context, req domain.ChatRequest) (*stream.Stream, error) {
	bedrockReq := toBedrockRequest(req)

	body, err := json.Marshal(bedrockReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	input := &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(mapModelID(req.Model)),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}

	output, err := p.client.InvokeModelWithResponseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("invoke model stream: %w", err)
	}

	reader := &responseStreamReader{stream: output.GetStream()}
	parser := newEventParser(req.Model)

	return stream.New(reader, parser, stream.WithReadTimeout(p.readTimeout)), nil
}

func (p *Provider) Models(ctx context.Context) ([]domain.Model, error) {
	models := []domain.Model{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Object: "model", OwnedBy: "anthropic", Provider: "bedrock"},
		{ID: "anthropic.claude-3-5-haiku-20241022-v1:0", Object: "model", OwnedBy: "anthropic", Provider: "bedrock"},
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Object: "model", OwnedBy: "anthropic", Provider: "bedrock"},
		{ID: "amazon.titan-text-express-v1", Object: "model", OwnedBy: "amazon", Provider: "bedrock"},
		{ID: "meta.llama3-70b-instruct-v1:0", Object: "model", OwnedBy: "meta", Provider: "bedrock"},
		{ID: "meta.llama3-8b-instruct-v1:0", Object: "model", OwnedBy: "meta", Provider: "bedrock"},
	}
	return models, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	return nil
}

// responseStreamReader adapts the SDK's demultiplexed event stream to the
// FragmentReader contract. Each chunk event's payload is one fragment.
type responseStreamReader struct {
	stream *bedrockruntime.InvokeModelWithResponseStreamEventStream
}

func (r *responseStreamReader) Next() ([]byte, error) {
	for {
		event, ok := <-r.stream.Events()
		if !ok {
			if err := r.stream.Err(); err != nil {
				return nil, fmt.Errorf("stream error: %w", err)
			}
			return nil, io.EOF
		}

		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		return chunk.Value.Bytes, nil
	}
}

func (r *responseStreamReader) Close() error {
	return r.stream.Close()
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version,omitempty"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
	System           string           `json:"system,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      bedrockUsage   `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func mapModelID(model string) string {
	modelMap := map[string]string{
		"claude-3-5-sonnet": "anthropic.claude-3-5-sonnet-20241022-v2:0",
		"claude-3-5-haiku":  "anthropic.claude-3-5-haiku-20241022-v1:0",
		"claude-3-opus":     "anthropic.claude-3-opus-20240229-v1:0",
		"titan-text":        "amazon.titan-text-express-v1",
		"llama3-70b":        "meta.llama3-70b-instruct-v1:0",
		"llama3-8b":         "meta.llama3-8b-instruct-v1:0",
	}

	if mapped, ok := modelMap[model]; ok {
		return mapped
	}
	return model
}

func toBedrockRequest(req domain.ChatRequest) bedrockRequest {
	var systemPrompt string
	var messages []bedrockMessage

	for _, m := range req.Messages {
		if m.Role == "system" {
			systemPrompt = m.Content
			continue
		}
		messages = append(messages, bedrockMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	return bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         messages,
		System:           systemPrompt,
	}
}

func parseBedrockResponse(body []byte, model string) (*domain.ChatResponse, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &domain.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []domain.Choice{
			{
				Index: 0,
				Message: &domain.Message{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: mapStopReason(resp.StopReason),
			},
		},
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}
