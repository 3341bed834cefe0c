// Package openai implements the generic OpenAI-compatible HTTP provider
// adapter. The streaming wire framing is configurable at construction:
// SSE (OpenAI, Anthropic-compatible gateways), newline-delimited JSON
// (Ollama-style backends), or AWS binary event-stream (SageMaker-style
// endpoints behind an auth proxy).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/felipepmaragno/ai-router/internal/chunkparser"
	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/felipepmaragno/ai-router/internal/httputil"
	"github.com/felipepmaragno/ai-router/internal/stream"
)

type Provider struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	format      chunkparser.Format
	readTimeout time.Duration
}

type Option func(*Provider)

// WithFormat selects the streaming wire framing. Defaults to SSE.
func WithFormat(format chunkparser.Format) Option {
	return func(p *Provider) {
		p.format = format
	}
}

// WithClient replaces the HTTP client, e.g. in tests.
func WithClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// WithReadTimeout bounds the wait for each streamed fragment.
func WithReadTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.readTimeout = d
	}
}

func New(apiKey, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		baseURL:     baseURL,
		client:      httputil.DefaultClient(),
		format:      chunkparser.FormatJSONLine,
		readTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() string {
	return "openai"
}

// streamRequest adds the streaming envelope fields the chat request itself
// does not carry. include_usage makes OpenAI-compatible backends emit the
// usage block on the terminal chunk.
type streamRequest struct {
	domain.ChatRequest
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (p *Provider) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.post(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp)
	}

	var chatResp domain.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &chatResp, nil
}

func (p *Provider) CompleteStream(ctx context.Context, req domain.ChatRequest) (*stream.Stream, error) {
	req.Stream = true
	body, err := json.Marshal(streamRequest{
		ChatRequest:   req,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.post(ctx, body, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := p.statusError(resp)
		resp.Body.Close()
		return nil, err
	}

	parser, err := chunkparser.New(p.format, req.Model)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	return stream.New(p.reader(resp.Body), parser, stream.WithReadTimeout(p.readTimeout)), nil
}

func (p *Provider) reader(body io.ReadCloser) stream.FragmentReader {
	switch p.format {
	case chunkparser.FormatEventStream:
		return stream.NewEventStreamReader(body)
	case chunkparser.FormatNDJSON:
		return stream.NewLineReader(body, body.Close)
	default:
		return stream.NewSSEReader(body)
	}
}

func (p *Provider) post(ctx context.Context, body []byte, streaming bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if streaming {
		switch p.format {
		case chunkparser.FormatEventStream:
			httpReq.Header.Set("Accept", "application/vnd.amazon.eventstream")
		case chunkparser.FormatNDJSON:
			httpReq.Header.Set("Accept", "application/x-ndjson")
		default:
			httpReq.Header.Set("Accept", "text/event-stream")
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

func (p *Provider) statusError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%w: status=%d body=%s", domain.ErrProviderError, resp.StatusCode, string(bodyBytes))
}

func (p *Provider) Models(ctx context.Context) ([]domain.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrProviderError, resp.StatusCode)
	}

	var modelsResp domain.ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	for i := range modelsResp.Data {
		modelsResp.Data[i].Provider = "openai"
	}

	return modelsResp.Data, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai unhealthy: status=%d", resp.StatusCode)
	}

	return nil
}
