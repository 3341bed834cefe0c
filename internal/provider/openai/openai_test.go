package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felipepmaragno/ai-router/internal/chunkparser"
	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/felipepmaragno/ai-router/internal/stream"
)

func TestProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %s", got)
		}

		var req domain.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("non-streaming call must not set stream")
		}

		json.NewEncoder(w).Encode(domain.ChatResponse{
			ID:    "chatcmpl-1",
			Model: req.Model,
			Choices: []domain.Choice{
				{Index: 0, Message: &domain.Message{Role: "assistant", Content: "hi"}, FinishReason: "stop"},
			},
			Usage: domain.Usage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6},
		})
	}))
	defer server.Close()

	p := New("sk-test", server.URL)
	resp, err := p.Complete(context.Background(), domain.ChatRequest{
		Model:    "gpt-4",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content != "hi" {
		t.Errorf("unexpected content: %q", resp.Choices[0].Message.Content)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestProvider_CompleteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := New("sk-test", server.URL)
	_, err := p.Complete(context.Background(), domain.ChatRequest{Model: "gpt-4"})
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
}

func TestProvider_CompleteStream_SSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("unexpected accept header: %s", got)
		}

		var req struct {
			Stream        bool `json:"stream"`
			StreamOptions *struct {
				IncludeUsage bool `json:"include_usage"`
			} `json:"stream_options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("streaming call must set stream")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("expected include_usage in stream_options")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"he\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"llo\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":2,\"total_tokens\":4}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := New("sk-test", server.URL)
	s, err := p.CompleteStream(context.Background(), domain.ChatRequest{
		Model:    "gpt-4",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	resp, err := stream.Collect(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content != "hello" {
		t.Errorf("unexpected content: %q", resp.Choices[0].Message.Content)
	}
	if resp.Usage.TotalTokens != 4 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestProvider_CompleteStream_NDJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/x-ndjson" {
			t.Errorf("unexpected accept header: %s", got)
		}
		io.Copy(io.Discard, r.Body)

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"id":"c1","choices":[{"index":0,"delta":{"content":"hey"}}]}`)
		fmt.Fprintln(w, `{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	p := New("sk-test", server.URL, WithFormat(chunkparser.FormatNDJSON))
	s, err := p.CompleteStream(context.Background(), domain.ChatRequest{Model: "llama3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	resp, err := stream.Collect(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Content != "hey" {
		t.Errorf("unexpected content: %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %q", resp.Choices[0].FinishReason)
	}
}

func TestProvider_CompleteStream_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	p := New("sk-test", server.URL)
	_, err := p.CompleteStream(context.Background(), domain.ChatRequest{Model: "gpt-4"})
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
}

func TestProvider_Models(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(domain.ModelsResponse{
			Object: "list",
			Data:   []domain.Model{{ID: "gpt-4", Object: "model"}},
		})
	}))
	defer server.Close()

	p := New("sk-test", server.URL)
	models, err := p.Models(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 1 || models[0].Provider != "openai" {
		t.Errorf("unexpected models: %+v", models)
	}
}

func TestProvider_HealthCheck(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer server.Close()

	p := New("sk-test", server.URL)
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	healthy = false
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unhealthy backend")
	}
}
