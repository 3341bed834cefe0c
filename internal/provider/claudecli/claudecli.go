// Package claudecli implements a provider adapter that shells out to a
// locally installed Claude CLI instead of calling an HTTP API. The CLI
// writes one JSON record per line to stdout (stream-json format); those
// lines are the stream fragments.
package claudecli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/felipepmaragno/ai-router/internal/chunkparser"
	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/felipepmaragno/ai-router/internal/stream"
)

const defaultBinary = "claude"

type Provider struct {
	binary      string
	readTimeout time.Duration
}

type Option func(*Provider)

// WithBinary overrides the CLI executable path.
func WithBinary(path string) Option {
	return func(p *Provider) {
		p.binary = path
	}
}

// WithReadTimeout bounds the wait for each stdout line.
func WithReadTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.readTimeout = d
	}
}

func New(opts ...Option) *Provider {
	p := &Provider{
		binary:      defaultBinary,
		readTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() string {
	return "claude-cli"
}

func (p *Provider) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	s, err := p.CompleteStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	resp, err := stream.Collect(ctx, s)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Provider) CompleteStream(ctx context.Context, req domain.ChatRequest) (*stream.Stream, error) {
	args := []string{
		"-p", renderPrompt(req.Messages),
		"--output-format", "stream-json",
		"--verbose",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if system := renderSystem(req.Messages); system != "" {
		args = append(args, "--append-system-prompt", system)
	}

	// CommandContext kills the subprocess when the whole-call context is
	// cancelled; caller abandonment and read timeouts go through the
	// reader's closer below.
	cmd := exec.CommandContext(ctx, p.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, p.binary)
		}
		return nil, fmt.Errorf("start %s: %w", p.binary, err)
	}

	closer := func() error {
		// Kill is a no-op if the process already exited; Wait reaps it and
		// reports a non-zero exit as the stream's terminal error.
		_ = cmd.Process.Kill()
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && stderr.Len() > 0 {
				return fmt.Errorf("%w: %s exited: %v: %s",
					domain.ErrProviderError, p.binary, err, strings.TrimSpace(stderr.String()))
			}
			return fmt.Errorf("%w: %s exited: %v", domain.ErrProviderError, p.binary, err)
		}
		return nil
	}

	parser := chunkparser.NewCLIParser(req.Model)
	reader := stream.NewLineReader(stdout, closer)

	return stream.New(reader, parser,
		stream.WithReadTimeout(p.readTimeout),
		stream.WithCostSource(parser.TotalCostUSD),
	), nil
}

func (p *Provider) Models(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{
		{ID: "claude-sonnet", Object: "model", OwnedBy: "anthropic", Provider: "claude-cli"},
		{ID: "claude-opus", Object: "model", OwnedBy: "anthropic", Provider: "claude-cli"},
		{ID: "claude-haiku", Object: "model", OwnedBy: "anthropic", Provider: "claude-cli"},
	}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrProviderNotFound, p.binary)
	}
	return nil
}

// renderPrompt flattens the conversation into one prompt string. The CLI is
// single-turn from the gateway's perspective; prior turns are replayed with
// role prefixes.
func renderPrompt(messages []domain.Message) string {
	var parts []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			continue
		case "assistant":
			parts = append(parts, "Assistant: "+m.Content)
		default:
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderSystem(messages []domain.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == "system" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}
