package bedrock

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
)

// eventParser maps anthropic-on-bedrock stream events to normalized chunks.
// Token counts are spread across the stream (message_start carries input
// tokens, message_delta carries output tokens and the stop reason), so the
// parser accumulates them and emits usage on the terminal chunk.
type eventParser struct {
	model        string
	id           string
	inputTokens  int
	outputTokens int
}

func newEventParser(model string) *eventParser {
	return &eventParser{
		model: model,
		id:    fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
	}
}

type bedrockEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string        `json:"id"`
		Usage *bedrockUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *bedrockUsage `json:"usage"`
}

func (p *eventParser) Parse(fragment []byte) []domain.StreamChunk {
	var event bedrockEvent
	if err := json.Unmarshal(fragment, &event); err != nil {
		return nil
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil {
			if event.Message.ID != "" {
				p.id = event.Message.ID
			}
			if event.Message.Usage != nil {
				p.inputTokens = event.Message.Usage.InputTokens
			}
		}
		return []domain.StreamChunk{p.chunk(&domain.Delta{Role: "assistant"}, "", nil)}

	case "content_block_delta":
		if event.Delta == nil || event.Delta.Text == "" {
			return nil
		}
		return []domain.StreamChunk{p.chunk(&domain.Delta{Content: event.Delta.Text}, "", nil)}

	case "message_delta":
		if event.Usage != nil {
			p.outputTokens = event.Usage.OutputTokens
		}
		if event.Delta == nil || event.Delta.StopReason == "" {
			return nil
		}
		usage := &domain.Usage{
			PromptTokens:     p.inputTokens,
			CompletionTokens: p.outputTokens,
			TotalTokens:      p.inputTokens + p.outputTokens,
		}
		return []domain.StreamChunk{p.chunk(&domain.Delta{}, mapStopReason(event.Delta.StopReason), usage)}

	default:
		// content_block_start/stop, ping, message_stop: no user-visible delta.
		return nil
	}
}

func (p *eventParser) chunk(delta *domain.Delta, finishReason string, usage *domain.Usage) domain.StreamChunk {
	return domain.StreamChunk{
		ID:      p.id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   p.model,
		Choices: []domain.Choice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
		Usage: usage,
	}
}
