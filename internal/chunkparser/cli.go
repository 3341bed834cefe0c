package chunkparser

import (
	"encoding/json"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/google/uuid"
)

// CLIParser parses stream-json lines from a local CLI subprocess. Records are
// discriminated by a top-level "type" field:
//
//   - "assistant": carries message content blocks and optionally a
//     stop_reason. Text blocks emit content deltas. Thinking blocks emit a
//     role-only delta with no content; reasoning traces are not surfaced as
//     output text. A non-null stop_reason emits one trailing
//     terminal chunk after the content deltas from the same record.
//   - "result": final cost metadata only, never emits a chunk. The reported
//     cost is retained for the orchestrator to attach after stream end.
//   - anything else: skipped.
type CLIParser struct {
	model string
	id    string

	costUSD   float64
	costKnown bool
}

func NewCLIParser(model string) *CLIParser {
	return &CLIParser{
		model: model,
		id:    "chatcmpl-" + uuid.New().String(),
	}
}

type cliRecord struct {
	Type         string      `json:"type"`
	Message      *cliMessage `json:"message"`
	TotalCostUSD *float64    `json:"total_cost_usd"`
}

type cliMessage struct {
	Content    []cliContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      *cliUsage         `json:"usage"`
}

type cliContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking"`
}

type cliUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (p *CLIParser) Parse(fragment []byte) []domain.StreamChunk {
	var record cliRecord
	if err := json.Unmarshal(fragment, &record); err != nil {
		return nil
	}

	switch record.Type {
	case "assistant":
		return p.parseAssistant(record)
	case "result":
		if record.TotalCostUSD != nil {
			p.costUSD = *record.TotalCostUSD
			p.costKnown = true
		}
		return nil
	default:
		return nil
	}
}

func (p *CLIParser) parseAssistant(record cliRecord) []domain.StreamChunk {
	if record.Message == nil {
		return nil
	}

	var chunks []domain.StreamChunk

	for _, block := range record.Message.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			chunks = append(chunks, p.chunk(&domain.Delta{
				Role:    "assistant",
				Content: block.Text,
			}, "", nil))
		case "thinking":
			// Thinking text is intentionally suppressed; only the role is
			// carried so consumers see an assistant turn in progress.
			chunks = append(chunks, p.chunk(&domain.Delta{
				Role: "assistant",
			}, "", nil))
		}
	}

	if record.Message.StopReason != "" {
		var usage *domain.Usage
		if u := record.Message.Usage; u != nil {
			usage = &domain.Usage{
				PromptTokens:     u.InputTokens,
				CompletionTokens: u.OutputTokens,
				TotalTokens:      u.InputTokens + u.OutputTokens,
			}
		}
		chunks = append(chunks, p.chunk(&domain.Delta{}, mapStopReason(record.Message.StopReason), usage))
	}

	return chunks
}

func (p *CLIParser) chunk(delta *domain.Delta, finishReason string, usage *domain.Usage) domain.StreamChunk {
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

// TotalCostUSD reports the cost carried by the stream's "result" record, if
// one was seen.
func (p *CLIParser) TotalCostUSD() (float64, bool) {
	return p.costUSD, p.costKnown
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
