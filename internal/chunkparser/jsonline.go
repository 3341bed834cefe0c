package chunkparser

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
)

// JSONLineParser parses OpenAI-compatible streaming chunks. One fragment is
// one JSON object, already separated from its transport framing (the text
// after an SSE "data: " prefix, one line of an NDJSON stream, or one decoded
// event-stream payload).
type JSONLineParser struct {
	model string
	id    string
}

func NewJSONLineParser(model string) *JSONLineParser {
	return &JSONLineParser{
		model: model,
		id:    fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
	}
}

func (p *JSONLineParser) Parse(fragment []byte) []domain.StreamChunk {
	var chunk domain.StreamChunk
	if err := json.Unmarshal(fragment, &chunk); err != nil {
		// Partial or malformed line, skip and continue.
		return nil
	}

	if len(chunk.Choices) == 0 && chunk.Usage == nil {
		// Pure heartbeat or keep-alive record.
		return nil
	}

	// Some providers omit envelope fields on chunks; keep the ID stable for
	// the whole logical response.
	if chunk.ID == "" {
		chunk.ID = p.id
	} else {
		p.id = chunk.ID
	}
	if chunk.Model == "" {
		chunk.Model = p.model
	}
	if chunk.Object == "" {
		chunk.Object = "chat.completion.chunk"
	}
	if chunk.Created == 0 {
		chunk.Created = time.Now().Unix()
	}

	return []domain.StreamChunk{chunk}
}
