// Package chunkparser translates raw provider stream fragments into
// normalized StreamChunk records.
//
// Parsers are pure per fragment: one fragment in, zero or more chunks out.
// Fragments that fail to parse are skipped, never fatal; transports can
// legitimately deliver partial lines at buffer boundaries. Transport-level
// failures are handled one layer up, in the stream package.
package chunkparser

import (
	"fmt"

	"github.com/felipepmaragno/ai-router/internal/domain"
)

// Format identifies the wire framing a provider adapter speaks. It is decided
// once at adapter construction, not per fragment.
type Format string

const (
	// FormatJSONLine parses fragments as OpenAI-compatible chunk JSON. Used
	// for SSE payloads and newline-delimited JSON streams alike, since both
	// yield one JSON object per fragment once framing is stripped.
	FormatJSONLine Format = "json-line"

	// FormatNDJSON is newline-delimited JSON framing (Ollama-style HTTP
	// bodies). Each line parses as JSON-line.
	FormatNDJSON Format = "ndjson"

	// FormatEventStream is AWS binary event-stream framing. The framing layer
	// yields complete payload byte-strings which parse as JSON-line.
	FormatEventStream Format = "event-stream"

	// FormatCLI parses stream-json lines from a local CLI subprocess.
	FormatCLI Format = "cli"
)

// Parser turns one raw fragment into zero or more normalized chunks.
// Implementations never return an error: a malformed fragment yields no
// chunks and the stream continues.
type Parser interface {
	Parse(fragment []byte) []domain.StreamChunk
}

// New returns the parser variant for the given format. The event-stream
// format shares the JSON-line parser because its framing layer already
// delivers complete JSON payloads.
func New(format Format, model string) (Parser, error) {
	switch format {
	case FormatJSONLine, FormatNDJSON, FormatEventStream:
		return NewJSONLineParser(model), nil
	case FormatCLI:
		return NewCLIParser(model), nil
	default:
		return nil, fmt.Errorf("unknown stream format %q", format)
	}
}
