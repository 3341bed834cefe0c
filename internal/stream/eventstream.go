package stream

import (
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// EventStreamReader demultiplexes the AWS binary event-stream framing
// (application/vnd.amazon.eventstream) and yields each event's payload as
// one fragment. The decoder accumulates bytes across reads until a complete
// frame is available, so partial frames at network-read boundaries are
// buffered rather than discarded.
type EventStreamReader struct {
	body       io.ReadCloser
	decoder    *eventstream.Decoder
	payloadBuf []byte
}

func NewEventStreamReader(body io.ReadCloser) *EventStreamReader {
	return &EventStreamReader{
		body:       body,
		decoder:    eventstream.NewDecoder(),
		payloadBuf: make([]byte, 0, 4096),
	}
}

func (r *EventStreamReader) Next() ([]byte, error) {
	for {
		msg, err := r.decoder.Decode(r.body, r.payloadBuf)
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("decode event-stream frame: %w", err)
		}

		switch messageType(msg) {
		case "event":
			if len(msg.Payload) == 0 {
				continue
			}
			fragment := make([]byte, len(msg.Payload))
			copy(fragment, msg.Payload)
			return fragment, nil
		case "exception", "error":
			return nil, fmt.Errorf("event-stream %s: %s: %s",
				messageType(msg), exceptionType(msg), string(msg.Payload))
		default:
			// Unknown frame kinds (pings, future extensions) are skipped.
			continue
		}
	}
}

func (r *EventStreamReader) Close() error {
	return r.body.Close()
}

func messageType(msg eventstream.Message) string {
	return headerString(msg, ":message-type")
}

func exceptionType(msg eventstream.Message) string {
	if v := headerString(msg, ":exception-type"); v != "" {
		return v
	}
	return headerString(msg, ":error-code")
}

func headerString(msg eventstream.Message, name string) string {
	v := msg.Headers.Get(name)
	if v == nil {
		return ""
	}
	if sv, ok := v.(eventstream.StringValue); ok {
		return string(sv)
	}
	return ""
}
