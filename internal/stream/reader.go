// Package stream owns the live consumption loop over a provider transport.
// It reads raw fragments one at a time, runs them through a chunk parser,
// and exposes the result as a pull-based, single-pass sequence of chunks.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// FragmentReader yields one raw, transport-native fragment per call. Next
// returns io.EOF on a clean end of stream; any other error is fatal to the
// stream. Close must be safe to call more than once and on every exit path.
type FragmentReader interface {
	Next() ([]byte, error)
	Close() error
}

// SSEReader reads server-sent events and yields the payload after each
// "data: " prefix. The "[DONE]" sentinel terminates the stream cleanly.
// Non-data lines (event names, comments, keep-alive blanks) are skipped.
type SSEReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func NewSSEReader(body io.ReadCloser) *SSEReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEReader{
		body:    body,
		scanner: scanner,
	}
}

func (r *SSEReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil, io.EOF
		}

		return []byte(data), nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *SSEReader) Close() error {
	return r.body.Close()
}

// LineReader reads newline-delimited fragments, one line each. Used for
// NDJSON HTTP bodies and subprocess stdout pipes. Blank lines are skipped.
// An optional closer runs after the underlying reader is exhausted or
// abandoned; the subprocess adapter uses it to reap the child process.
type LineReader struct {
	scanner *bufio.Scanner
	closer  func() error
}

func NewLineReader(r io.Reader, closer func() error) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LineReader{
		scanner: scanner,
		closer:  closer,
	}
}

func (r *LineReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		fragment := make([]byte, len(line))
		copy(fragment, line)
		return fragment, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *LineReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
