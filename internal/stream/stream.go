package stream

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felipepmaragno/ai-router/internal/chunkparser"
	"github.com/felipepmaragno/ai-router/internal/domain"
)

// Stream is a pull-based, single-pass sequence of normalized chunks. Each
// Recv performs at most the transport reads needed to produce the next
// available chunk; nothing is buffered ahead of demand beyond the deltas a
// single fragment yields.
//
// A stream is OPEN until the transport signals end or fails. Recv returns
// io.EOF exactly once on clean termination; a transport error is returned
// once and then replayed. Chunks produced before a failure are all delivered
// before the error surfaces. The transport is released on every exit path:
// clean end, error, read timeout, and caller abandonment via Close.
type Stream struct {
	reader      FragmentReader
	parser      chunkparser.Parser
	readTimeout time.Duration
	costFn      func() (float64, bool)
	onFinish    func(usage *domain.Usage, err error)

	pending   []domain.StreamChunk
	lastUsage *domain.Usage
	done      bool
	err       error

	timedOut   atomic.Bool
	closeOnce  sync.Once
	closeErr   error
	finishOnce sync.Once
}

// Option configures a Stream at construction.
type Option func(*Stream)

// WithReadTimeout bounds the time spent waiting for the next fragment. When
// it fires the transport is terminated before the error surfaces, so a
// stalled-but-open connection does not leak. Independent of the whole-call
// timeout, which callers express through the request context deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Stream) {
		s.readTimeout = d
	}
}

// WithCostSource attaches a provider-reported cost lookup, consulted by the
// orchestrator after the stream terminates.
func WithCostSource(fn func() (float64, bool)) Option {
	return func(s *Stream) {
		s.costFn = fn
	}
}

func New(reader FragmentReader, parser chunkparser.Parser, opts ...Option) *Stream {
	s := &Stream{
		reader: reader,
		parser: parser,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnFinish registers a hook invoked exactly once when the stream reaches its
// terminal state, with the last-seen usage block (nil if none arrived) and
// the terminal error (nil on clean completion or caller abandonment). Used
// by the orchestrator to record usage for streams drained elsewhere.
func (s *Stream) OnFinish(fn func(usage *domain.Usage, err error)) {
	s.onFinish = fn
}

// Recv returns the next chunk. It blocks on at most one transport read at a
// time and returns io.EOF when the stream ends cleanly.
func (s *Stream) Recv(ctx context.Context) (domain.StreamChunk, error) {
	if len(s.pending) > 0 {
		return s.pop(), nil
	}

	if s.done {
		return domain.StreamChunk{}, s.err
	}

	if err := ctx.Err(); err != nil {
		s.closeTransport()
		return domain.StreamChunk{}, s.finish(err)
	}

	for {
		fragment, err := s.next()
		if err != nil {
			if err == io.EOF {
				// A clean transport end can still carry a deferred failure,
				// e.g. a subprocess that exited non-zero after closing stdout.
				if closeErr := s.closeTransport(); closeErr != nil {
					return domain.StreamChunk{}, s.finish(closeErr)
				}
				return domain.StreamChunk{}, s.finish(io.EOF)
			}
			s.closeTransport()
			return domain.StreamChunk{}, s.finish(err)
		}

		chunks := s.parser.Parse(fragment)
		if len(chunks) == 0 {
			continue
		}

		s.pending = chunks
		return s.pop(), nil
	}
}

// next performs one transport read under the per-read watchdog.
func (s *Stream) next() ([]byte, error) {
	if s.readTimeout <= 0 {
		return s.reader.Next()
	}

	// Closing the transport is the only reliable way to unblock a read that
	// is stuck inside the kernel; the watchdog does exactly that.
	timer := time.AfterFunc(s.readTimeout, func() {
		s.timedOut.Store(true)
		s.closeTransport()
	})
	defer timer.Stop()

	fragment, err := s.reader.Next()
	if err != nil && s.timedOut.Load() {
		return nil, fmt.Errorf("%w after %s", domain.ErrStreamTimeout, s.readTimeout)
	}
	return fragment, err
}

func (s *Stream) pop() domain.StreamChunk {
	chunk := s.pending[0]
	s.pending = s.pending[1:]
	if chunk.Usage != nil {
		s.lastUsage = chunk.Usage
	}
	return chunk
}

// finish records the terminal state and fires the OnFinish hook once.
// io.EOF is stored as the replayed terminal value but reported to the hook
// as success.
func (s *Stream) finish(err error) error {
	s.done = true
	s.err = err
	s.finishOnce.Do(func() {
		if s.onFinish != nil {
			hookErr := err
			if hookErr == io.EOF {
				hookErr = nil
			}
			s.onFinish(s.lastUsage, hookErr)
		}
	})
	return err
}

func (s *Stream) closeTransport() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}

// Close releases the transport. Callers abandoning a stream mid-way must
// call it so the underlying HTTP body or subprocess is not drained to
// completion. Safe to call multiple times and after the stream has ended.
func (s *Stream) Close() error {
	err := s.closeTransport()
	if !s.done {
		s.finish(io.EOF)
	}
	return err
}

// Cost reports the provider-supplied cost for this stream, when the
// transport carries one (the CLI provider's "result" record).
func (s *Stream) Cost() (float64, bool) {
	if s.costFn == nil {
		return 0, false
	}
	return s.costFn()
}

// Collect drains the stream into one ChatResponse, concatenating content per
// choice index in arrival order and keeping the last non-empty finish reason
// and last-seen usage. On a mid-stream failure the partial response is
// returned together with the error, never as a silently truncated success.
func Collect(ctx context.Context, s *Stream) (*domain.ChatResponse, error) {
	resp := &domain.ChatResponse{
		Object:  "chat.completion",
		Created: time.Now().Unix(),
	}

	content := make(map[int]*strings.Builder)
	roles := make(map[int]string)
	finishReasons := make(map[int]string)

	var streamErr error
	for {
		chunk, err := s.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}

		if resp.ID == "" {
			resp.ID = chunk.ID
		}
		if resp.Model == "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}

		for _, choice := range chunk.Choices {
			if choice.Delta == nil {
				continue
			}
			builder, ok := content[choice.Index]
			if !ok {
				builder = &strings.Builder{}
				content[choice.Index] = builder
			}
			builder.WriteString(choice.Delta.Content)
			if choice.Delta.Role != "" {
				roles[choice.Index] = choice.Delta.Role
			}
			if choice.FinishReason != "" {
				finishReasons[choice.Index] = choice.FinishReason
			}
		}
	}

	indices := make([]int, 0, len(content))
	for index := range content {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	for _, index := range indices {
		role := roles[index]
		if role == "" {
			role = "assistant"
		}
		resp.Choices = append(resp.Choices, domain.Choice{
			Index: index,
			Message: &domain.Message{
				Role:    role,
				Content: content[index].String(),
			},
			FinishReason: finishReasons[index],
		})
	}

	return resp, streamErr
}
