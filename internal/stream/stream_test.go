package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/felipepmaragno/ai-router/internal/chunkparser"
	"github.com/felipepmaragno/ai-router/internal/domain"
)

// fakeReader yields scripted fragments, then a terminal error.
type fakeReader struct {
	fragments [][]byte
	final     error
	pos       int
	closed    bool
	closeErr  error
	blockOn   int           // fragment index to block at, -1 to disable
	unblock   chan struct{} // closed by Close when blocking
}

func newFakeReader(final error, fragments ...string) *fakeReader {
	r := &fakeReader{final: final, blockOn: -1, unblock: make(chan struct{})}
	for _, f := range fragments {
		r.fragments = append(r.fragments, []byte(f))
	}
	return r
}

func (r *fakeReader) Next() ([]byte, error) {
	if r.pos == r.blockOn {
		<-r.unblock
		return nil, errors.New("read on closed transport")
	}
	if r.pos >= len(r.fragments) {
		return nil, r.final
	}
	f := r.fragments[r.pos]
	r.pos++
	return f, nil
}

func (r *fakeReader) Close() error {
	if !r.closed {
		r.closed = true
		close(r.unblock)
	}
	return r.closeErr
}

func delta(content string) string {
	return `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"` + content + `"}}]}`
}

func TestStream_RecvDeliversChunksInOrder(t *testing.T) {
	reader := newFakeReader(io.EOF, delta("Hello"), delta(" world"))
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	ctx := context.Background()

	first, err := s.Recv(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Choices[0].Delta.Content != "Hello" {
		t.Errorf("expected Hello, got %q", first.Choices[0].Delta.Content)
	}

	second, err := s.Recv(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Choices[0].Delta.Content != " world" {
		t.Errorf("expected ' world', got %q", second.Choices[0].Delta.Content)
	}

	if _, err := s.Recv(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if !reader.closed {
		t.Error("expected transport to be released on clean end")
	}
}

func TestStream_EOFReplayed(t *testing.T) {
	s := New(newFakeReader(io.EOF), chunkparser.NewJSONLineParser("gpt-4o"))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Recv(ctx); err != io.EOF {
			t.Fatalf("recv %d: expected io.EOF, got %v", i, err)
		}
	}
}

func TestStream_MalformedFragmentsSkipped(t *testing.T) {
	reader := newFakeReader(io.EOF,
		delta("a"),
		`{"truncated`,
		`: ping`,
		delta("b"),
	)
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	ctx := context.Background()
	var got []string
	for {
		chunk, err := s.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, chunk.Choices[0].Delta.Content)
	}

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestStream_PartialDeltasBeforeTransportError(t *testing.T) {
	transportErr := errors.New("connection reset")
	reader := newFakeReader(transportErr, delta("partial"))
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	ctx := context.Background()

	chunk, err := s.Recv(ctx)
	if err != nil {
		t.Fatalf("expected delta before error, got %v", err)
	}
	if chunk.Choices[0].Delta.Content != "partial" {
		t.Errorf("expected partial, got %q", chunk.Choices[0].Delta.Content)
	}

	if _, err := s.Recv(ctx); !errors.Is(err, transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !reader.closed {
		t.Error("expected transport to be released on error")
	}

	// Terminal error is replayed, not re-derived.
	if _, err := s.Recv(ctx); !errors.Is(err, transportErr) {
		t.Fatalf("expected replayed error, got %v", err)
	}
}

func TestStream_ReadTimeout(t *testing.T) {
	reader := newFakeReader(io.EOF, delta("a"))
	reader.blockOn = 1

	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"), WithReadTimeout(20*time.Millisecond))

	ctx := context.Background()
	if _, err := s.Recv(ctx); err != nil {
		t.Fatalf("unexpected error on first chunk: %v", err)
	}

	_, err := s.Recv(ctx)
	if !errors.Is(err, domain.ErrStreamTimeout) {
		t.Fatalf("expected stream timeout, got %v", err)
	}
	if !reader.closed {
		t.Error("expected transport terminated by watchdog")
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	reader := newFakeReader(io.EOF, delta("a"))
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Recv(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !reader.closed {
		t.Error("expected transport released on cancellation")
	}
}

func TestStream_CloseReleasesTransport(t *testing.T) {
	reader := newFakeReader(io.EOF, delta("a"), delta("b"))
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	if _, err := s.Recv(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !reader.closed {
		t.Error("expected transport closed")
	}

	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected second close error: %v", err)
	}
}

func TestStream_DeferredCloseErrorSurfacedAtEOF(t *testing.T) {
	exitErr := errors.New("exit status 1")
	reader := newFakeReader(io.EOF, delta("a"))
	reader.closeErr = exitErr

	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	ctx := context.Background()
	if _, err := s.Recv(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := s.Recv(ctx)
	if !errors.Is(err, exitErr) {
		t.Fatalf("expected deferred close error, got %v", err)
	}
}

func TestStream_OnFinishFiredOnceWithUsage(t *testing.T) {
	usageChunk := `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`
	reader := newFakeReader(io.EOF, delta("hi"), usageChunk)
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	var calls int
	var gotUsage *domain.Usage
	var gotErr error
	s.OnFinish(func(usage *domain.Usage, err error) {
		calls++
		gotUsage = usage
		gotErr = err
	})

	ctx := context.Background()
	for {
		if _, err := s.Recv(ctx); err != nil {
			break
		}
	}
	s.Close()

	if calls != 1 {
		t.Fatalf("expected finish hook fired once, got %d", calls)
	}
	if gotErr != nil {
		t.Errorf("expected nil error on clean end, got %v", gotErr)
	}
	if gotUsage == nil || gotUsage.TotalTokens != 10 {
		t.Errorf("expected usage with 10 total tokens, got %+v", gotUsage)
	}
}

func TestStream_OnFinishReportsError(t *testing.T) {
	transportErr := errors.New("broken pipe")
	reader := newFakeReader(transportErr, delta("hi"))
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	var gotErr error
	s.OnFinish(func(usage *domain.Usage, err error) {
		gotErr = err
	})

	ctx := context.Background()
	for {
		if _, err := s.Recv(ctx); err != nil {
			break
		}
	}

	if !errors.Is(gotErr, transportErr) {
		t.Fatalf("expected transport error in hook, got %v", gotErr)
	}
}

func TestCollect_FoldsContentInOrder(t *testing.T) {
	reader := newFakeReader(io.EOF,
		delta("Hello"),
		delta(" learning"),
		delta(" is"),
		delta(" response"),
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":4,"total_tokens":9}}`,
	)
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	resp, err := Collect(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content != "Hello learning is response" {
		t.Errorf("unexpected folded content: %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].Message.Role != "assistant" {
		t.Errorf("expected assistant role, got %q", resp.Choices[0].Message.Role)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 9 {
		t.Errorf("expected total tokens 9, got %d", resp.Usage.TotalTokens)
	}
	if resp.ID != "chatcmpl-1" {
		t.Errorf("expected id carried over, got %s", resp.ID)
	}
}

func TestCollect_MultipleChoiceIndices(t *testing.T) {
	reader := newFakeReader(io.EOF,
		`{"id":"c","choices":[{"index":1,"delta":{"content":"second"}}]}`,
		`{"id":"c","choices":[{"index":0,"delta":{"content":"first"}}]}`,
	)
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	resp, err := Collect(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Choices) != 2 {
		t.Fatalf("expected 2 choices, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Index != 0 || resp.Choices[0].Message.Content != "first" {
		t.Errorf("unexpected choice 0: %+v", resp.Choices[0])
	}
	if resp.Choices[1].Index != 1 || resp.Choices[1].Message.Content != "second" {
		t.Errorf("unexpected choice 1: %+v", resp.Choices[1])
	}
}

func TestCollect_PartialResultOnError(t *testing.T) {
	transportErr := errors.New("connection reset")
	reader := newFakeReader(transportErr, delta("partial "), delta("content"))
	s := New(reader, chunkparser.NewJSONLineParser("gpt-4o"))

	resp, err := Collect(context.Background(), s)
	if !errors.Is(err, transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if resp == nil {
		t.Fatal("expected partial response alongside error")
	}
	if resp.Choices[0].Message.Content != "partial content" {
		t.Errorf("expected partial content preserved, got %q", resp.Choices[0].Message.Content)
	}
}

func TestStream_CostSource(t *testing.T) {
	s := New(newFakeReader(io.EOF), chunkparser.NewJSONLineParser("m"),
		WithCostSource(func() (float64, bool) { return 0.25, true }))

	cost, known := s.Cost()
	if !known || cost != 0.25 {
		t.Errorf("expected cost 0.25 known, got %f %v", cost, known)
	}

	bare := New(newFakeReader(io.EOF), chunkparser.NewJSONLineParser("m"))
	if _, known := bare.Cost(); known {
		t.Error("expected no cost without a source")
	}
}

func TestSSEReader(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		"event: message\n" +
			"data: {\"a\":1}\n" +
			"\n" +
			": keep-alive\n" +
			"data: {\"b\":2}\n" +
			"\n" +
			"data: [DONE]\n",
	))
	r := NewSSEReader(body)

	first, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(first) != `{"a":1}` {
		t.Errorf("unexpected first fragment: %s", first)
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(second) != `{"b":2}` {
		t.Errorf("unexpected second fragment: %s", second)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at [DONE], got %v", err)
	}
}

func TestLineReader(t *testing.T) {
	closed := false
	r := NewLineReader(strings.NewReader("{\"a\":1}\n\n{\"b\":2}\n"), func() error {
		closed = true
		return nil
	})

	first, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(first) != `{"a":1}` {
		t.Errorf("unexpected first line: %s", first)
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(second) != `{"b":2}` {
		t.Errorf("unexpected second line: %s", second)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !closed {
		t.Error("expected closer to run")
	}
}
