package routing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/shepherd/ai/core/llm"
)

// fakeBackend scripts backend behaviour per call index (0-based, across both
// blocking and streaming calls) and records every request it receives.
type fakeBackend struct {
	mu       sync.Mutex
	requests []llm.Request

	complete func(n int, ctx context.Context, req llm.Request) (*llm.Response, error)
	stream   func(n int, ctx context.Context, req llm.Request) (llm.Stream, error)
}

func (f *fakeBackend) record(req llm.Request) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return len(f.requests) - 1
}

func (f *fakeBackend) CreateChatCompletion(ctx context.Context, req llm.Request) (*llm.Response, error) {
	n := f.record(req)
	if f.complete == nil {
		return textResponse(req.Model, "ok"), nil
	}
	return f.complete(n, ctx, req)
}

func (f *fakeBackend) CreateChatCompletionStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	n := f.record(req)
	if f.stream == nil {
		return nil, llm.NewError(llm.ErrBackend, errors.New("streaming not scripted"))
	}
	return f.stream(n, ctx, req)
}

func (f *fakeBackend) calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

func textResponse(model, content string) *llm.Response {
	return &llm.Response{
		ID:      "resp-" + model,
		Model:   model,
		Choices: []llm.Choice{{Message: llm.AssistantMessage(content), FinishReason: "stop"}},
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// sliceStream emits fragments in order, then failErr if set, else io.EOF.
type sliceStream struct {
	mu        sync.Mutex
	fragments []string
	failErr   error
	next      int
	ended     bool
	closed    bool
}

func (s *sliceStream) Recv() (llm.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < len(s.fragments) {
		f := s.fragments[s.next]
		s.next++
		return llm.Chunk{Content: f}, nil
	}
	s.ended = true
	if s.failErr != nil {
		return llm.Chunk{}, s.failErr
	}
	return llm.Chunk{FinishReason: "stop"}, io.EOF
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sliceStream) state() (ended, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, s.closed
}

// recordingRecorder captures routing events.
type recordingRecorder struct {
	mu         sync.Mutex
	selections []string
	attempts   []string
	fallbacks  []string
	terminal   []string
	compact    []bool
}

func (r *recordingRecorder) RecordSelection(model, routeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selections = append(r.selections, model+"/"+routeType)
}

func (r *recordingRecorder) RecordAttempt(model, attempt, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, model+"/"+attempt+"/"+status)
}

func (r *recordingRecorder) RecordFallback(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, reason)
}

func (r *recordingRecorder) RecordTerminalFailure(routeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal = append(r.terminal, routeType)
}

func (r *recordingRecorder) RecordCompactMode(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compact = append(r.compact, enabled)
}

func (r *recordingRecorder) RecordUsage(string, llm.Usage) {}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Models = Models{Premium: "premium-model", Compact: "compact-model"}
	return cfg
}

func newTestRouter(t *testing.T, backend llm.Backend, cfg Config, opts ...RouterOption) *Router {
	t.Helper()
	opts = append([]RouterOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	r, err := NewRouter(backend, cfg, opts...)
	require.NoError(t, err)
	return r
}
