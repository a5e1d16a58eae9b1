package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/shepherd/ai/core/llm"
	"github.com/hrygo/shepherd/ai/metrics"
	"github.com/hrygo/shepherd/ai/pastoral"
	"github.com/hrygo/shepherd/ai/routing"
	"github.com/hrygo/shepherd/internal/profile"
)

// stubBackend answers blocking calls with complete and streaming calls with
// stream. Unset funcs fail with a backend error.
type stubBackend struct {
	mu       sync.Mutex
	requests []llm.Request

	complete func(req llm.Request) (*llm.Response, error)
	stream   func(req llm.Request) (llm.Stream, error)
}

func (b *stubBackend) CreateChatCompletion(_ context.Context, req llm.Request) (*llm.Response, error) {
	b.record(req)
	if b.complete == nil {
		return nil, llm.NewError(llm.ErrBackend, errors.New("unavailable"))
	}
	return b.complete(req)
}

func (b *stubBackend) CreateChatCompletionStream(_ context.Context, req llm.Request) (llm.Stream, error) {
	b.record(req)
	if b.stream == nil {
		return nil, llm.NewError(llm.ErrBackend, errors.New("unavailable"))
	}
	return b.stream(req)
}

func (b *stubBackend) record(req llm.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
}

func (b *stubBackend) calls() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.requests...)
}

func reply(content string) func(llm.Request) (*llm.Response, error) {
	return func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{
			ID:      "resp-1",
			Model:   req.Model,
			Choices: []llm.Choice{{Message: llm.AssistantMessage(content), FinishReason: "stop"}},
			Usage:   llm.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
		}, nil
	}
}

type fragmentStream struct {
	fragments []string
	next      int
}

func (s *fragmentStream) Recv() (llm.Chunk, error) {
	if s.next >= len(s.fragments) {
		return llm.Chunk{}, io.EOF
	}
	s.next++
	return llm.Chunk{Content: s.fragments[s.next-1]}, nil
}

func (*fragmentStream) Close() error { return nil }

func streamOf(fragments ...string) func(llm.Request) (llm.Stream, error) {
	return func(llm.Request) (llm.Stream, error) {
		return &fragmentStream{fragments: fragments}, nil
	}
}

type testEnv struct {
	echo     *echo.Echo
	service  *APIV1Service
	backend  *stubBackend
	exporter *metrics.PrometheusExporter
}

func newTestEnv(t *testing.T, backend *stubBackend, mutate func(*profile.Profile)) *testEnv {
	t.Helper()

	p := &profile.Profile{Mode: "dev", MaxConcurrentStreams: 4}
	if mutate != nil {
		mutate(p)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	cfg := routing.DefaultConfig()
	cfg.Models = routing.Models{Premium: "premium-model", Compact: "compact-model"}

	router, err := routing.NewRouter(backend, cfg, routing.WithLogger(logger), routing.WithRecorder(exporter))
	require.NoError(t, err)
	generator := pastoral.NewGenerator(router, pastoral.WithLogger(logger))

	e := echo.New()
	service := NewAPIV1Service(p, router, generator, exporter)
	service.RegisterRoutes(e)
	return &testEnv{echo: e, service: service, backend: backend, exporter: exporter}
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateCompletion(t *testing.T) {
	env := newTestEnv(t, &stubBackend{complete: reply("Grace to you.")}, nil)

	rec := env.do(http.MethodPost, "/api/v1/ai/completions", `{
		"messages": [{"role": "user", "content": "Greet the church"}],
		"system_prompt": "You are Paul.",
		"route_type": "simple",
		"complexity": {"isSimple": true}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[completionResponse](t, rec)
	assert.Equal(t, "Grace to you.", resp.Content)
	assert.Equal(t, "compact-model", resp.Model)
	assert.False(t, resp.Fallback)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.RequestID)
	assert.NotEmpty(t, resp.RequestID)

	calls := env.backend.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.SystemPrompt("You are Paul."), calls[0].Messages[0])
}

func TestCreateCompletion_Temperature(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float32
	}{
		{"explicit zero", `{"messages": [{"role": "user", "content": "hi"}], "temperature": 0}`, 0},
		{"omitted", `{"messages": [{"role": "user", "content": "hi"}]}`, routing.DefaultTemperature},
		{"explicit value", `{"messages": [{"role": "user", "content": "hi"}], "temperature": 1.2}`, 1.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &stubBackend{complete: reply("ok")}, nil)

			rec := env.do(http.MethodPost, "/api/v1/ai/completions", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			calls := env.backend.calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0].Temperature)
		})
	}
}

func TestCreateCompletion_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"messages": [`},
		{"no messages", `{"messages": []}`},
		{"temperature out of range", `{"messages": [{"role": "user", "content": "hi"}], "temperature": 3}`},
		{"negative max tokens", `{"messages": [{"role": "user", "content": "hi"}], "max_tokens": -10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &stubBackend{complete: reply("x")}, nil)

			rec := env.do(http.MethodPost, "/api/v1/ai/completions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, env.backend.calls())
		})
	}
}

func TestCreateCompletion_TerminalFailure(t *testing.T) {
	env := newTestEnv(t, &stubBackend{}, nil)

	rec := env.do(http.MethodPost, "/api/v1/ai/completions", `{"messages": [{"role": "user", "content": "hi"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decode[errorResponse](t, rec)
	assert.Equal(t, "AI service unavailable", resp.Error)
	assert.NotEmpty(t, resp.RequestID)
	assert.Len(t, env.backend.calls(), 2)
}

func TestCreateCompletion_Stream(t *testing.T) {
	env := newTestEnv(t, &stubBackend{stream: streamOf("The ", "Lord ", "is ", "my ", "shepherd")}, nil)

	rec := env.do(http.MethodPost, "/api/v1/ai/completions", `{"messages": [{"role": "user", "content": "Psalm 23:1"}], "stream": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	body := rec.Body.String()
	last := -1
	for _, fragment := range []string{"The ", "Lord ", "is ", "my ", "shepherd"} {
		idx := strings.Index(body, fmt.Sprintf(`data: {"content":%q}`, fragment))
		require.Greater(t, idx, last, "fragment %q out of order in %s", fragment, body)
		last = idx
	}
	doneIdx := strings.Index(body, "event: done\n")
	assert.Greater(t, doneIdx, last)
	assert.Contains(t, body, `"model":"premium-model"`)
}

func TestStreamingCompletion_FallbackSingleChunk(t *testing.T) {
	env := newTestEnv(t, &stubBackend{complete: reply("Whole answer.")}, nil)

	rec := env.do(http.MethodPost, "/api/v1/ai/stream", `{"prompt": "Explain grace"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "data: {\"content\""))
	assert.Contains(t, body, `data: {"content":"Whole answer."}`)
	assert.Contains(t, body, "event: done\n")

	calls := env.backend.calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Stream)
	assert.False(t, calls[1].Stream)
}

func TestStreamingCompletion_FailureBeforeFirstChunk(t *testing.T) {
	env := newTestEnv(t, &stubBackend{}, nil)

	rec := env.do(http.MethodPost, "/api/v1/ai/stream", `{"prompt": "Explain grace"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

func TestStreamingCompletion_FirstRecvFails(t *testing.T) {
	backend := &stubBackend{stream: func(llm.Request) (llm.Stream, error) {
		return &brokenStream{err: llm.NewError(llm.ErrRateLimited, errors.New("429"))}, nil
	}}
	env := newTestEnv(t, backend, nil)

	rec := env.do(http.MethodPost, "/api/v1/ai/stream", `{"prompt": "Explain grace"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
	assert.Equal(t, "AI service unavailable", decode[errorResponse](t, rec).Error)
}

// brokenStream fails on its first Recv.
type brokenStream struct{ err error }

func (s *brokenStream) Recv() (llm.Chunk, error) { return llm.Chunk{}, s.err }
func (s *brokenStream) Close() error             { return nil }

func TestStreamingCompletion_MidStreamFailure(t *testing.T) {
	backend := &stubBackend{stream: func(llm.Request) (llm.Stream, error) {
		return &failingStream{}, nil
	}}
	env := newTestEnv(t, backend, nil)

	rec := env.do(http.MethodPost, "/api/v1/ai/stream", `{"prompt": "Explain grace"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"content":"partial"}`)
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "stream interrupted")
	assert.NotContains(t, body, "event: done")
	assert.Len(t, backend.calls(), 1)
}

type failingStream struct{ sent bool }

func (s *failingStream) Recv() (llm.Chunk, error) {
	if !s.sent {
		s.sent = true
		return llm.Chunk{Content: "partial"}, nil
	}
	return llm.Chunk{}, llm.NewError(llm.ErrBackend, errors.New("connection reset"))
}

func (*failingStream) Close() error { return nil }

func TestStreamSemaphoreSaturated(t *testing.T) {
	env := newTestEnv(t, &stubBackend{stream: streamOf("x")}, func(p *profile.Profile) {
		p.MaxConcurrentStreams = 1
	})
	require.True(t, env.service.AIService.streamSemaphore.TryAcquire(1))

	rec := env.do(http.MethodPost, "/api/v1/ai/stream", `{"prompt": "hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = env.do(http.MethodPost, "/api/v1/pastoral/devotional/stream", `{"passage": "Psalm 1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, env.backend.calls())

	env.service.AIService.streamSemaphore.Release(1)
	rec = env.do(http.MethodPost, "/api/v1/ai/stream", `{"prompt": "hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConvenienceEndpoints(t *testing.T) {
	tests := []struct {
		path      string
		wantModel string
		wantTemp  float32
	}{
		{"/api/v1/ai/simple", "compact-model", routing.SimpleTemperature},
		{"/api/v1/ai/reasoning", "premium-model", routing.ReasoningTemperature},
		{"/api/v1/ai/creative", "premium-model", routing.CreativeTemperature},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			env := newTestEnv(t, &stubBackend{complete: reply("Amen.")}, nil)

			rec := env.do(http.MethodPost, tt.path, `{"prompt": "Bless this meal", "max_tokens": 200}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "Amen.", decode[contentResponse](t, rec).Content)

			calls := env.backend.calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantModel, calls[0].Model)
			assert.Equal(t, tt.wantTemp, calls[0].Temperature)
			assert.Equal(t, 200, calls[0].MaxTokens)
		})
	}

	env := newTestEnv(t, &stubBackend{complete: reply("Amen.")}, nil)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/ai/simple", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/ai/creative", `{"prompt": "x", "max_tokens": -1}`).Code)
}

func TestCompactModeEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubBackend{complete: reply("ok")}, nil)

	rec := env.do(http.MethodGet, "/api/v1/ai/compact-mode", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[compactModeResponse](t, rec).Enabled)

	rec = env.do(http.MethodPut, "/api/v1/ai/compact-mode", `{"enabled": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[compactModeResponse](t, rec)
	assert.True(t, resp.Enabled)
	require.NotNil(t, resp.Previous)
	assert.False(t, *resp.Previous)
	assert.True(t, env.service.AIService.Router.CompactMode())

	rec = env.do(http.MethodPost, "/api/v1/ai/reasoning", `{"prompt": "short", "max_tokens": 300}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "compact-model", env.backend.calls()[0].Model)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/v1/ai/compact-mode", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/v1/ai/compact-mode", "").Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, &stubBackend{complete: reply("ok")}, func(p *profile.Profile) {
		p.RateLimit = 0.001
		p.RateBurst = 1
	})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/ai/compact-mode", "").Code)
	rec := env.do(http.MethodGet, "/api/v1/ai/compact-mode", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", decode[errorResponse](t, rec).Error)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, &stubBackend{complete: reply("ok")}, nil)

	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Version.Version)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/ai/simple", `{"prompt": "hi"}`).Code)

	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `shepherd_ai_model_selections_total{model="compact-model",route_type="simple"} 1`)
}

func TestPastoralEndpoints(t *testing.T) {
	tests := []struct {
		path      string
		body      string
		wantModel string
	}{
		{"/api/v1/pastoral/devotional", `{"passage": "Psalm 23", "theme": "trust"}`, "premium-model"},
		{"/api/v1/pastoral/sermon-outline", `{"passage": "Romans 12", "points": 4}`, "premium-model"},
		{"/api/v1/pastoral/prayer-response", `{"request": "Healing for my father"}`, "compact-model"},
		{"/api/v1/pastoral/reading-summary", `{"plan": "Psalms in a month", "day": 2, "passages": ["Psalm 6", "Psalm 7"]}`, "compact-model"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			env := newTestEnv(t, &stubBackend{complete: reply("  Peace be with you.  ")}, nil)

			rec := env.do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "Peace be with you.", decode[contentResponse](t, rec).Content)

			calls := env.backend.calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantModel, calls[0].Model)
		})
	}
}

func TestPastoralEndpoints_Errors(t *testing.T) {
	env := newTestEnv(t, &stubBackend{complete: reply("   ")}, nil)

	rec := env.do(http.MethodPost, "/api/v1/pastoral/devotional", `{"theme": "hope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "passage is required")

	rec = env.do(http.MethodPost, "/api/v1/pastoral/prayer-response", `{"request": "Guidance"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "empty output")
}

func TestPastoralStreamDevotional(t *testing.T) {
	env := newTestEnv(t, &stubBackend{stream: streamOf("Rest ", "in Him.")}, nil)

	rec := env.do(http.MethodPost, "/api/v1/pastoral/devotional/stream", `{"passage": "Matthew 11:28"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"content":"Rest "}`)
	assert.Contains(t, body, `data: {"content":"in Him."}`)
	assert.Contains(t, body, "event: done\n")
}

func TestStatusFor(t *testing.T) {
	terminal := &routing.TerminalError{
		PrimaryModel:  "a",
		FallbackModel: "b",
		Primary:       errors.New("x"),
		Fallback:      llm.NewError(llm.ErrTimeout, context.DeadlineExceeded),
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", fmt.Errorf("%w: bad", routing.ErrInvalidRequest), http.StatusBadRequest},
		{"invalid pastoral input", fmt.Errorf("%w: bad", pastoral.ErrInvalidInput), http.StatusBadRequest},
		{"terminal", terminal, http.StatusBadGateway},
		{"empty output", pastoral.ErrEmptyOutput, http.StatusBadGateway},
		{"caller deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"caller canceled", context.Canceled, statusClientClosedRequest},
		{"stream broke before first chunk", fmt.Errorf("stream interrupted: %w", llm.NewError(llm.ErrRateLimited, errors.New("429"))), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
