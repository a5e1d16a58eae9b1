package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/shepherd/ai/core/llm"
	"github.com/hrygo/shepherd/ai/observability/logging"
)

// Options configures a single CreateCompletion call.
type Options struct {
	Complexity Complexity
	RouteType  RouteType

	// MaxTokens bounds the output. Zero uses Complexity.MaxTokens, then DefaultMaxTokens.
	MaxTokens int

	// Temperature in [0, 2]. Nil uses DefaultTemperature; zero is honored.
	Temperature *float32

	Stream       bool
	SystemPrompt string
}

// Result is the outcome of a successful CreateCompletion.
// Exactly one of Response and Stream is set.
type Result struct {
	RequestID string
	Model     string
	Fallback  bool
	Response  *llm.Response

	// Stream must be closed by the caller, also when it is abandoned early.
	// Close releases the attempt context, which stays live until then.
	Stream llm.Stream
}

// Float32 returns a pointer to v, for Options.Temperature.
func Float32(v float32) *float32 {
	return &v
}

// Router routes chat completions to a premium or compact model, bounds each
// attempt with a timeout and retries once on the compact model with reduced
// parameters.
type Router struct {
	backend  llm.Backend
	strategy ModelStrategy
	cfg      Config
	settings *Settings
	recorder Recorder
	logger   *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) RouterOption {
	return func(r *Router) {
		if recorder != nil {
			r.recorder = recorder
		}
	}
}

// WithStrategy replaces the tiered model strategy.
func WithStrategy(strategy ModelStrategy) RouterOption {
	return func(r *Router) {
		if strategy != nil {
			r.strategy = strategy
		}
	}
}

// NewRouter creates a Router over backend. Zero fields of cfg take their defaults.
func NewRouter(backend llm.Backend, cfg Config, opts ...RouterOption) (*Router, error) {
	if backend == nil {
		return nil, errors.New("routing: backend is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	cfg = cfg.withDefaults()

	r := &Router{
		backend:  backend,
		strategy: NewTieredModelStrategy(cfg.Models),
		cfg:      cfg,
		settings: &Settings{},
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.settings.SetCompactMode(cfg.CompactMode)
	r.recorder.RecordCompactMode(cfg.CompactMode)
	return r, nil
}

// Config returns the effective routing configuration.
func (r *Router) Config() Config {
	return r.cfg
}

// CompactMode reports whether cost-saving mode is on.
func (r *Router) CompactMode() bool {
	return r.settings.CompactMode()
}

// SetCompactMode toggles cost-saving mode and returns the previous value.
// Requests already in flight keep the model they selected.
func (r *Router) SetCompactMode(enabled bool) bool {
	previous := r.settings.SetCompactMode(enabled)
	r.recorder.RecordCompactMode(enabled)
	r.logger.Info("AI routing: compact mode changed", "enabled", enabled, "previous", previous)
	return previous
}

// CreateCompletion runs messages on the selected model. When the primary
// attempt fails or exceeds its route timeout, one fallback attempt runs on
// the compact model with clamped parameters and streaming disabled. If that
// fails too, a *TerminalError is returned. Cancellation of ctx is returned
// as ctx.Err() without a fallback.
func (r *Router) CreateCompletion(ctx context.Context, messages []llm.Message, opts Options) (*Result, error) {
	req, err := buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}

	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := r.logger.With("request_id", requestID)

	route := opts.RouteType
	if route == "" {
		route = RouteDefault
	}
	complexity := opts.Complexity
	if complexity.MaxTokens <= 0 {
		complexity.MaxTokens = req.MaxTokens
	}

	compact := r.settings.CompactMode()
	primaryModel := r.strategy.SelectModel(compact, complexity)
	fallbackModel := r.strategy.FallbackModel()
	req.Model = primaryModel

	r.recorder.RecordSelection(primaryModel, string(route))
	logger.Info("AI routing: model selected",
		"model", primaryModel,
		"route_type", route,
		"compact_mode", compact,
		"max_tokens", req.MaxTokens,
		"stream", req.Stream,
	)

	res, primaryErr := r.attempt(ctx, req, r.cfg.Timeouts.For(route), AttemptPrimary)
	if primaryErr == nil {
		logger.Info("AI routing: request served", "model", primaryModel, "attempt", AttemptPrimary)
		res.RequestID = requestID
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	reason := llm.Reason(primaryErr)
	r.recorder.RecordFallback(reason)
	logger.Warn("AI routing: primary attempt failed, falling back",
		"failed_model", primaryModel,
		"fallback_model", fallbackModel,
		"reason", reason,
		"error", primaryErr,
	)

	fallbackReq := fallbackRequest(req, fallbackModel, r.cfg)
	res, fallbackErr := r.attempt(ctx, fallbackReq, r.cfg.FallbackTimeout, AttemptFallback)
	if fallbackErr == nil {
		logger.Info("AI routing: request served", "model", fallbackModel, "attempt", AttemptFallback)
		res.RequestID = requestID
		res.Fallback = true
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	r.recorder.RecordTerminalFailure(string(route))
	logger.Error("AI routing: fallback failed",
		"primary_model", primaryModel,
		"primary_error", primaryErr,
		"fallback_model", fallbackModel,
		"fallback_error", fallbackErr,
	)
	return nil, &TerminalError{
		PrimaryModel:  primaryModel,
		FallbackModel: fallbackModel,
		Primary:       primaryErr,
		Fallback:      fallbackErr,
	}
}

type attemptOutcome struct {
	resp   *llm.Response
	stream llm.Stream
	err    error
}

// attempt races one backend call against timeout. The call runs under its
// own context, cancelled when the timer wins; a late result is discarded.
func (r *Router) attempt(ctx context.Context, req llm.Request, timeout time.Duration, label string) (*Result, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	done := make(chan attemptOutcome, 1)
	start := time.Now()

	go func() {
		var out attemptOutcome
		if req.Stream {
			out.stream, out.err = r.backend.CreateChatCompletionStream(attemptCtx, req)
			if out.err == nil && out.stream == nil {
				out.err = llm.NewError(llm.ErrBackend, errors.New("backend returned no stream"))
			}
		} else {
			out.resp, out.err = r.backend.CreateChatCompletion(attemptCtx, req)
			if out.err == nil && out.resp == nil {
				out.err = llm.NewError(llm.ErrBackend, errors.New("backend returned no response"))
			}
		}
		done <- out
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out attemptOutcome
	select {
	case out = <-done:
	case <-timer.C:
		cancel()
		go discardLate(done)
		out.err = llm.NewError(llm.ErrTimeout, fmt.Errorf("%s attempt on %s exceeded %s", label, req.Model, timeout))
	case <-ctx.Done():
		cancel()
		go discardLate(done)
		out.err = ctx.Err()
	}

	r.recorder.RecordAttempt(req.Model, label, llm.Reason(out.err), time.Since(start))
	if out.err != nil {
		cancel()
		return nil, out.err
	}

	if out.stream != nil {
		return &Result{Model: req.Model, Stream: &attemptStream{Stream: out.stream, cancel: cancel}}, nil
	}
	cancel()
	r.recorder.RecordUsage(req.Model, out.resp.Usage)
	return &Result{Model: req.Model, Response: out.resp}, nil
}

func discardLate(done <-chan attemptOutcome) {
	if out := <-done; out.stream != nil {
		_ = out.stream.Close()
	}
}

// attemptStream releases the attempt context when the stream is closed.
type attemptStream struct {
	llm.Stream
	cancel context.CancelFunc
}

func (s *attemptStream) Close() error {
	defer s.cancel()
	return s.Stream.Close()
}

func buildRequest(messages []llm.Message, opts Options) (llm.Request, error) {
	if opts.MaxTokens < 0 {
		return llm.Request{}, fmt.Errorf("%w: max tokens must not be negative", ErrInvalidRequest)
	}
	temperature := float32(DefaultTemperature)
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if temperature < 0 || temperature > MaxTemperature {
		return llm.Request{}, fmt.Errorf("%w: temperature %.2f outside [0, %.0f]", ErrInvalidRequest, temperature, MaxTemperature)
	}

	final := llm.WithSystemPrompt(opts.SystemPrompt, messages)
	if len(final) == 0 {
		return llm.Request{}, fmt.Errorf("%w: no messages", ErrInvalidRequest)
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = opts.Complexity.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return llm.Request{
		Messages:    final,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      opts.Stream,
	}, nil
}

func fallbackRequest(req llm.Request, model string, cfg Config) llm.Request {
	out := req
	out.Model = model
	out.MaxTokens = min(req.MaxTokens, cfg.FallbackMaxTokens)
	out.Temperature = min(req.Temperature, cfg.FallbackTemperature)
	out.Stream = false
	return out
}
