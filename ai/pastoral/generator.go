// Package pastoral generates church content (devotionals, sermon outlines,
// prayer wall replies and reading plan summaries) through the AI router.
package pastoral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hrygo/shepherd/ai/observability/logging"
)

// Input limits.
const (
	maxFieldRunes   = 200
	maxRequestRunes = 2000
	maxPassages     = 20
	defaultPoints   = 3
	maxPoints       = 7
)

var (
	// ErrInvalidInput reports a missing or malformed request field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyOutput reports a completion with no usable text.
	ErrEmptyOutput = errors.New("empty output from model")
)

// Completer is the subset of *routing.Router the generator needs.
type Completer interface {
	SimpleCompletion(ctx context.Context, prompt string, maxTokens int) (string, error)
	ComplexReasoning(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error)
	CreativeTask(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error)
	StreamingCompletionWithSystem(ctx context.Context, prompt, systemPrompt string, onChunk func(string)) error
}

// DevotionalRequest asks for a daily devotional on a passage.
type DevotionalRequest struct {
	Passage  string `json:"passage"`
	Theme    string `json:"theme,omitempty"`
	Audience string `json:"audience,omitempty"`
}

// SermonRequest asks for a sermon outline.
type SermonRequest struct {
	Passage string `json:"passage"`
	Title   string `json:"title,omitempty"`
	Points  int    `json:"points,omitempty"`
}

// PrayerRequest is a prayer wall post awaiting a reply.
type PrayerRequest struct {
	Request string `json:"request"`
	Author  string `json:"author,omitempty"`
}

// ReadingRequest identifies one day of a reading plan.
type ReadingRequest struct {
	Plan     string   `json:"plan"`
	Day      int      `json:"day"`
	Passages []string `json:"passages"`
}

// Generator renders prompts and sends them down the matching route.
type Generator struct {
	completer Completer
	prompts   Prompts
	logger    *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithPrompts replaces the built-in prompts.
func WithPrompts(prompts Prompts) Option {
	return func(g *Generator) {
		if prompts != nil {
			g.prompts = prompts
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator creates a generator over c.
func NewGenerator(c Completer, opts ...Option) *Generator {
	g := &Generator{
		completer: c,
		prompts:   DefaultPrompts(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Devotional writes a devotional on the creative route.
func (g *Generator) Devotional(ctx context.Context, req DevotionalRequest) (string, error) {
	req, err := req.normalize()
	if err != nil {
		return "", err
	}
	p, prompt, err := g.render(PromptDevotional, req)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out, err := g.completer.CreativeTask(ctx, prompt, p.SystemPrompt, p.MaxTokens)
	return g.finish(ctx, PromptDevotional, start, out, err)
}

// StreamDevotional streams a devotional, calling onChunk per fragment.
func (g *Generator) StreamDevotional(ctx context.Context, req DevotionalRequest, onChunk func(string)) error {
	if onChunk == nil {
		return fmt.Errorf("%w: nil chunk handler", ErrInvalidInput)
	}
	req, err := req.normalize()
	if err != nil {
		return err
	}
	p, prompt, err := g.render(PromptDevotional, req)
	if err != nil {
		return err
	}

	start := time.Now()
	emitted := false
	err = g.completer.StreamingCompletionWithSystem(ctx, prompt, p.SystemPrompt, func(s string) {
		emitted = true
		onChunk(s)
	})
	if err == nil && !emitted {
		err = ErrEmptyOutput
	}
	if err != nil {
		logging.Annotate(ctx, g.logger).Error("pastoral_generation_failed",
			"kind", PromptDevotional,
			"stream", true,
			"error", err,
			"latency_ms", time.Since(start).Milliseconds())
		return err
	}
	return nil
}

// SermonOutline drafts an outline on the complex reasoning route.
func (g *Generator) SermonOutline(ctx context.Context, req SermonRequest) (string, error) {
	req, err := req.normalize()
	if err != nil {
		return "", err
	}
	p, prompt, err := g.render(PromptSermonOutline, req)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out, err := g.completer.ComplexReasoning(ctx, prompt, p.SystemPrompt, p.MaxTokens)
	return g.finish(ctx, PromptSermonOutline, start, out, err)
}

// PrayerResponse writes a short prayer wall reply on the simple route.
func (g *Generator) PrayerResponse(ctx context.Context, req PrayerRequest) (string, error) {
	req, err := req.normalize()
	if err != nil {
		return "", err
	}
	return g.simple(ctx, PromptPrayerResponse, req)
}

// ReadingPlanSummary summarises one day of a reading plan on the simple route.
func (g *Generator) ReadingPlanSummary(ctx context.Context, req ReadingRequest) (string, error) {
	req, err := req.normalize()
	if err != nil {
		return "", err
	}
	return g.simple(ctx, PromptReadingSummary, req)
}

// simple has no system message, so the instructions lead the prompt.
func (g *Generator) simple(ctx context.Context, name string, data any) (string, error) {
	p, prompt, err := g.render(name, data)
	if err != nil {
		return "", err
	}
	if p.SystemPrompt != "" {
		prompt = p.SystemPrompt + "\n\n" + prompt
	}

	start := time.Now()
	out, err := g.completer.SimpleCompletion(ctx, prompt, p.MaxTokens)
	return g.finish(ctx, name, start, out, err)
}

func (g *Generator) render(name string, data any) (*PromptConfig, string, error) {
	p, ok := g.prompts[name]
	if !ok {
		return nil, "", fmt.Errorf("prompt %q not configured", name)
	}
	prompt, err := p.Build(data)
	if err != nil {
		return nil, "", err
	}
	return p, prompt, nil
}

func (g *Generator) finish(ctx context.Context, kind string, start time.Time, out string, err error) (string, error) {
	latency := time.Since(start)
	logger := logging.Annotate(ctx, g.logger)
	if err != nil {
		logger.Error("pastoral_generation_failed",
			"kind", kind,
			"error", err,
			"latency_ms", latency.Milliseconds())
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		logger.Warn("pastoral_generation_empty", "kind", kind)
		return "", ErrEmptyOutput
	}

	logger.Debug("pastoral_generation_success",
		"kind", kind,
		"runes", utf8.RuneCountInString(out),
		"latency_ms", latency.Milliseconds())
	return out, nil
}

func (r DevotionalRequest) normalize() (DevotionalRequest, error) {
	r.Passage = clean(r.Passage, maxFieldRunes)
	if r.Passage == "" {
		return r, fmt.Errorf("%w: passage is required", ErrInvalidInput)
	}
	r.Theme = clean(r.Theme, maxFieldRunes)
	r.Audience = clean(r.Audience, maxFieldRunes)
	return r, nil
}

func (r SermonRequest) normalize() (SermonRequest, error) {
	r.Passage = clean(r.Passage, maxFieldRunes)
	if r.Passage == "" {
		return r, fmt.Errorf("%w: passage is required", ErrInvalidInput)
	}
	r.Title = clean(r.Title, maxFieldRunes)
	switch {
	case r.Points == 0:
		r.Points = defaultPoints
	case r.Points < 0 || r.Points > maxPoints:
		return r, fmt.Errorf("%w: points must be between 1 and %d", ErrInvalidInput, maxPoints)
	}
	return r, nil
}

func (r PrayerRequest) normalize() (PrayerRequest, error) {
	r.Request = clean(r.Request, maxRequestRunes)
	if r.Request == "" {
		return r, fmt.Errorf("%w: request is required", ErrInvalidInput)
	}
	r.Author = clean(r.Author, maxFieldRunes)
	return r, nil
}

func (r ReadingRequest) normalize() (ReadingRequest, error) {
	r.Plan = clean(r.Plan, maxFieldRunes)
	if r.Plan == "" {
		return r, fmt.Errorf("%w: plan is required", ErrInvalidInput)
	}
	if r.Day <= 0 {
		return r, fmt.Errorf("%w: day must be positive", ErrInvalidInput)
	}
	if len(r.Passages) > maxPassages {
		return r, fmt.Errorf("%w: at most %d passages", ErrInvalidInput, maxPassages)
	}

	passages := make([]string, 0, len(r.Passages))
	for _, p := range r.Passages {
		if p = clean(p, maxFieldRunes); p != "" {
			passages = append(passages, p)
		}
	}
	if len(passages) == 0 {
		return r, fmt.Errorf("%w: at least one passage is required", ErrInvalidInput)
	}
	r.Passages = passages
	return r, nil
}

// clean trims s and truncates it to limit runes.
func clean(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
