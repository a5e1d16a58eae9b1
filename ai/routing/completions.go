package routing

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hrygo/shepherd/ai/core/llm"
)

// Defaults for the convenience entry points.
const (
	SimpleMaxTokens   = 500
	SimpleTemperature = 0.3

	ReasoningMaxTokens   = 2000
	ReasoningTemperature = 0.7

	CreativeMaxTokens   = 1500
	CreativeTemperature = 0.9

	StreamingMaxTokens = 2000
)

// SimpleCompletion answers a short prompt. maxTokens <= 0 uses SimpleMaxTokens.
func (r *Router) SimpleCompletion(ctx context.Context, prompt string, maxTokens int) (string, error) {
	maxTokens = orDefault(maxTokens, SimpleMaxTokens)
	res, err := r.CreateCompletion(ctx, []llm.Message{llm.UserMessage(prompt)}, Options{
		Complexity:  Complexity{IsSimple: true, MaxTokens: maxTokens},
		RouteType:   RouteSimple,
		MaxTokens:   maxTokens,
		Temperature: Float32(SimpleTemperature),
	})
	if err != nil {
		return "", err
	}
	return res.Response.Content(), nil
}

// ComplexReasoning runs a multi-step reasoning prompt. maxTokens <= 0 uses
// ReasoningMaxTokens.
func (r *Router) ComplexReasoning(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error) {
	maxTokens = orDefault(maxTokens, ReasoningMaxTokens)
	res, err := r.CreateCompletion(ctx, []llm.Message{llm.UserMessage(prompt)}, Options{
		Complexity:   Complexity{RequiresReasoning: true, MaxTokens: maxTokens},
		RouteType:    RouteComplex,
		MaxTokens:    maxTokens,
		Temperature:  Float32(ReasoningTemperature),
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", err
	}
	return res.Response.Content(), nil
}

// CreativeTask generates creative text at a fixed high temperature.
// maxTokens <= 0 uses CreativeMaxTokens.
func (r *Router) CreativeTask(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error) {
	maxTokens = orDefault(maxTokens, CreativeMaxTokens)
	res, err := r.CreateCompletion(ctx, []llm.Message{llm.UserMessage(prompt)}, Options{
		Complexity:   Complexity{IsCreative: true, MaxTokens: maxTokens},
		RouteType:    RouteCreative,
		MaxTokens:    maxTokens,
		Temperature:  Float32(CreativeTemperature),
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", err
	}
	return res.Response.Content(), nil
}

// StreamingCompletion streams a reasoning completion, calling onChunk for each
// non-empty fragment in arrival order. It returns after the terminal event.
//
// Only opening the stream is covered by the fallback. If the stream fails
// after it started, that error is returned as-is. If the fallback served the
// request, its whole content is delivered as a single chunk.
func (r *Router) StreamingCompletion(ctx context.Context, prompt string, onChunk func(string)) error {
	return r.StreamingCompletionWithSystem(ctx, prompt, "", onChunk)
}

// StreamingCompletionWithSystem is StreamingCompletion with a system prompt.
func (r *Router) StreamingCompletionWithSystem(ctx context.Context, prompt, systemPrompt string, onChunk func(string)) error {
	if onChunk == nil {
		return fmt.Errorf("%w: nil chunk handler", ErrInvalidRequest)
	}

	res, err := r.CreateCompletion(ctx, []llm.Message{llm.UserMessage(prompt)}, Options{
		Complexity:   Complexity{RequiresReasoning: true, MaxTokens: StreamingMaxTokens},
		RouteType:    RouteComplex,
		MaxTokens:    StreamingMaxTokens,
		Stream:       true,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return err
	}

	if res.Stream == nil {
		if content := res.Response.Content(); content != "" {
			onChunk(content)
		}
		return nil
	}
	return Drain(res.Stream, onChunk)
}

// Drain reads stream until its terminal event, passing non-empty fragments
// to onChunk, and closes it.
func Drain(stream llm.Stream, onChunk func(string)) error {
	defer func() { _ = stream.Close() }()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream interrupted: %w", err)
		}
		if chunk.Content != "" {
			onChunk(chunk.Content)
		}
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
