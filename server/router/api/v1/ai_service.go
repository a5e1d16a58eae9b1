package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/shepherd/ai/core/llm"
	"github.com/hrygo/shepherd/ai/routing"
)

// AIService exposes the completion router over HTTP.
type AIService struct {
	Router *routing.Router

	streamSemaphore *semaphore.Weighted
}

type completionRequest struct {
	Messages     []llm.Message      `json:"messages"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	RouteType    string             `json:"route_type,omitempty"`
	MaxTokens    int                `json:"max_tokens,omitempty"`
	Temperature  *float32           `json:"temperature,omitempty"`
	Stream       bool               `json:"stream,omitempty"`
	Complexity   routing.Complexity `json:"complexity"`
}

type completionResponse struct {
	RequestID    string    `json:"request_id"`
	Model        string    `json:"model"`
	Fallback     bool      `json:"fallback"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        llm.Usage `json:"usage"`
}

type promptRequest struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
}

type contentResponse struct {
	Content string `json:"content"`
}

type compactModeRequest struct {
	Enabled *bool `json:"enabled"`
}

type compactModeResponse struct {
	Enabled  bool  `json:"enabled"`
	Previous *bool `json:"previous,omitempty"`
}

// CreateCompletion handles POST /api/v1/ai/completions.
func (s *AIService) CreateCompletion(c echo.Context) error {
	var req completionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}

	opts := routing.Options{
		Complexity:   req.Complexity,
		RouteType:    routing.RouteType(req.RouteType),
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Stream:       req.Stream,
		SystemPrompt: req.SystemPrompt,
	}

	if !req.Stream {
		res, err := s.Router.CreateCompletion(c.Request().Context(), req.Messages, opts)
		if err != nil {
			return writeRoutingError(c, err)
		}
		return c.JSON(http.StatusOK, toCompletionResponse(res))
	}

	if !s.streamSemaphore.TryAcquire(1) {
		return writeError(c, http.StatusTooManyRequests, "too many concurrent streams")
	}
	defer s.streamSemaphore.Release(1)

	res, err := s.Router.CreateCompletion(c.Request().Context(), req.Messages, opts)
	if err != nil {
		return writeRoutingError(c, err)
	}

	sse := newSSEWriter(c)
	if res.Stream == nil {
		if content := res.Response.Content(); content != "" {
			sse.chunk(content)
		}
		return sse.done(res.RequestID, res.Model, res.Fallback)
	}
	if err := routing.Drain(res.Stream, sse.chunk); err != nil {
		return sse.fail(err)
	}
	return sse.done(res.RequestID, res.Model, res.Fallback)
}

// SimpleCompletion handles POST /api/v1/ai/simple.
func (s *AIService) SimpleCompletion(c echo.Context) error {
	req, problem := bindPrompt(c)
	if problem != "" {
		return writeError(c, http.StatusBadRequest, problem)
	}
	content, err := s.Router.SimpleCompletion(c.Request().Context(), req.Prompt, req.MaxTokens)
	if err != nil {
		return writeRoutingError(c, err)
	}
	return c.JSON(http.StatusOK, contentResponse{Content: content})
}

// ComplexReasoning handles POST /api/v1/ai/reasoning.
func (s *AIService) ComplexReasoning(c echo.Context) error {
	req, problem := bindPrompt(c)
	if problem != "" {
		return writeError(c, http.StatusBadRequest, problem)
	}
	content, err := s.Router.ComplexReasoning(c.Request().Context(), req.Prompt, req.SystemPrompt, req.MaxTokens)
	if err != nil {
		return writeRoutingError(c, err)
	}
	return c.JSON(http.StatusOK, contentResponse{Content: content})
}

// CreativeTask handles POST /api/v1/ai/creative.
func (s *AIService) CreativeTask(c echo.Context) error {
	req, problem := bindPrompt(c)
	if problem != "" {
		return writeError(c, http.StatusBadRequest, problem)
	}
	content, err := s.Router.CreativeTask(c.Request().Context(), req.Prompt, req.SystemPrompt, req.MaxTokens)
	if err != nil {
		return writeRoutingError(c, err)
	}
	return c.JSON(http.StatusOK, contentResponse{Content: content})
}

// StreamingCompletion handles POST /api/v1/ai/stream.
func (s *AIService) StreamingCompletion(c echo.Context) error {
	req, problem := bindPrompt(c)
	if problem != "" {
		return writeError(c, http.StatusBadRequest, problem)
	}

	if !s.streamSemaphore.TryAcquire(1) {
		return writeError(c, http.StatusTooManyRequests, "too many concurrent streams")
	}
	defer s.streamSemaphore.Release(1)

	sse := newSSEWriter(c)
	err := s.Router.StreamingCompletionWithSystem(c.Request().Context(), req.Prompt, req.SystemPrompt, sse.chunk)
	if err != nil {
		if !sse.started {
			return writeRoutingError(c, err)
		}
		return sse.fail(err)
	}
	return sse.done(requestID(c), "", false)
}

// GetCompactMode handles GET /api/v1/ai/compact-mode.
func (s *AIService) GetCompactMode(c echo.Context) error {
	return c.JSON(http.StatusOK, compactModeResponse{Enabled: s.Router.CompactMode()})
}

// SetCompactMode handles PUT /api/v1/ai/compact-mode.
func (s *AIService) SetCompactMode(c echo.Context) error {
	var req compactModeRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return writeError(c, http.StatusBadRequest, `body must be {"enabled": true|false}`)
	}
	previous := s.Router.SetCompactMode(*req.Enabled)
	return c.JSON(http.StatusOK, compactModeResponse{Enabled: *req.Enabled, Previous: &previous})
}

// bindPrompt returns the request, or a non-empty message describing why it
// is malformed.
func bindPrompt(c echo.Context) (promptRequest, string) {
	var req promptRequest
	if err := c.Bind(&req); err != nil {
		return req, "invalid request body"
	}
	if req.Prompt == "" {
		return req, "prompt is required"
	}
	if req.MaxTokens < 0 {
		return req, "max_tokens must not be negative"
	}
	return req, ""
}

func toCompletionResponse(res *routing.Result) completionResponse {
	out := completionResponse{
		RequestID: res.RequestID,
		Model:     res.Model,
		Fallback:  res.Fallback,
		Content:   res.Response.Content(),
		Usage:     res.Response.Usage,
	}
	if len(res.Response.Choices) > 0 {
		out.FinishReason = res.Response.Choices[0].FinishReason
	}
	return out
}
