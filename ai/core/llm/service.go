package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request is a single chat completion call against one model.
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int
	// Temperature is sent as given; zero requests deterministic output.
	Temperature float32
	Stream      bool
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one candidate completion.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Response is a non-streaming completion as returned by the backend.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Content returns the message content of the first choice, or "" when absent.
func (r *Response) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Chunk is one incremental streaming event.
type Chunk struct {
	Content      string
	FinishReason string
}

// Stream yields chunks until Recv returns io.EOF on the terminal event.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Backend is a chat completion endpoint.
type Backend interface {
	// CreateChatCompletion performs a blocking completion. req.Stream is ignored.
	CreateChatCompletion(ctx context.Context, req Request) (*Response, error)

	// CreateChatCompletionStream opens a streaming completion.
	CreateChatCompletionStream(ctx context.Context, req Request) (Stream, error)
}

// Service is the OpenAI-compatible Backend with connection warmup.
type Service interface {
	Backend

	// Warmup sends a lightweight ping request to establish and warm up the connection.
	Warmup(ctx context.Context, model string)
}

// Config represents LLM service configuration.
type Config struct {
	Provider string // openai, deepseek, siliconflow, zai, dashscope, openrouter, ollama
	APIKey   string
	BaseURL  string
	// Timeout bounds a blocking call, in seconds (default: 120). Streams are
	// only bounded by it until response headers arrive; after that the
	// caller's context decides how long they may run.
	Timeout int
}

// providerBaseURLs are used when Config.BaseURL is empty.
var providerBaseURLs = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"deepseek":    "https://api.deepseek.com",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"zai":         "https://open.bigmodel.cn/api/paas/v4",
	"dashscope":   "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"openrouter":  "https://openrouter.ai/api/v1",
	"ollama":      "http://localhost:11434/v1",
}

type service struct {
	client       *openai.Client
	streamClient *openai.Client
	provider     string
}

// NewService creates a new LLM Service.
func NewService(cfg *Config) (Service, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		defaultURL, ok := providerBaseURLs[provider]
		if !ok {
			return nil, fmt.Errorf("base URL required for provider %q", provider)
		}
		baseURL = defaultURL
	}
	if _, ok := providerBaseURLs[provider]; !ok {
		slog.Info("Using generic OpenAI-compatible provider", "provider", provider, "base_url", baseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = newHTTPClient(time.Duration(timeout) * time.Second)

	streamConfig := clientConfig
	streamConfig.HTTPClient = newStreamHTTPClient(time.Duration(timeout) * time.Second)

	return &service{
		client:       openai.NewClientWithConfig(clientConfig),
		streamClient: openai.NewClientWithConfig(streamConfig),
		provider:     provider,
	}, nil
}

func (s *service) CreateChatCompletion(ctx context.Context, req Request) (*Response, error) {
	slog.Debug("LLM: Chat request",
		"provider", s.provider,
		"model", req.Model,
		"messages_count", len(req.Messages),
		"max_tokens", req.MaxTokens,
	)

	startTime := time.Now()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: wireTemperature(req.Temperature),
		Messages:    convertMessages(req.Messages),
	})
	if err != nil {
		return nil, classify(err)
	}

	slog.Debug("LLM: Chat response received",
		"model", resp.Model,
		"choices", len(resp.Choices),
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return convertResponse(resp), nil
}

func (s *service) CreateChatCompletionStream(ctx context.Context, req Request) (Stream, error) {
	slog.Debug("LLM ChatStream starting", "provider", s.provider, "model", req.Model, "messages", len(req.Messages))

	stream, err := s.streamClient.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: wireTemperature(req.Temperature),
		Messages:    convertMessages(req.Messages),
		Stream:      true,
	})
	if err != nil {
		return nil, classify(err)
	}
	return &openaiStream{stream: stream}, nil
}

func (s *service) Warmup(ctx context.Context, model string) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("LLM: starting connection warmup",
		"provider", s.provider,
		"model", model,
	)

	startTime := time.Now()

	_, err := s.client.CreateChatCompletion(warmupCtx, openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	})

	duration := time.Since(startTime)

	if err != nil {
		slog.Warn("LLM: warmup ping failed (service will still work, first request may be slower)",
			"provider", s.provider,
			"model", model,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
		return
	}

	slog.Info("LLM: connection warmed up successfully",
		"provider", s.provider,
		"model", model,
		"duration_ms", duration.Milliseconds(),
	)
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (Chunk, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Chunk{}, io.EOF
			}
			return Chunk{}, classify(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		return Chunk{
			Content:      resp.Choices[0].Delta.Content,
			FinishReason: string(resp.Choices[0].FinishReason),
		}, nil
	}
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

func convertResponse(resp openai.ChatCompletionResponse) *Response {
	out := &Response{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.Created,
		Choices: make([]Choice, len(resp.Choices)),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for i, c := range resp.Choices {
		out.Choices[i] = Choice{
			Index:        c.Index,
			Message:      Message{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: string(c.FinishReason),
		}
	}
	return out
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		switch m.Role {
		case RoleSystem:
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			}
		case RoleAssistant:
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
		default:
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			}
		}
	}
	return llmMessages
}

// wireTemperature keeps an explicit zero on the wire. go-openai drops a zero
// temperature via omitempty, which providers read as their default (1.0).
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// newStreamHTTPClient has no overall deadline, so reading the event stream
// is limited by the request context only.
func newStreamHTTPClient(timeout time.Duration) *http.Client {
	transport := newTransport()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Helper for creating system prompts.
func SystemPrompt(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Helper for creating user messages.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Helper for creating assistant messages.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// WithSystemPrompt prepends a system message when systemPrompt is non-empty.
// The input slice is never modified.
func WithSystemPrompt(systemPrompt string, messages []Message) []Message {
	if systemPrompt == "" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, SystemPrompt(systemPrompt))
	return append(out, messages...)
}
