package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/edgecore/engined/internal/llm"
)

// OpenAIConfig configures the OpenAI-compatible backend. BaseURL is
// left empty for api.openai.com and set to a local address (e.g.
// "http://127.0.0.1:8080/v1") to target a self-hosted OpenAI-compatible
// server — the expected configuration on a single-board-computer
// deployment running a local model, per SPEC_FULL.md's DOMAIN STACK.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAI wraps the OpenAI chat-completions API (or any compatible
// self-hosted endpoint) behind the gateway's uniform Provider interface.
type OpenAI struct {
	name    string
	client  *openai.Client
	model   string
	retrier BaseRetrier
}

// NewOpenAI builds an OpenAI-backed Provider.
func NewOpenAI(name string, cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("providers: openai api key or base_url is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	return &OpenAI{
		name:    name,
		client:  client,
		model:   cfg.DefaultModel,
		retrier: NewBaseRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *OpenAI) Name() string  { return p.name }
func (p *OpenAI) Model() string { return p.model }

// Complete sends req to the chat-completions endpoint.
func (p *OpenAI) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	var resp openai.ChatCompletionResponse
	start := time.Now()
	err := p.retrier.Retry(ctx, isTransportError, func() error {
		r, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return classifyOpenAIError(p.name, p.model, err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, New(FailureParseError, p.name, p.model, 0, errors.New("empty choices"))
	}

	choice := resp.Choices[0]
	return &llm.Response{
		Text:         choice.Message.Content,
		Provider:     p.name,
		Model:        p.model,
		Latency:      time.Since(start),
		FinishReason: openAIFinishReason(string(choice.FinishReason)),
		Usage: &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func openAIFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCall
	default:
		return llm.FinishUnknown
	}
}

func classifyOpenAIError(provider, model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return New(ClassifyStatus(apiErr.HTTPStatusCode), provider, model, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return New(ClassifyStatus(reqErr.HTTPStatusCode), provider, model, reqErr.HTTPStatusCode, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(FailureTimeout, provider, model, http.StatusGatewayTimeout, err)
	}
	return New(FailureTransportError, provider, model, 0, err)
}
