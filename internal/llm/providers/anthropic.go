package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/edgecore/engined/internal/llm"
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Anthropic wraps the Claude API behind the gateway's uniform Provider
// interface. Unlike the teacher's streaming-first provider, this engine
// has no streaming surface (spec.md §1 Non-goals), so it calls the
// non-streaming Messages.New endpoint directly.
type Anthropic struct {
	name    string
	client  anthropic.Client
	model   string
	retrier BaseRetrier
}

// NewAnthropic builds an Anthropic-backed Provider.
func NewAnthropic(name string, cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: anthropic api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Anthropic{
		name:    name,
		client:  client,
		model:   cfg.DefaultModel,
		retrier: NewBaseRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *Anthropic) Name() string  { return p.name }
func (p *Anthropic) Model() string { return p.model }

// Complete sends req to Claude, retrying same-provider on transport
// errors and classifying any other failure for the gateway's fallback
// chain to act on.
func (p *Anthropic) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}

	var system strings.Builder
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if system.Len() > 0 {
		params.System = []anthropic.TextBlockParam{{Text: system.String()}}
	}
	params.Messages = messages

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	var msg *anthropic.Message
	start := time.Now()
	err := p.retrier.Retry(ctx, isTransportError, func() error {
		m, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return classifyAnthropicError(p.name, p.model, err)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb := block.AsText(); tb.Text != "" {
			text.WriteString(tb.Text)
		}
	}

	return &llm.Response{
		Text:         text.String(),
		Provider:     p.name,
		Model:        p.model,
		Latency:      time.Since(start),
		FinishReason: anthropicFinishReason(string(msg.StopReason)),
		Usage: &llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}

func anthropicFinishReason(stopReason string) llm.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return llm.FinishStop
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolCall
	default:
		return llm.FinishUnknown
	}
}

func isTransportError(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == FailureTransportError
}

func classifyAnthropicError(provider, model string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return New(ClassifyStatus(apiErr.StatusCode), provider, model, apiErr.StatusCode, err)
	}
	return New(FailureTransportError, provider, model, 0, err)
}
