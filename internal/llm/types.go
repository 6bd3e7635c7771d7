// Package llm implements the uniform LLM provider gateway: a single
// request/response contract over pluggable vendor backends, with
// priority-ordered fallback, retry, and per-provider/per-user
// concurrency caps.
package llm

import (
	"context"
	"time"
)

// Role is the speaker of one message in a Request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one ordered entry in a Request's conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the vendor-agnostic shape every provider accepts.
type Request struct {
	Messages    []Message      `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	// Metadata carries audit-correlation fields (task id, user id) that
	// never reach the vendor wire format.
	Metadata map[string]string `json:"-"`
}

// FinishReason classifies why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCall  FinishReason = "tool_call"
	FinishUnknown   FinishReason = "unknown"
)

// Usage reports token accounting, when the vendor provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is the vendor-agnostic shape every provider returns on success.
type Response struct {
	Text         string       `json:"text"`
	Usage        *Usage       `json:"usage,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	Latency      time.Duration `json:"-"`
}

// Provider is one pluggable vendor backend behind the gateway.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (*Response, error)
}
