// Package skills dispatches calls to externally registered subprocess
// skills over a one-line JSON-in/JSON-out protocol: spawn the skill
// binary with its name as the first argument, write one request line
// to stdin, read one response line from stdout, enforce a wall-clock
// timeout with a terminate-then-kill grace period, and verify the
// response's request_id matches before trusting it.
package skills

import "encoding/json"

// Request is the single JSON line written to a skill subprocess's stdin.
type Request struct {
	RequestID string          `json:"request_id"`
	UserID    int64           `json:"user_id"`
	ChatID    int64           `json:"chat_id"`
	SkillName string          `json:"skill_name"`
	Args      map[string]any  `json:"args"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// Status is the closed set of outcomes a skill subprocess reports.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Response is the single JSON line read from a skill subprocess's stdout.
type Response struct {
	RequestID string `json:"request_id"`
	Status    Status `json:"status"`
	Text      string `json:"text,omitempty"`
	Buttons   []any  `json:"buttons,omitempty"`
	Extra     any    `json:"extra,omitempty"`
	ErrorText string `json:"error_text,omitempty"`
}

// Outcome classifies how a skill invocation ended, beyond what Response
// alone carries (timeout and transport failure have no Response).
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeMismatch Outcome = "mismatch"
)

// Result is what the dispatcher returns for one invocation.
type Result struct {
	Outcome   Outcome
	Text      string
	Buttons   []any
	Extra     any
	ErrorText string
}

// Entry registers one subprocess skill.
type Entry struct {
	Name          string
	Executable    string
	Args          []string
	TimeoutSecond int
}
