// Package intent classifies each incoming user message into exactly one
// of chat, act, chat_act, ask_clarify, via two sequential LLM passes:
// a context resolver that anchors the raw message to a self-contained
// intent, then a mode classifier that maps the resolved intent to a
// dispatch mode. Both passes degrade to deterministic fallback rules
// when the model fails to return valid JSON.
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/edgecore/engined/internal/llm"
	"github.com/edgecore/engined/internal/store"
)

// Mode is the dispatch mode a message resolves to.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeAct        Mode = "act"
	ModeChatAct    Mode = "chat_act"
	ModeAskClarify Mode = "ask_clarify"
)

// AuditLogger is the minimal surface the router needs to record
// fallback activations; satisfied by *audit.Logger.
type AuditLogger interface {
	Log(userID *int64, action store.AuditAction, detail any, errText string)
}

// Completer is the gateway surface the router calls; satisfied by
// *llm.Gateway.
type Completer interface {
	Complete(ctx context.Context, userID int64, req llm.Request) (*llm.Response, error)
}

// Result is the router's final classification plus the resolved,
// self-contained intent text the rest of the pipeline should act on.
type Result struct {
	Mode           Mode
	ResolvedIntent string
	Confidence     float64
	UsedFallback   bool
}

// resolverOutput is the context resolver pass's required JSON shape.
type resolverOutput struct {
	ResolvedUserIntent string  `json:"resolved_user_intent"`
	NeedsClarify       bool    `json:"needs_clarify"`
	Confidence         float64 `json:"confidence"`
	Reason             string  `json:"reason"`
}

// classifierOutput is the router pass's required JSON shape.
type classifierOutput struct {
	ActionSignal    bool `json:"action_signal"`
	NarrationSignal bool `json:"narration_signal"`
}

// Router runs the two-pass classification.
type Router struct {
	llm   Completer
	audit AuditLogger
	log   *slog.Logger
}

// New builds a Router.
func New(completer Completer, audit AuditLogger, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{llm: completer, audit: audit, log: log.With("component", "intent_router")}
}

// Classify resolves message against the prior assistant turn and the
// memory block, then maps the resolution into a dispatch Mode. taskID
// is stamped onto every gateway call this pass makes, for audit
// correlation.
func (r *Router) Classify(ctx context.Context, userID int64, taskID, message, lastAssistantTurn, memoryBlock string) Result {
	resolved, usedResolverFallback := r.resolve(ctx, userID, taskID, message, lastAssistantTurn, memoryBlock)

	if resolved.NeedsClarify {
		r.auditFallback(userID, "context_resolver_needs_clarify", true)
		return Result{
			Mode:           ModeAskClarify,
			ResolvedIntent: resolved.ResolvedUserIntent,
			Confidence:     resolved.Confidence,
			UsedFallback:   usedResolverFallback,
		}
	}

	// A failed resolver pass sends the whole classification down the
	// deterministic path instead of asking the model a second time.
	var cls classifierOutput
	usedClassifierFallback := false
	if usedResolverFallback {
		cls = fallbackClassify(resolved.ResolvedUserIntent)
	} else {
		cls, usedClassifierFallback = r.classify(ctx, userID, taskID, resolved.ResolvedUserIntent)
	}
	usedFallback := usedResolverFallback || usedClassifierFallback

	mode := combine(cls.ActionSignal, cls.NarrationSignal)
	if usedFallback {
		r.auditFallback(userID, "classifier_parse_fallback", true)
	}

	return Result{
		Mode:           mode,
		ResolvedIntent: resolved.ResolvedUserIntent,
		Confidence:     resolved.Confidence,
		UsedFallback:   usedFallback,
	}
}

// combine applies the deterministic signal-combination rule: action and
// narration together escalate to chat_act; action alone is a pure act;
// the absence of an action signal is chat; anything else needing a
// firmer target is surfaced by the caller as ask_clarify beforehand.
func combine(action, narration bool) Mode {
	switch {
	case action && narration:
		return ModeChatAct
	case action:
		return ModeAct
	default:
		return ModeChat
	}
}

func (r *Router) resolve(ctx context.Context, userID int64, taskID, message, lastAssistantTurn, memoryBlock string) (resolverOutput, bool) {
	prompt := resolverPrompt(message, lastAssistantTurn, memoryBlock)
	resp, err := r.llm.Complete(ctx, userID, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: resolverSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens: 300,
		Metadata:  map[string]string{"task_id": taskID},
	})
	if err != nil {
		r.log.Warn("context resolver call failed", "error", err)
		return fallbackResolve(message), true
	}

	var out resolverOutput
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &out); err != nil {
		r.log.Warn("context resolver returned invalid json", "error", err)
		return fallbackResolve(message), true
	}
	if out.ResolvedUserIntent == "" {
		out.ResolvedUserIntent = message
	}
	return out, false
}

func (r *Router) classify(ctx context.Context, userID int64, taskID, resolvedIntent string) (classifierOutput, bool) {
	resp, err := r.llm.Complete(ctx, userID, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifierSystemPrompt},
			{Role: llm.RoleUser, Content: resolvedIntent},
		},
		MaxTokens: 150,
		Metadata:  map[string]string{"task_id": taskID},
	})
	if err != nil {
		r.log.Warn("mode classifier call failed", "error", err)
		return fallbackClassify(resolvedIntent), true
	}

	var out classifierOutput
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &out); err != nil {
		r.log.Warn("mode classifier returned invalid json", "error", err)
		return fallbackClassify(resolvedIntent), true
	}
	return out, false
}

// fallbackResolve handles the deterministic degrade path: short
// follow-ups with no LLM available are treated as unresolved without
// a prior-turn anchor to bind against, since this fallback has none.
func fallbackResolve(message string) resolverOutput {
	trimmed := strings.TrimSpace(message)
	if isShortFollowUp(trimmed) {
		return resolverOutput{ResolvedUserIntent: trimmed, NeedsClarify: true, Reason: "short follow-up with no anchor available in fallback"}
	}
	return resolverOutput{ResolvedUserIntent: trimmed, NeedsClarify: false, Confidence: 0.3}
}

// fallbackClassify uses a crude keyword heuristic when the classifier
// pass can't be reached or the resolver pass already fell back; it never asks for clarification on its own,
// that decision belongs to the resolver pass.
func fallbackClassify(resolvedIntent string) classifierOutput {
	lower := strings.ToLower(resolvedIntent)
	actionWords := []string{"run", "execute", "delete", "create", "schedule", "generate", "edit", "send", "move", "install", "deploy"}
	narrationWords := []string{"explain", "why", "summarize", "describe", "what does", "how does"}

	out := classifierOutput{}
	for _, w := range actionWords {
		if strings.Contains(lower, w) {
			out.ActionSignal = true
			break
		}
	}
	for _, w := range narrationWords {
		if strings.Contains(lower, w) {
			out.NarrationSignal = true
			break
		}
	}
	return out
}

var shortFollowUps = map[string]bool{
	"yes": true, "no": true, "ok": true, "okay": true, "continue": true, "sure": true,
}

func isShortFollowUp(message string) bool {
	if len(message) <= 3 {
		return true
	}
	return shortFollowUps[strings.ToLower(message)]
}

func (r *Router) auditFallback(userID int64, reason string, used bool) {
	if !used || r.audit == nil {
		return
	}
	r.audit.Log(&userID, store.ActionFallback, map[string]string{"reason": reason}, "")
}

// extractJSON trims any leading/trailing prose a model may add around
// the JSON object it was asked to emit exclusively.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

const resolverSystemPrompt = `You resolve a user's latest message into a self-contained intent, anchoring ambiguous or short follow-ups to the most recent assistant question, then the most recent user message, then older memory context, in that priority order. Respond with exactly one JSON object: {"resolved_user_intent": string, "needs_clarify": bool, "confidence": number between 0 and 1, "reason": string}. Set needs_clarify=true only when no anchor can resolve the message.`

const classifierSystemPrompt = `Classify the resolved intent you are given. Respond with exactly one JSON object: {"action_signal": bool, "narration_signal": bool}. action_signal is true when the request demands an external action (running a command, a file operation, image generation or editing, a schedule operation, or invoking a named skill). narration_signal is true when the request explicitly asks for explanation, summary, or reasoning alongside any action.`

func resolverPrompt(message, lastAssistantTurn, memoryBlock string) string {
	var b strings.Builder
	b.WriteString("Latest user message:\n")
	b.WriteString(message)
	if lastAssistantTurn != "" {
		b.WriteString("\n\nMost recent assistant turn:\n")
		b.WriteString(lastAssistantTurn)
	}
	if memoryBlock != "" {
		b.WriteString("\n\nMemory context:\n")
		b.WriteString(memoryBlock)
	}
	return b.String()
}
