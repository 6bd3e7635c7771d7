package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/edgecore/engined/internal/agent"
	"github.com/edgecore/engined/internal/intent"
	"github.com/edgecore/engined/internal/llm"
	"github.com/edgecore/engined/internal/store"
)

type fakeStore struct {
	turns []*store.Memory
	err   error
}

func (f *fakeStore) RecentMemory(ctx context.Context, userID, chatID int64, limit int) ([]*store.Memory, error) {
	return f.turns, f.err
}

type fakeMemory struct {
	block     string
	blockErr  error
	recorded  []string
	recordErr error
}

func (f *fakeMemory) RecordTurn(ctx context.Context, userID, chatID int64, role store.MemoryRole, content string) error {
	f.recorded = append(f.recorded, string(role)+":"+content)
	return f.recordErr
}

func (f *fakeMemory) Block(ctx context.Context, userID, chatID int64) (string, error) {
	return f.block, f.blockErr
}

type fakeRouter struct {
	result intent.Result
}

func (f *fakeRouter) Classify(ctx context.Context, userID int64, taskID, message, lastAssistantTurn, memoryBlock string) intent.Result {
	return f.result
}

type fakeCompleter struct {
	resp *llm.Response
	err  error
}

func (f *fakeCompleter) Complete(ctx context.Context, userID int64, req llm.Request) (*llm.Response, error) {
	return f.resp, f.err
}

type noopTools struct{}

func (noopTools) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return "", nil
}

type noopSkills struct{}

func (noopSkills) ExecuteSkill(ctx context.Context, userID, chatID int64, name string, args map[string]any) (string, error) {
	return "", nil
}

func newHandler(router Router, completer Completer, mem *fakeMemory) *AskHandler {
	return New(&fakeStore{}, mem, router, completer, noopTools{}, noopSkills{}, agent.DefaultConfig(), nil, nil, nil)
}

func newTask(text string) *store.Task {
	payload, _ := json.Marshal(askPayload{Text: text})
	return &store.Task{ID: "t1", UserID: 1, ChatID: 100, Kind: store.TaskKindAsk, Payload: payload}
}

// respondAction builds a planner output that the agent runtime parses
// as an immediate respond action, so act/chat_act tests can drive the
// real *agent.Runtime without a network call.
func respondAction(content string) *llm.Response {
	raw, _ := json.Marshal(map[string]string{"type": "respond", "content": content})
	return &llm.Response{Text: string(raw)}
}

func failAction() *llm.Response {
	return &llm.Response{Text: "not json at all"}
}

func TestHandle_ChatMode_CallsCompleterDirectly(t *testing.T) {
	router := &fakeRouter{result: intent.Result{Mode: intent.ModeChat, ResolvedIntent: "hello"}}
	completer := &fakeCompleter{resp: &llm.Response{Text: "hi there"}}
	mem := &fakeMemory{block: "ctx"}
	h := newHandler(router, completer, mem)

	out, err := h.Handle(context.Background(), newTask("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res askResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Text != "hi there" {
		t.Fatalf("text = %q, want %q", res.Text, "hi there")
	}
	if len(mem.recorded) != 2 {
		t.Fatalf("expected 2 recorded turns, got %d", len(mem.recorded))
	}
}

func TestHandle_AskClarify_ReturnsCannedQuestion(t *testing.T) {
	router := &fakeRouter{result: intent.Result{Mode: intent.ModeAskClarify}}
	h := newHandler(router, &fakeCompleter{}, &fakeMemory{})

	out, err := h.Handle(context.Background(), newTask("do the thing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res askResult
	json.Unmarshal(out, &res)
	if res.Text == "" {
		t.Fatal("expected non-empty clarifying response")
	}
}

func TestHandle_ActMode_RunsRuntimeAndReturnsContent(t *testing.T) {
	router := &fakeRouter{result: intent.Result{Mode: intent.ModeAct, ResolvedIntent: "do the thing"}}
	completer := &fakeCompleter{resp: respondAction("done")}
	h := newHandler(router, completer, &fakeMemory{})

	out, err := h.Handle(context.Background(), newTask("do the thing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res askResult
	json.Unmarshal(out, &res)
	if res.Text != "done" {
		t.Fatalf("text = %q, want %q", res.Text, "done")
	}
}

func TestHandle_ActModeFailure_SurfacesAsTaskError(t *testing.T) {
	router := &fakeRouter{result: intent.Result{Mode: intent.ModeAct, ResolvedIntent: "do the thing"}}
	completer := &fakeCompleter{resp: failAction()}
	h := newHandler(router, completer, &fakeMemory{})

	_, err := h.Handle(context.Background(), newTask("do the thing"))
	if err == nil {
		t.Fatal("expected error from failed act outcome")
	}
}

func TestHandle_ChatActMode_RunsRuntime(t *testing.T) {
	router := &fakeRouter{result: intent.Result{Mode: intent.ModeChatAct, ResolvedIntent: "chat then act"}}
	completer := &fakeCompleter{resp: respondAction("handled")}
	h := newHandler(router, completer, &fakeMemory{})

	out, err := h.Handle(context.Background(), newTask("chat then act"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res askResult
	json.Unmarshal(out, &res)
	if res.Text != "handled" {
		t.Fatalf("text = %q, want %q", res.Text, "handled")
	}
}

func TestHandle_InvalidPayload_ReturnsError(t *testing.T) {
	h := newHandler(&fakeRouter{}, &fakeCompleter{}, &fakeMemory{})
	task := &store.Task{ID: "t1", UserID: 1, ChatID: 100, Payload: json.RawMessage(`not json`)}

	_, err := h.Handle(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestHandle_UsesLastAssistantTurnForAnchoring(t *testing.T) {
	turns := []*store.Memory{
		{Role: store.MemoryRoleUser, Content: "first"},
		{Role: store.MemoryRoleAssistant, Content: "earlier reply"},
		{Role: store.MemoryRoleUser, Content: "second"},
	}
	var captured string
	router := &capturingRouter{fn: func(lastAssistantTurn string) intent.Result {
		captured = lastAssistantTurn
		return intent.Result{Mode: intent.ModeChat, ResolvedIntent: "second"}
	}}
	h := New(&fakeStore{turns: turns}, &fakeMemory{}, router, &fakeCompleter{resp: &llm.Response{Text: "ok"}}, noopTools{}, noopSkills{}, agent.DefaultConfig(), nil, nil, nil)

	_, err := h.Handle(context.Background(), newTask("second"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured != "earlier reply" {
		t.Fatalf("lastAssistantTurn = %q, want %q", captured, "earlier reply")
	}
}

type capturingRouter struct {
	fn func(lastAssistantTurn string) intent.Result
}

func (c *capturingRouter) Classify(ctx context.Context, userID int64, taskID, message, lastAssistantTurn, memoryBlock string) intent.Result {
	return c.fn(lastAssistantTurn)
}
