package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/edgecore/engined/internal/store"
)

var errSkillFailed = errors.New("skill subprocess exited nonzero")

type fakeSkillExecutor struct {
	text string
	err  error
}

func (f *fakeSkillExecutor) ExecuteSkill(ctx context.Context, userID, chatID int64, name string, args map[string]any) (string, error) {
	return f.text, f.err
}

type recordingAuditLogger struct {
	entries []string
}

func (r *recordingAuditLogger) Log(userID *int64, action store.AuditAction, detail any, errText string) {
	r.entries = append(r.entries, string(action))
}

func TestRunSkillHandler_Success(t *testing.T) {
	audit := &recordingAuditLogger{}
	h := NewRunSkillHandler(&fakeSkillExecutor{text: "done"}, audit, nil)
	payload, _ := json.Marshal(runSkillPayload{SkillName: "notify", Args: map[string]any{"msg": "hi"}})
	task := &store.Task{ID: "t1", UserID: 1, ChatID: 100, Kind: store.TaskKindRunSkill, Payload: payload}

	out, err := h.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res runSkillResult
	json.Unmarshal(out, &res)
	if res.Text != "done" {
		t.Fatalf("text = %q, want %q", res.Text, "done")
	}
	if len(audit.entries) != 1 || audit.entries[0] != string(store.ActionRunSkill) {
		t.Fatalf("expected one run_skill audit entry, got %v", audit.entries)
	}
}

func TestRunSkillHandler_MissingSkillName(t *testing.T) {
	h := NewRunSkillHandler(&fakeSkillExecutor{}, nil, nil)
	payload, _ := json.Marshal(runSkillPayload{})
	task := &store.Task{ID: "t1", UserID: 1, ChatID: 100, Payload: payload}

	_, err := h.Handle(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for missing skill_name")
	}
}

func TestRunSkillHandler_PropagatesSkillError(t *testing.T) {
	audit := &recordingAuditLogger{}
	h := NewRunSkillHandler(&fakeSkillExecutor{err: errSkillFailed}, audit, nil)
	payload, _ := json.Marshal(runSkillPayload{SkillName: "flaky"})
	task := &store.Task{ID: "t1", UserID: 1, ChatID: 100, Payload: payload}

	_, err := h.Handle(context.Background(), task)
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected audit entry even on failure, got %v", audit.entries)
	}
}
