package tools

import (
	"context"
	"testing"

	"github.com/edgecore/engined/internal/store"
)

type recordingAudit struct {
	actions []store.AuditAction
	details []any
}

func (r *recordingAudit) Log(userID *int64, action store.AuditAction, detail any, errText string) {
	r.actions = append(r.actions, action)
	r.details = append(r.details, detail)
}

func TestExecuteTool_ReadWriteRoundTrip(t *testing.T) {
	tl, _ := newTestTools(t)
	audit := &recordingAudit{}
	tl.audit = audit

	ctx := context.Background()
	if _, err := tl.ExecuteTool(ctx, "write_file", map[string]any{"path": "a.txt", "content": "payload"}); err != nil {
		t.Fatalf("write_file failed: %v", err)
	}
	result, err := tl.ExecuteTool(ctx, "read_file", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("read_file failed: %v", err)
	}
	if result != "payload" {
		t.Errorf("result = %q", result)
	}
	if len(audit.actions) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(audit.actions))
	}
	for _, a := range audit.actions {
		if a != store.ActionRunTool {
			t.Errorf("audit action = %q, want %q", a, store.ActionRunTool)
		}
	}
}

func TestExecuteTool_UnknownToolErrors(t *testing.T) {
	tl, _ := newTestTools(t)
	if _, err := tl.ExecuteTool(context.Background(), "delete_everything", nil); err == nil {
		t.Fatal("expected unknown tool to error")
	}
}

func TestRedactArgsMasksWriteFileContent(t *testing.T) {
	redacted := redactArgs("write_file", map[string]any{"path": "a.txt", "content": "secret stuff"})
	if redacted["path"] != "a.txt" {
		t.Errorf("path = %v, want unchanged", redacted["path"])
	}
	s, ok := redacted["content"].(string)
	if !ok || s == "secret stuff" {
		t.Errorf("content not redacted: %v", redacted["content"])
	}
}

func TestRedactArgsLeavesOtherToolsAlone(t *testing.T) {
	redacted := redactArgs("run_cmd", map[string]any{"command": "echo hi"})
	if redacted["command"] != "echo hi" {
		t.Errorf("command = %v, want unchanged", redacted["command"])
	}
}

func TestSpecsCarrySchemas(t *testing.T) {
	specs := Specs()
	if len(specs) != 4 {
		t.Fatalf("got %d specs, want 4", len(specs))
	}
	for _, s := range specs {
		if len(s.Schema) == 0 {
			t.Errorf("tool %s has no schema", s.Name)
		}
	}
}

func TestWithUserIDRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), 42)
	id := userIDFromContext(ctx)
	if id == nil || *id != 42 {
		t.Fatalf("userIDFromContext = %v, want 42", id)
	}
}

func TestUserIDFromContextAbsent(t *testing.T) {
	if id := userIDFromContext(context.Background()); id != nil {
		t.Errorf("expected nil user id, got %v", *id)
	}
}
