package agent

import (
	"context"
	"fmt"
	"testing"
)

type scriptedPlanner struct {
	outputs []string
	calls   int
}

func (p *scriptedPlanner) Plan(ctx context.Context, req PlanRequest) (string, error) {
	if p.calls >= len(p.outputs) {
		return `{"type":"respond","content":"done"}`, nil
	}
	out := p.outputs[p.calls]
	p.calls++
	return out, nil
}

type stubTools struct {
	result string
	err    error
	calls  int
}

func (s *stubTools) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.calls++
	return s.result, s.err
}

type stubSkills struct{ calls int }

func (s *stubSkills) ExecuteSkill(ctx context.Context, userID, chatID int64, name string, args map[string]any) (string, error) {
	s.calls++
	return "skill ok", nil
}

func TestRuntime_RespondTerminatesImmediately(t *testing.T) {
	planner := &scriptedPlanner{outputs: []string{`{"type":"respond","content":"hello there"}`}}
	rt := New(planner, &stubTools{}, &stubSkills{}, DefaultConfig(), nil, 1, 100)

	out := rt.Run(context.Background(), "say hi", nil, nil, "")
	if !out.Respond || out.Content != "hello there" {
		t.Fatalf("out = %+v, want respond=hello there", out)
	}
}

func TestRuntime_ToolCallThenRespond(t *testing.T) {
	planner := &scriptedPlanner{outputs: []string{
		`{"type":"call_tool","tool":"read_file","args":{"path":"a.txt"}}`,
		`{"type":"respond","content":"read it"}`,
	}}
	tools := &stubTools{result: "file contents"}
	rt := New(planner, tools, &stubSkills{}, DefaultConfig(), nil, 1, 100)

	out := rt.Run(context.Background(), "read a file", []ToolSpec{{Name: "read_file"}}, nil, "")
	if !out.Respond || out.Content != "read it" {
		t.Fatalf("out = %+v", out)
	}
	if tools.calls != 1 {
		t.Errorf("tool calls = %d, want 1", tools.calls)
	}

	var sawObservation bool
	for _, s := range out.Trajectory {
		if s.Kind == StepObservation && s.Result == "file contents" {
			sawObservation = true
		}
	}
	if !sawObservation {
		t.Error("expected an observation step carrying the tool result")
	}
}

func TestRuntime_StepLimitExceeded(t *testing.T) {
	outputs := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		outputs = append(outputs, `{"type":"think","content":"still thinking"}`)
	}
	planner := &scriptedPlanner{outputs: outputs}
	cfg := DefaultConfig()
	cfg.StepLimit = 3
	rt := New(planner, &stubTools{}, &stubSkills{}, cfg, nil, 1, 100)

	out := rt.Run(context.Background(), "loop forever", nil, nil, "")
	if out.Respond {
		t.Fatal("expected failure, not a response")
	}
	if out.Error != stepLimitMessage {
		t.Errorf("error = %q, want %q", out.Error, stepLimitMessage)
	}
}

func TestRuntime_RepeatedActionGuard(t *testing.T) {
	action := `{"type":"call_tool","tool":"list_dir","args":{"path":"."}}`
	outputs := []string{action, action, action, action, action}
	planner := &scriptedPlanner{outputs: outputs}
	cfg := DefaultConfig()
	cfg.DupLimit = 3
	cfg.StepLimit = 20
	rt := New(planner, &stubTools{result: "same every time"}, &stubSkills{}, cfg, nil, 1, 100)

	out := rt.Run(context.Background(), "list repeatedly", nil, nil, "")
	if out.Respond {
		t.Fatal("expected failure")
	}
	if out.Error != duplicateActionMessage {
		t.Errorf("error = %q, want %q", out.Error, duplicateActionMessage)
	}
}

func TestRuntime_MalformedOutputRetriesThenFails(t *testing.T) {
	planner := &scriptedPlanner{outputs: []string{"not json", "still not json", "nope"}}
	cfg := DefaultConfig()
	cfg.ParseRetryLimit = 2
	rt := New(planner, &stubTools{}, &stubSkills{}, cfg, nil, 1, 100)

	out := rt.Run(context.Background(), "confuse the planner", nil, nil, "")
	if out.Respond {
		t.Fatal("expected failure after exhausting parse retries")
	}
	if planner.calls != 3 {
		t.Errorf("planner calls = %d, want 3 (1 + 2 retries)", planner.calls)
	}
}

func TestRuntime_MalformedOutputRecoversWithinBudget(t *testing.T) {
	planner := &scriptedPlanner{outputs: []string{"not json", `{"type":"respond","content":"recovered"}`}}
	rt := New(planner, &stubTools{}, &stubSkills{}, DefaultConfig(), nil, 1, 100)

	out := rt.Run(context.Background(), "recover", nil, nil, "")
	if !out.Respond || out.Content != "recovered" {
		t.Fatalf("out = %+v", out)
	}
}

func TestRuntime_SkillCall(t *testing.T) {
	planner := &scriptedPlanner{outputs: []string{
		`{"type":"call_skill","skill":"weather","args":{"city":"prague"}}`,
		`{"type":"respond","content":"it is sunny"}`,
	}}
	skills := &stubSkills{}
	rt := New(planner, &stubTools{}, skills, DefaultConfig(), nil, 1, 100)

	out := rt.Run(context.Background(), "weather", nil, []ToolSpec{{Name: "weather"}}, "")
	if !out.Respond {
		t.Fatalf("out = %+v", out)
	}
	if skills.calls != 1 {
		t.Errorf("skill calls = %d, want 1", skills.calls)
	}
}

func TestActionFingerprint_OrderIndependent(t *testing.T) {
	a := actionFingerprint(StepCallTool, "run_cmd", map[string]any{"a": 1, "b": 2})
	b := actionFingerprint(StepCallTool, "run_cmd", map[string]any{"b": 2, "a": 1})
	if a != b {
		t.Errorf("fingerprints differ for reordered args: %s vs %s", a, b)
	}
}

func TestActionFingerprint_DifferentArgsDiffer(t *testing.T) {
	a := actionFingerprint(StepCallTool, "run_cmd", map[string]any{"a": 1})
	b := actionFingerprint(StepCallTool, "run_cmd", map[string]any{"a": 2})
	if a == b {
		t.Error("expected different fingerprints for different args")
	}
}

func TestParseAction_ExtractsFromSurroundingProse(t *testing.T) {
	raw := fmt.Sprintf("Sure, here is my action: %s -- done", `{"type":"think","content":"ok"}`)
	action, err := parseAction(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Type != ActionThink {
		t.Errorf("type = %q, want think", action.Type)
	}
}

func TestParseAction_RejectsUnknownType(t *testing.T) {
	_, err := parseAction(`{"type":"explode","content":"boom"}`)
	if err == nil {
		t.Fatal("expected error for unrecognized action type")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate should not alter short strings: %q", got)
	}
	long := "0123456789abcdef"
	got := truncate(long, 5)
	if got != "01234...[truncated]" {
		t.Errorf("truncate(%q, 5) = %q", long, got)
	}
}
