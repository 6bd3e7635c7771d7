package tools

import (
	"context"
	"strings"
	"testing"
)

func TestRunCmdCapturesOutput(t *testing.T) {
	tl, _ := newTestTools(t)
	result, err := tl.RunCmd(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestRunCmdReportsNonZeroExit(t *testing.T) {
	tl, _ := newTestTools(t)
	result, err := tl.RunCmd(context.Background(), "exit 7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", result.ExitCode)
	}
}

func TestRunCmdTimesOut(t *testing.T) {
	tl, _ := newTestTools(t)
	tl.cfg.CmdTimeoutSecond = 1
	result, err := tl.RunCmd(context.Background(), "sleep 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut to be true")
	}
}

func TestRunCmdRejectsOverLength(t *testing.T) {
	tl, _ := newTestTools(t)
	tl.cfg.MaxCmdLength = 4
	if _, err := tl.RunCmd(context.Background(), "echo hello world"); err == nil {
		t.Fatal("expected over-length command to be rejected")
	}
}

func TestNormalizeCommandStripsTrailingAsk(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ls -la tell me the result", "ls -la"},
		{"ls -la, please tell me the result.", "ls -la"},
		{"cat file.txt and show me the output", "cat file.txt"},
		{"echo hi", "echo hi"},
	}
	for _, c := range cases {
		got := normalizeCommand(c.in)
		if got != c.want {
			t.Errorf("normalizeCommand(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidateCommandRejectsControlChars(t *testing.T) {
	if err := validateCommand("echo hi\nrm -rf /", 4096); err == nil {
		t.Fatal("expected control-char command to be rejected")
	}
}

func TestValidateCommandRejectsEmpty(t *testing.T) {
	if err := validateCommand("", 4096); err == nil {
		t.Fatal("expected empty command to be rejected")
	}
}
