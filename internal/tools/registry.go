package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgecore/engined/internal/agent"
	"github.com/edgecore/engined/internal/config"
	"github.com/edgecore/engined/internal/store"
)

// AuditLogger is the narrow audit seam the registry writes to; an
// *audit.Logger satisfies it.
type AuditLogger interface {
	Log(userID *int64, action store.AuditAction, detail any, errText string)
}

// Tools dispatches the four built-in tools (read_file, write_file,
// list_dir, run_cmd) and implements agent.ToolExecutor.
type Tools struct {
	cfg   config.ToolsConfig
	files resolver
	audit AuditLogger
}

// New builds a Tools dispatcher scoped to cfg.WorkRoot.
func New(cfg config.ToolsConfig, audit AuditLogger) *Tools {
	return &Tools{cfg: cfg, files: newResolver(cfg.WorkRoot), audit: audit}
}

// Specs describes the four built-ins for the planner's tool list,
// including the JSON Schema the agent runtime validates call_tool args
// against before dispatch.
func Specs() []agent.ToolSpec {
	return []agent.ToolSpec{
		{
			Name:        "read_file",
			Description: "Read a text file under the work root.",
			Schema:      mustSchema(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		},
		{
			Name:        "write_file",
			Description: "Write a text file under the work root, creating parent directories as needed.",
			Schema:      mustSchema(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
		},
		{
			Name:        "list_dir",
			Description: "List entries under a directory in the work root.",
			Schema:      mustSchema(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		},
		{
			Name:        "run_cmd",
			Description: "Run a shell command with a wall-clock timeout and captured output.",
			Schema:      mustSchema(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`),
		},
	}
}

func mustSchema(s string) json.RawMessage { return json.RawMessage(s) }

// ExecuteTool implements agent.ToolExecutor, auditing every call with
// arguments redacted per policy (write_file's content is replaced by its
// byte count; paths and command text are logged as given).
func (t *Tools) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	userID := userIDFromContext(ctx)
	result, err := t.dispatch(ctx, name, args)

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if t.audit != nil {
		t.audit.Log(userID, store.ActionRunTool, redactArgs(name, args), errText)
	}
	return result, err
}

func (t *Tools) dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "read_file":
		path, ok := args["path"].(string)
		if !ok {
			return "", fmt.Errorf("read_file: path is required")
		}
		return t.ReadFile(path)

	case "write_file":
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		if path == "" {
			return "", fmt.Errorf("write_file: path is required")
		}
		n, err := t.WriteFile(path, content)
		if err != nil {
			return "", err
		}
		payload, _ := json.Marshal(map[string]any{"bytes_written": n})
		return string(payload), nil

	case "list_dir":
		path, ok := args["path"].(string)
		if !ok {
			return "", fmt.Errorf("list_dir: path is required")
		}
		entries, err := t.ListDir(path)
		if err != nil {
			return "", err
		}
		payload, err := json.Marshal(entries)
		if err != nil {
			return "", err
		}
		return string(payload), nil

	case "run_cmd":
		command, ok := args["command"].(string)
		if !ok {
			return "", fmt.Errorf("run_cmd: command is required")
		}
		result, err := t.RunCmd(ctx, command)
		if err != nil {
			return "", err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(payload), nil

	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

// redactArgs replaces large or free-form argument values with a
// length-only placeholder before writing to the audit log. path and
// command (the part a reviewer actually needs to see) are kept intact.
func redactArgs(tool string, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if tool == "write_file" && k == "content" {
			if s, ok := v.(string); ok {
				out[k] = fmt.Sprintf("<%d bytes redacted>", len(s))
				continue
			}
		}
		out[k] = v
	}
	return out
}

type contextKey string

const userIDContextKey contextKey = "engined_user_id"

// WithUserID attaches the acting user's id to ctx for audit attribution.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

func userIDFromContext(ctx context.Context) *int64 {
	v, ok := ctx.Value(userIDContextKey).(int64)
	if !ok {
		return nil
	}
	return &v
}
