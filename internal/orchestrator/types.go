// Package orchestrator wires the intent router, memory engine, and
// agent runtime into the task handler the worker pool dispatches
// "ask" tasks to: classify the message, answer directly for chat
// turns, or drive the planner loop for act/chat_act turns, recording
// every turn into memory along the way.
package orchestrator

import (
	"context"

	"github.com/edgecore/engined/internal/agent"
	"github.com/edgecore/engined/internal/intent"
	"github.com/edgecore/engined/internal/llm"
	"github.com/edgecore/engined/internal/store"
)

// Store is the narrow read surface the handler needs directly, to
// anchor the router's context resolver on the most recent assistant
// turn; satisfied by *store.Store.
type Store interface {
	RecentMemory(ctx context.Context, userID, chatID int64, limit int) ([]*store.Memory, error)
}

// MemoryEngine is the memory surface the handler writes turns to and
// reads the assembled context block from; satisfied by *memory.Engine.
type MemoryEngine interface {
	RecordTurn(ctx context.Context, userID, chatID int64, role store.MemoryRole, content string) error
	Block(ctx context.Context, userID, chatID int64) (string, error)
}

// Router classifies a resolved message into a dispatch mode;
// satisfied by *intent.Router.
type Router interface {
	Classify(ctx context.Context, userID int64, taskID, message, lastAssistantTurn, memoryBlock string) intent.Result
}

// Completer is the gateway surface used for direct chat replies;
// satisfied by *llm.Gateway.
type Completer interface {
	Complete(ctx context.Context, userID int64, req llm.Request) (*llm.Response, error)
}

// ToolExecutor runs one named built-in tool to completion; satisfied
// by *tools.Tools.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// SkillExecutor runs one named skill to completion, scoped to the
// submitting user/chat; satisfied by *skills.Dispatcher.
type SkillExecutor interface {
	ExecuteSkill(ctx context.Context, userID, chatID int64, name string, args map[string]any) (string, error)
}

// AuditLogger is the minimal audit surface handlers in this package
// write to directly, for actions the pool itself is agnostic to.
type AuditLogger interface {
	Log(userID *int64, action store.AuditAction, detail any, errText string)
}

// UserStore is the narrow user surface the admin handler needs to
// authorize and mutate accounts; satisfied by *store.Store.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	SetUserAllowListed(ctx context.Context, id int64, allowed bool) error
	SetUserRole(ctx context.Context, id int64, role store.Role) error
}
