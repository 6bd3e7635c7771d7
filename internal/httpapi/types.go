// Package httpapi exposes the engine's minimal, JSON-only, localhost
// HTTP surface: task submission, status lookup, cancellation, health,
// and a sanitized config snapshot.
package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgecore/engined/internal/store"
)

// TaskSubmitter admits a new task. Satisfied by *tasks.Queue.
type TaskSubmitter interface {
	Submit(ctx context.Context, userID, chatID int64, messageID string, kind store.TaskKind, payload json.RawMessage) (string, error)
	Cancel(ctx context.Context, userID, chatID int64) (canceled, stillRunning []string, err error)
}

// Store is the narrow read surface the HTTP layer needs directly;
// satisfied by *store.Store.
type Store interface {
	GetTask(ctx context.Context, id string) (*store.Task, error)
	CountQueueDepth(ctx context.Context) (int, error)
	CountRunning(ctx context.Context) (int, error)
	OldestRunningAge(ctx context.Context) (time.Duration, error)
}

// envelope is the uniform JSON response shape: {ok, data?, error?}.
type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
