// Package tasks implements the task queue and worker pool: validated
// submission with per-user rate limiting and duplicate suppression,
// and an N-worker pool that leases queued tasks, dispatches them by
// kind, enforces a per-task timeout, and honors chat-scoped
// cancellation.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/edgecore/engined/internal/store"
)

// ErrQueueFull is returned when queue depth is at or above the
// configured limit at submission time.
var ErrQueueFull = errors.New("queue_full")

// ErrNotAllowed is returned when the owning user is not allow-listed.
var ErrNotAllowed = errors.New("user is not allow-listed")

// ErrRateLimited is returned when the owning user has exceeded its
// per-minute submission budget.
var ErrRateLimited = errors.New("rate limited")

// Store is the narrow persistence surface the queue and pool need;
// satisfied by *store.Store.
type Store interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	FindDuplicateTask(ctx context.Context, userID, chatID int64, kind store.TaskKind, payload json.RawMessage, window time.Duration) (*store.Task, error)
	CreateTask(ctx context.Context, t *store.Task) error
	CountQueueDepth(ctx context.Context) (int, error)
	LeaseNextQueued(ctx context.Context) (*store.Task, error)
	CompleteTask(ctx context.Context, id string, status store.TaskStatus, result json.RawMessage, errMsg string) error
	CancelQueuedForChat(ctx context.Context, userID, chatID int64) ([]string, error)
	RunningTasksForChat(ctx context.Context, userID, chatID int64) ([]string, error)
}

// AuditLogger is the minimal audit surface the queue writes to.
type AuditLogger interface {
	Log(userID *int64, action store.AuditAction, detail any, errText string)
}

// Handler dispatches one task of a specific kind and returns its
// result payload. Handlers must respect ctx cancellation promptly.
type Handler interface {
	Handle(ctx context.Context, task *store.Task) (json.RawMessage, error)
}

// TaskObserver records completed-task metrics. Optional: a Pool with no
// observer set skips the call.
type TaskObserver interface {
	RecordTask(kind, outcome string, durationSeconds float64)
}

// Config bounds queue admission and worker behavior.
type Config struct {
	QueueLimit        int
	DedupWindow       time.Duration
	PerUserRPM        int
	WorkerConcurrency int
	TaskTimeout       time.Duration
}
