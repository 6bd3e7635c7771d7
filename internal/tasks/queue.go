package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgecore/engined/internal/store"
)

// Queue validates and admits new tasks.
type Queue struct {
	store Store
	audit AuditLogger
	cfg   Config

	mu     sync.Mutex
	window map[int64][]time.Time
}

// NewQueue builds a Queue.
func NewQueue(s Store, audit AuditLogger, cfg Config) *Queue {
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 50
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 30 * time.Second
	}
	return &Queue{store: s, audit: audit, cfg: cfg, window: make(map[int64][]time.Time)}
}

// Submit validates allow-listing and the per-user RPM budget, checks
// for an identical non-terminal submission within the dedup window,
// and otherwise inserts a new queued task. It returns the admitted
// (or deduplicated) task id.
func (q *Queue) Submit(ctx context.Context, userID, chatID int64, messageID string, kind store.TaskKind, payload json.RawMessage) (string, error) {
	user, err := q.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("tasks: lookup user: %w", err)
	}
	if !user.AllowListed && user.Role != store.RoleAdmin {
		q.logAudit(&userID, store.ActionAuthFail, map[string]any{"chat_id": chatID, "kind": kind}, ErrNotAllowed.Error())
		return "", ErrNotAllowed
	}

	if !q.allow(userID) {
		q.logAudit(&userID, store.ActionLimitHit, map[string]any{"chat_id": chatID, "kind": kind}, ErrRateLimited.Error())
		return "", ErrRateLimited
	}

	if dup, err := q.store.FindDuplicateTask(ctx, userID, chatID, kind, payload, q.cfg.DedupWindow); err == nil {
		return dup.ID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("tasks: duplicate check: %w", err)
	}

	depth, err := q.store.CountQueueDepth(ctx)
	if err != nil {
		return "", fmt.Errorf("tasks: count queue depth: %w", err)
	}
	if depth >= q.cfg.QueueLimit {
		q.logAudit(&userID, store.ActionLimitHit, map[string]any{"chat_id": chatID, "kind": kind, "reason": "queue_full"}, ErrQueueFull.Error())
		return "", ErrQueueFull
	}

	task := &store.Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		MessageID: messageID,
		Kind:      kind,
		Payload:   payload,
	}
	if err := q.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("tasks: create: %w", err)
	}
	q.logAudit(&userID, store.ActionSubmitTask, map[string]any{"task_id": task.ID, "chat_id": chatID, "kind": kind}, "")
	return task.ID, nil
}

func (q *Queue) logAudit(userID *int64, action store.AuditAction, detail any, errText string) {
	if q.audit != nil {
		q.audit.Log(userID, action, detail, errText)
	}
}

// allow enforces the per-user RPM budget with a sliding one-minute
// window, the same hand-rolled mutex-guarded-state idiom the LLM
// gateway uses for its own per-user cap.
func (q *Queue) allow(userID int64) bool {
	if q.cfg.PerUserRPM <= 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	hits := q.window[userID]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= q.cfg.PerUserRPM {
		q.window[userID] = kept
		return false
	}
	q.window[userID] = append(kept, now)
	return true
}

// Cancel transitions queued tasks for (user, chat) to canceled and
// returns the ids of both the tasks canceled outright and those still
// running (the pool observes the latter via its cancel registry).
func (q *Queue) Cancel(ctx context.Context, userID, chatID int64) (canceled, stillRunning []string, err error) {
	canceled, err = q.store.CancelQueuedForChat(ctx, userID, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("tasks: cancel queued: %w", err)
	}
	stillRunning, err = q.store.RunningTasksForChat(ctx, userID, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("tasks: list running: %w", err)
	}
	q.logAudit(&userID, store.ActionCancel, map[string]any{"chat_id": chatID, "canceled": canceled, "running": stillRunning}, "")
	return canceled, stillRunning, nil
}
