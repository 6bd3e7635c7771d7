package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgecore/engined/internal/store"
)

// Pool runs N cooperative workers that lease queued tasks, dispatch
// them by kind, and enforce a per-task timeout and chat-scoped
// cancellation.
type Pool struct {
	store    Store
	audit    AuditLogger
	handlers map[store.TaskKind]Handler
	cfg      Config
	log      *slog.Logger
	observer TaskObserver

	pollInterval time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // task id -> cancel
}

// NewPool builds a worker pool. handlers maps each task kind to the
// component that executes it (ask -> intent router/agent runtime,
// run_skill -> skill dispatcher, admin -> admin command handler).
func NewPool(s Store, audit AuditLogger, handlers map[store.TaskKind]Handler, cfg Config, log *slog.Logger) *Pool {
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		store:        s,
		audit:        audit,
		handlers:     handlers,
		cfg:          cfg,
		log:          log.With("component", "task_pool"),
		pollInterval: 250 * time.Millisecond,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Run starts cfg.WorkerConcurrency workers and blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	log := p.log.With("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := p.store.LeaseNextQueued(ctx)
			if err != nil {
				log.Warn("lease failed", "error", err)
				continue
			}
			if task == nil {
				continue
			}
			p.execute(ctx, task, log)
		}
	}
}

func (p *Pool) execute(parent context.Context, task *store.Task, log *slog.Logger) {
	taskCtx, cancel := context.WithTimeout(parent, p.cfg.TaskTimeout)
	p.registerCancel(task.ID, cancel)
	defer func() {
		cancel()
		p.unregisterCancel(task.ID)
	}()

	handler, ok := p.handlers[task.Kind]
	if !ok {
		p.finish(parent, task, nil, fmt.Errorf("no handler registered for kind %q", task.Kind), store.TaskFailed, log)
		return
	}

	started := time.Now()
	result, err := handler.Handle(taskCtx, task)
	status := store.TaskSucceeded
	if err != nil {
		switch {
		case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			status = store.TaskTimeout
			if p.audit != nil {
				p.audit.Log(&task.UserID, store.ActionTimeout, map[string]any{"task_id": task.ID, "kind": task.Kind}, err.Error())
			}
		case errors.Is(taskCtx.Err(), context.Canceled):
			status = store.TaskCanceled
		default:
			status = store.TaskFailed
		}
	}
	if p.observer != nil {
		outcome := "ok"
		if status != store.TaskSucceeded {
			outcome = "error"
		}
		p.observer.RecordTask(string(task.Kind), outcome, time.Since(started).Seconds())
	}
	p.finish(parent, task, result, err, status, log)
}

func (p *Pool) finish(ctx context.Context, task *store.Task, result json.RawMessage, handlerErr error, status store.TaskStatus, log *slog.Logger) {
	errText := ""
	if handlerErr != nil && status != store.TaskCanceled {
		errText = handlerErr.Error()
	}
	if err := p.store.CompleteTask(ctx, task.ID, status, result, errText); err != nil {
		log.Error("failed to persist task completion", "task_id", task.ID, "error", err)
	}
}

func (p *Pool) registerCancel(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[taskID] = cancel
	p.mu.Unlock()
}

func (p *Pool) unregisterCancel(taskID string) {
	p.mu.Lock()
	delete(p.cancels, taskID)
	p.mu.Unlock()
}

// SetObserver attaches a metrics observer. Must be called before Run.
func (p *Pool) SetObserver(o TaskObserver) {
	p.observer = o
}

// CancelRunning signals in-flight cancellation for the given task ids,
// the running counterpart to Queue.Cancel's queued-task transition.
func (p *Pool) CancelRunning(taskIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range taskIDs {
		if cancel, ok := p.cancels[id]; ok {
			cancel()
		}
	}
}
