// Package scheduler ticks scheduled jobs: on each tick it finds jobs
// whose next_run_at has passed, submits a task built from the job's
// template, and recomputes the next fire time per schedule kind.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgecore/engined/internal/store"
)

// Store is the narrow persistence surface the scheduler needs;
// satisfied by *store.Store.
type Store interface {
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*store.ScheduledJob, error)
	UpdateJob(ctx context.Context, j *store.ScheduledJob) error
}

// Submitter admits a task built from a job's template. Satisfied by
// *tasks.Queue.
type Submitter interface {
	Submit(ctx context.Context, userID, chatID int64, messageID string, kind store.TaskKind, payload json.RawMessage) (string, error)
}

// AuditLogger is the minimal audit surface the scheduler writes to.
type AuditLogger interface {
	Log(userID *int64, action store.AuditAction, detail any, errText string)
}

// Config bounds tick cadence and batch size.
type Config struct {
	PollInterval time.Duration
	BatchLimit   int
}
