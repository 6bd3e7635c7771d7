package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgecore/engined/internal/store"
)

// Scheduler runs a single cooperative tick loop: each tick it fires
// every due job, submitting a task from the job's template and
// advancing next_run_at. Fires within one tick are processed
// sequentially, giving the scheduler a single global serialization
// point across jobs.
type Scheduler struct {
	store Store
	queue Submitter
	audit AuditLogger
	cfg   Config
	log   *slog.Logger
}

// New builds a Scheduler.
func New(s Store, q Submitter, audit AuditLogger, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: s, queue: q, audit: audit, cfg: cfg, log: log.With("component", "scheduler")}
}

// Run ticks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	jobs, err := s.store.DueJobs(ctx, now, s.cfg.BatchLimit)
	if err != nil {
		s.log.Error("failed to list due jobs", "error", err)
		return
	}
	for _, j := range jobs {
		s.fire(ctx, j, now)
	}
}

// fire submits the job's templated task and advances its schedule.
// A submission failure (e.g. queue full) leaves next_run_at
// untouched so the job is retried on the following tick, but the
// failure is still audited.
func (s *Scheduler) fire(ctx context.Context, j *store.ScheduledJob, now time.Time) {
	logJob := s.log.With("job_id", j.ID, "kind", j.Kind)

	if _, err := s.queue.Submit(ctx, j.UserID, j.ChatID, "", j.TaskKind, j.TaskPayload); err != nil {
		logJob.Warn("job fire failed to submit, will retry next tick", "error", err)
		s.logAudit(&j.UserID, map[string]any{"job_id": j.ID, "error": err.Error()}, err.Error())
		return
	}

	j.LastRunAt = &now
	if j.Kind == store.ScheduleOnce {
		j.Enabled = false
	} else {
		next, ok, err := nextRun(j, now)
		if err != nil {
			logJob.Error("failed to compute next run, disabling job", "error", err)
			j.Enabled = false
		} else if ok {
			j.NextRunAt = next
		}
	}

	if err := s.store.UpdateJob(ctx, j); err != nil {
		logJob.Error("failed to persist job after fire", "error", err)
		return
	}
	s.logAudit(&j.UserID, map[string]any{"job_id": j.ID, "kind": j.Kind, "next_run_at": j.NextRunAt}, "")
}

func (s *Scheduler) logAudit(userID *int64, detail any, errText string) {
	if s.audit != nil {
		s.audit.Log(userID, store.ActionSchedFire, detail, errText)
	}
}
