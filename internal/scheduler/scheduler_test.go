package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edgecore/engined/internal/store"
)

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*store.ScheduledJob
	updates int
}

func newFakeJobStore(jobs ...*store.ScheduledJob) *fakeJobStore {
	m := make(map[string]*store.ScheduledJob)
	for _, j := range jobs {
		m[j.ID] = j
	}
	return &fakeJobStore{jobs: m}
}

func (f *fakeJobStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]*store.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ScheduledJob
	for _, j := range f.jobs {
		if j.Enabled && !j.NextRunAt.After(now) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobStore) UpdateJob(ctx context.Context, j *store.ScheduledJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[j.ID]; !ok {
		return store.ErrNotFound
	}
	f.jobs[j.ID] = j
	f.updates++
	return nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	submits  int
	failNext bool
}

func (f *fakeSubmitter) Submit(ctx context.Context, userID, chatID int64, messageID string, kind store.TaskKind, payload json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return "", errors.New("queue_full")
	}
	f.submits++
	return "task-id", nil
}

type recordingAudit struct {
	mu    sync.Mutex
	count int
}

func (r *recordingAudit) Log(userID *int64, action store.AuditAction, detail any, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func TestScheduler_FiresDueIntervalJobAndAdvances(t *testing.T) {
	job := &store.ScheduledJob{
		ID: "j1", UserID: 1, ChatID: 100, Kind: store.ScheduleInterval,
		EveryMinutes: 10, Timezone: "UTC", TaskKind: store.TaskKindAsk,
		TaskPayload: json.RawMessage(`{}`), Enabled: true,
		NextRunAt: time.Now().Add(-time.Minute),
	}
	fs := newFakeJobStore(job)
	sub := &fakeSubmitter{}
	sched := New(fs, sub, &recordingAudit{}, Config{}, nil)

	sched.tick(context.Background())

	if sub.submits != 1 {
		t.Fatalf("submits = %d, want 1", sub.submits)
	}
	if !job.Enabled {
		t.Error("interval job should remain enabled")
	}
	if !job.NextRunAt.After(time.Now()) {
		t.Error("expected next_run_at to advance into the future")
	}
}

func TestScheduler_OnceJobDisablesAfterFire(t *testing.T) {
	runAt := time.Now().Add(-time.Minute)
	job := &store.ScheduledJob{
		ID: "j2", UserID: 1, ChatID: 100, Kind: store.ScheduleOnce,
		RunAt: &runAt, Timezone: "UTC", TaskKind: store.TaskKindAsk,
		TaskPayload: json.RawMessage(`{}`), Enabled: true,
		NextRunAt: runAt,
	}
	fs := newFakeJobStore(job)
	sub := &fakeSubmitter{}
	sched := New(fs, sub, &recordingAudit{}, Config{}, nil)

	sched.tick(context.Background())

	if job.Enabled {
		t.Error("once job should be disabled after firing")
	}
	if sub.submits != 1 {
		t.Fatalf("submits = %d, want 1", sub.submits)
	}
}

func TestScheduler_SubmitFailureDoesNotAdvanceNextRun(t *testing.T) {
	original := time.Now().Add(-time.Minute)
	job := &store.ScheduledJob{
		ID: "j3", UserID: 1, ChatID: 100, Kind: store.ScheduleInterval,
		EveryMinutes: 10, Timezone: "UTC", TaskKind: store.TaskKindAsk,
		TaskPayload: json.RawMessage(`{}`), Enabled: true,
		NextRunAt: original,
	}
	fs := newFakeJobStore(job)
	sub := &fakeSubmitter{failNext: true}
	audit := &recordingAudit{}
	sched := New(fs, sub, audit, Config{}, nil)

	sched.tick(context.Background())

	if sub.submits != 0 {
		t.Fatalf("submits = %d, want 0", sub.submits)
	}
	if !job.NextRunAt.Equal(original) {
		t.Errorf("next_run_at changed despite submit failure: got %v, want %v", job.NextRunAt, original)
	}
	if audit.count == 0 {
		t.Error("expected a failed fire to still be audited")
	}
}

func TestScheduler_SkipsNotYetDueJobs(t *testing.T) {
	job := &store.ScheduledJob{
		ID: "j4", UserID: 1, ChatID: 100, Kind: store.ScheduleInterval,
		EveryMinutes: 10, Timezone: "UTC", TaskKind: store.TaskKindAsk,
		TaskPayload: json.RawMessage(`{}`), Enabled: true,
		NextRunAt: time.Now().Add(time.Hour),
	}
	fs := newFakeJobStore(job)
	sub := &fakeSubmitter{}
	sched := New(fs, sub, &recordingAudit{}, Config{}, nil)

	sched.tick(context.Background())

	if sub.submits != 0 {
		t.Errorf("submits = %d, want 0 for a not-yet-due job", sub.submits)
	}
}
