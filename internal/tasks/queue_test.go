package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edgecore/engined/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[int64]*store.User
	tasks   map[string]*store.Task
	ordered []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[int64]*store.User), tasks: make(map[string]*store.Task)}
}

func (f *fakeStore) addUser(id int64, allowed bool, role store.Role) {
	f.users[id] = &store.User{ID: id, AllowListed: allowed, Role: role}
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) FindDuplicateTask(ctx context.Context, userID, chatID int64, kind store.TaskKind, payload json.RawMessage, window time.Duration) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-window)
	for _, id := range f.ordered {
		t := f.tasks[id]
		if t.UserID == userID && t.ChatID == chatID && t.Kind == kind &&
			string(t.Payload) == string(payload) &&
			(t.Status == store.TaskQueued || t.Status == store.TaskRunning) &&
			t.CreatedAt.After(cutoff) {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateTask(ctx context.Context, t *store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = store.TaskQueued
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	f.tasks[t.ID] = t
	f.ordered = append(f.ordered, t.ID)
	return nil
}

func (f *fakeStore) CountQueueDepth(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if t.Status == store.TaskQueued {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LeaseNextQueued(ctx context.Context) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.ordered {
		t := f.tasks[id]
		if t.Status == store.TaskQueued {
			t.Status = store.TaskRunning
			t.UpdatedAt = time.Now()
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CompleteTask(ctx context.Context, id string, status store.TaskStatus, result json.RawMessage, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	t.Result = result
	t.Error = errMsg
	t.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) CancelQueuedForChat(ctx context.Context, userID, chatID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, id := range f.ordered {
		t := f.tasks[id]
		if t.UserID == userID && t.ChatID == chatID && t.Status == store.TaskQueued {
			t.Status = store.TaskCanceled
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) RunningTasksForChat(ctx context.Context, userID, chatID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, id := range f.ordered {
		t := f.tasks[id]
		if t.UserID == userID && t.ChatID == chatID && t.Status == store.TaskRunning {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []store.AuditAction
}

func (r *recordingAudit) Log(userID *int64, action store.AuditAction, detail any, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

func TestQueue_SubmitAdmits(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, true, store.RoleUser)
	q := NewQueue(fs, &recordingAudit{}, Config{})

	id, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a task id")
	}
}

func TestQueue_SubmitRejectsUnlisted(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, false, store.RoleUser)
	q := NewQueue(fs, &recordingAudit{}, Config{})

	_, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, json.RawMessage(`{}`))
	if err != ErrNotAllowed {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
}

func TestQueue_SubmitAllowsAdminEvenUnlisted(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, false, store.RoleAdmin)
	q := NewQueue(fs, &recordingAudit{}, Config{})

	if _, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAdmin, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueue_SubmitRejectsOverQueueLimit(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, true, store.RoleUser)
	q := NewQueue(fs, &recordingAudit{}, Config{QueueLimit: 1})

	if _, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	_, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, json.RawMessage(`{"n":2}`))
	if err != ErrQueueFull {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestQueue_SubmitDeduplicatesIdenticalPayload(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, true, store.RoleUser)
	q := NewQueue(fs, &recordingAudit{}, Config{QueueLimit: 10})

	payload := json.RawMessage(`{"text":"same"}`)
	id1, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, payload)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	id2, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, payload)
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected idempotent resubmission, got %s and %s", id1, id2)
	}
}

func TestQueue_SubmitEnforcesPerUserRPM(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, true, store.RoleUser)
	q := NewQueue(fs, &recordingAudit{}, Config{PerUserRPM: 1, QueueLimit: 10})

	if _, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	_, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, json.RawMessage(`{"n":2}`))
	if err != ErrRateLimited {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestQueue_Cancel(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(1, true, store.RoleUser)
	q := NewQueue(fs, &recordingAudit{}, Config{QueueLimit: 10})

	id, err := q.Submit(context.Background(), 1, 100, "", store.TaskKindAsk, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	canceled, running, err := q.Cancel(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if len(running) != 0 {
		t.Errorf("running = %v, want none", running)
	}
	if len(canceled) != 1 || canceled[0] != id {
		t.Errorf("canceled = %v, want [%s]", canceled, id)
	}
}
