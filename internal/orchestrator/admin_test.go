package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/edgecore/engined/internal/store"
)

type fakeUserStore struct {
	users map[int64]*store.User
}

func (f *fakeUserStore) GetUser(ctx context.Context, id int64) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) SetUserAllowListed(ctx context.Context, id int64, allowed bool) error {
	f.users[id].AllowListed = allowed
	return nil
}

func (f *fakeUserStore) SetUserRole(ctx context.Context, id int64, role store.Role) error {
	f.users[id].Role = role
	return nil
}

func TestAdminHandler_SetAllowListed(t *testing.T) {
	users := &fakeUserStore{users: map[int64]*store.User{
		1: {ID: 1, Role: store.RoleAdmin},
		2: {ID: 2, Role: store.RoleUser, AllowListed: false},
	}}
	audit := &recordingAuditLogger{}
	h := NewAdminHandler(users, audit, nil)
	payload, _ := json.Marshal(adminPayload{Action: adminActionSetAllowListed, TargetUserID: 2, AllowListed: true})
	task := &store.Task{ID: "t1", UserID: 1, ChatID: 100, Payload: payload}

	out, err := h.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res adminResult
	json.Unmarshal(out, &res)
	if !res.OK {
		t.Fatal("expected ok result")
	}
	if !users.users[2].AllowListed {
		t.Fatal("expected target user to be allow-listed")
	}
}

func TestAdminHandler_SetRole(t *testing.T) {
	users := &fakeUserStore{users: map[int64]*store.User{
		1: {ID: 1, Role: store.RoleAdmin},
		2: {ID: 2, Role: store.RoleUser},
	}}
	h := NewAdminHandler(users, nil, nil)
	payload, _ := json.Marshal(adminPayload{Action: adminActionSetRole, TargetUserID: 2, Role: store.RoleAdmin})
	task := &store.Task{ID: "t1", UserID: 1, ChatID: 100, Payload: payload}

	_, err := h.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if users.users[2].Role != store.RoleAdmin {
		t.Fatalf("role = %q, want admin", users.users[2].Role)
	}
}

func TestAdminHandler_RejectsNonAdminActor(t *testing.T) {
	users := &fakeUserStore{users: map[int64]*store.User{
		1: {ID: 1, Role: store.RoleUser},
	}}
	audit := &recordingAuditLogger{}
	h := NewAdminHandler(users, audit, nil)
	payload, _ := json.Marshal(adminPayload{Action: adminActionSetAllowListed, TargetUserID: 2, AllowListed: true})
	task := &store.Task{ID: "t1", UserID: 1, ChatID: 100, Payload: payload}

	_, err := h.Handle(context.Background(), task)
	if err == nil {
		t.Fatal("expected forbidden error for non-admin actor")
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected audit entry for rejected attempt, got %v", audit.entries)
	}
}

func TestAdminHandler_RejectsUnknownAction(t *testing.T) {
	users := &fakeUserStore{users: map[int64]*store.User{
		1: {ID: 1, Role: store.RoleAdmin},
	}}
	h := NewAdminHandler(users, nil, nil)
	payload, _ := json.Marshal(adminPayload{Action: "nonexistent", TargetUserID: 2})
	task := &store.Task{ID: "t1", UserID: 1, ChatID: 100, Payload: payload}

	_, err := h.Handle(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}
