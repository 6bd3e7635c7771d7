package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgecore/engined/internal/store"
)

// ErrForbidden is returned when a non-admin user's task reaches the
// admin handler; the queue admits the task by allow-list, not by role,
// so this handler re-checks role itself before acting.
var ErrForbidden = errors.New("orchestrator: admin action requires admin role")

// AdminHandler implements tasks.Handler for store.TaskKindAdmin: a
// small, closed set of account-management actions (allow-list and
// role changes) gated on the submitting user actually holding the
// admin role.
type AdminHandler struct {
	users UserStore
	audit AuditLogger
	log   *slog.Logger
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(users UserStore, audit AuditLogger, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{users: users, audit: audit, log: log.With("component", "admin_handler")}
}

type adminAction string

const (
	adminActionSetAllowListed adminAction = "set_allow_listed"
	adminActionSetRole        adminAction = "set_role"
)

type adminPayload struct {
	Action       adminAction `json:"action"`
	TargetUserID int64       `json:"target_user_id"`
	AllowListed  bool        `json:"allow_listed"`
	Role         store.Role  `json:"role"`
}

type adminResult struct {
	OK bool `json:"ok"`
}

// Handle implements tasks.Handler.
func (h *AdminHandler) Handle(ctx context.Context, task *store.Task) (json.RawMessage, error) {
	actor, err := h.users.GetUser(ctx, task.UserID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: admin action: lookup actor: %w", err)
	}
	if actor.Role != store.RoleAdmin {
		h.logAudit(task, nil, ErrForbidden.Error())
		return nil, ErrForbidden
	}

	var payload adminPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid admin payload: %w", err)
	}

	detail := map[string]any{"task_id": task.ID, "action": payload.Action, "target_user_id": payload.TargetUserID}

	switch payload.Action {
	case adminActionSetAllowListed:
		err = h.users.SetUserAllowListed(ctx, payload.TargetUserID, payload.AllowListed)
	case adminActionSetRole:
		err = h.users.SetUserRole(ctx, payload.TargetUserID, payload.Role)
	default:
		err = fmt.Errorf("orchestrator: unknown admin action %q", payload.Action)
	}

	if err != nil {
		h.logAudit(task, detail, err.Error())
		return nil, err
	}
	h.logAudit(task, detail, "")
	return json.Marshal(adminResult{OK: true})
}

func (h *AdminHandler) logAudit(task *store.Task, detail any, errText string) {
	if h.audit != nil {
		h.audit.Log(&task.UserID, store.ActionAdminOp, detail, errText)
	}
}
