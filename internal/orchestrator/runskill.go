package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/edgecore/engined/internal/store"
)

// RunSkillHandler implements tasks.Handler for store.TaskKindRunSkill:
// a skill invoked directly as a task, bypassing the intent router and
// agent planner entirely.
type RunSkillHandler struct {
	skills SkillExecutor
	audit  AuditLogger
	log    *slog.Logger
}

// NewRunSkillHandler builds a RunSkillHandler.
func NewRunSkillHandler(skills SkillExecutor, audit AuditLogger, log *slog.Logger) *RunSkillHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RunSkillHandler{skills: skills, audit: audit, log: log.With("component", "run_skill_handler")}
}

type runSkillPayload struct {
	SkillName string         `json:"skill_name"`
	Args      map[string]any `json:"args"`
}

type runSkillResult struct {
	Text string `json:"text"`
}

// Handle implements tasks.Handler.
func (h *RunSkillHandler) Handle(ctx context.Context, task *store.Task) (json.RawMessage, error) {
	var payload runSkillPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid run_skill payload: %w", err)
	}
	if payload.SkillName == "" {
		return nil, fmt.Errorf("orchestrator: run_skill payload missing skill_name")
	}

	text, err := h.skills.ExecuteSkill(ctx, task.UserID, task.ChatID, payload.SkillName, payload.Args)
	detail := map[string]any{"task_id": task.ID, "chat_id": task.ChatID, "skill_name": payload.SkillName}
	if err != nil {
		h.logAudit(task.UserID, detail, err.Error())
		return nil, fmt.Errorf("orchestrator: run skill %q: %w", payload.SkillName, err)
	}
	h.logAudit(task.UserID, detail, "")
	return json.Marshal(runSkillResult{Text: text})
}

func (h *RunSkillHandler) logAudit(userID int64, detail any, errText string) {
	if h.audit != nil {
		h.audit.Log(&userID, store.ActionRunSkill, detail, errText)
	}
}
