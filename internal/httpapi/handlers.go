package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/edgecore/engined/internal/store"
	"github.com/edgecore/engined/internal/tasks"
)

type submitTaskRequest struct {
	UserID  int64           `json:"user_id"`
	ChatID  int64           `json:"chat_id"`
	Kind    store.TaskKind  `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Kind == "" {
		writeError(w, s.log, http.StatusBadRequest, "kind is required")
		return
	}

	id, err := s.tasks.Submit(r.Context(), req.UserID, req.ChatID, "", req.Kind, req.Payload)
	if err != nil {
		writeError(w, s.log, submitStatusFor(err), err.Error())
		return
	}
	writeJSON(w, s.log, http.StatusOK, envelope{OK: true, Data: map[string]any{"task_id": id}})
}

func submitStatusFor(err error) int {
	switch {
	case errors.Is(err, tasks.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, tasks.ErrRateLimited), errors.Is(err, tasks.ErrQueueFull):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, s.log, http.StatusBadRequest, "task id is required")
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, s.log, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, s.log, http.StatusInternalServerError, err.Error())
		return
	}

	data := map[string]any{"task_id": task.ID, "status": task.Status}
	if len(task.Result) > 0 {
		data["result_json"] = task.Result
	}
	if task.Error != "" {
		data["error_text"] = task.Error
	}
	writeJSON(w, s.log, http.StatusOK, envelope{OK: true, Data: data})
}

type cancelTasksRequest struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

func (s *Server) handleCancelTasks(w http.ResponseWriter, r *http.Request) {
	var req cancelTasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "malformed request body")
		return
	}

	canceled, running, err := s.tasks.Cancel(r.Context(), req.UserID, req.ChatID)
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, s.log, http.StatusOK, envelope{OK: true, Data: map[string]any{
		"canceled": canceled,
		"running":  running,
	}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	queueLen, err := s.store.CountQueueDepth(r.Context())
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, err.Error())
		return
	}
	runningLen, err := s.store.CountRunning(r.Context())
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, err.Error())
		return
	}
	oldestAge, err := s.store.OldestRunningAge(r.Context())
	if err != nil {
		writeError(w, s.log, http.StatusInternalServerError, err.Error())
		return
	}

	caps, capsErr := s.cfg.ResolveProfile()
	taskTimeoutSeconds := 0.0
	if capsErr == nil {
		taskTimeoutSeconds = caps.TaskTimeout.Seconds()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	data := map[string]any{
		"version":                     s.version,
		"uptime_seconds":              time.Since(s.start).Seconds(),
		"queue_length":                queueLen,
		"running_length":              runningLen,
		"running_oldest_age_seconds":  oldestAge.Seconds(),
		"task_timeout_seconds":        taskTimeoutSeconds,
		"worker_state":                "running",
		"memory_rss_bytes":            mem.Sys,
	}
	writeJSON(w, s.log, http.StatusOK, envelope{OK: true, Data: data})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log, http.StatusOK, envelope{OK: true, Data: s.cfg.Sanitized()})
}
