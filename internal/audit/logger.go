// Package audit appends classified events to the store's audit_logs
// table and mirrors them to the structured logger, on a buffered async
// channel so a slow writer never blocks the caller's hot path.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/edgecore/engined/internal/store"
)

// Recorder is the minimal persistence surface the logger needs; satisfied
// by *store.Store.
type Recorder interface {
	AppendAudit(ctx context.Context, ev *store.AuditEvent) error
}

// Logger appends audit events asynchronously and never blocks Log()
// callers on store I/O.
type Logger struct {
	store  Recorder
	slog   *slog.Logger
	buffer chan *store.AuditEvent
	done   chan struct{}
}

// NewLogger starts the async writer goroutine. bufferSize bounds how
// many pending events may queue before Log starts dropping new events
// (audit logging must never apply backpressure to the task pipeline).
func NewLogger(rec Recorder, base *slog.Logger, bufferSize int) *Logger {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if base == nil {
		base = slog.Default()
	}
	l := &Logger{
		store:  rec,
		slog:   base.With("component", "audit"),
		buffer: make(chan *store.AuditEvent, bufferSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.buffer {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.store.AppendAudit(ctx, ev); err != nil {
			l.slog.Error("append audit event failed", "action", ev.Action, "error", err)
		}
		cancel()
	}
}

// Close stops accepting new events and waits for the buffer to drain.
func (l *Logger) Close() {
	close(l.buffer)
	<-l.done
}

// Log enqueues an audit event. detail, if non-nil, is marshaled to JSON.
// Never blocks: if the buffer is full the event is dropped and a
// warning is emitted synchronously to the structured logger so the gap
// is at least visible in logs even though the audit row is lost.
func (l *Logger) Log(userID *int64, action store.AuditAction, detail any, errText string) {
	ev := &store.AuditEvent{
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Action:    action,
		Error:     errText,
	}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			ev.Detail = b
		}
	}

	l.slog.Debug("audit event", "action", action, "user_id", userID, "error", errText)

	select {
	case l.buffer <- ev:
	default:
		l.slog.Warn("audit buffer full, dropping event", "action", action)
	}
}
