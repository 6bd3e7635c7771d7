package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgecore/engined/internal/config"
	"github.com/edgecore/engined/internal/store"
)

// Sweeper periodically enforces the store's retention policy: old
// terminal tasks and old audit rows are deleted oldest-first, bounded by
// both an age cutoff and a row-count cap.
type Sweeper struct {
	store *store.Store
	cfg   config.RetentionConfig
	log   *slog.Logger
}

// NewSweeper constructs a retention sweeper.
func NewSweeper(st *store.Store, cfg config.RetentionConfig, base *slog.Logger) *Sweeper {
	if base == nil {
		base = slog.Default()
	}
	return &Sweeper{store: st, cfg: cfg, log: base.With("component", "retention")}
}

// Run blocks ticking at cfg.SweepInterval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if n, err := s.store.SweepTasks(ctx, s.cfg.TaskMaxAge, s.cfg.TaskMaxRows); err != nil {
		s.log.Error("sweep tasks failed", "error", err)
	} else if n > 0 {
		s.log.Info("swept terminal tasks", "deleted", n)
	}

	if n, err := s.store.SweepAudit(ctx, s.cfg.AuditMaxAge, s.cfg.AuditMaxRows); err != nil {
		s.log.Error("sweep audit failed", "error", err)
	} else if n > 0 {
		s.log.Info("swept audit rows", "deleted", n)
	}
}
