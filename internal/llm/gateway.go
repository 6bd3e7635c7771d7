package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edgecore/engined/internal/llm/providers"
	"github.com/edgecore/engined/internal/store"
)

// AuditLogger is the minimal surface the gateway needs to record
// provider outcomes; satisfied by *audit.Logger.
type AuditLogger interface {
	Log(userID *int64, action store.AuditAction, detail any, errText string)
}

// Entry registers one provider in the gateway's priority-ordered
// fallback chain, plus its own concurrency and rate caps.
type Entry struct {
	Provider       Provider
	Priority       int // lower runs first
	MaxConcurrency int
	PerUserRPM     int
}

// Gateway dispatches a Request through a priority-ordered chain of
// providers: every classified failure kind moves to the next entry;
// transport_error has already been retried inside the provider by then.
type Gateway struct {
	entries []*boundEntry
	audit   AuditLogger
	log     *slog.Logger
}

type boundEntry struct {
	Entry
	sem *semaphore.Weighted

	mu       sync.Mutex
	window   map[int64][]time.Time
	rpmLimit int
}

// NewGateway builds a Gateway over entries, sorted into ascending
// priority order (lower Priority value tried first).
func NewGateway(entries []Entry, audit AuditLogger, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	bound := make([]*boundEntry, len(entries))
	for i, e := range entries {
		concurrency := e.MaxConcurrency
		if concurrency <= 0 {
			concurrency = 4
		}
		bound[i] = &boundEntry{
			Entry:    e,
			sem:      semaphore.NewWeighted(int64(concurrency)),
			window:   make(map[int64][]time.Time),
			rpmLimit: e.PerUserRPM,
		}
	}
	sort.SliceStable(bound, func(i, j int) bool { return bound[i].Priority < bound[j].Priority })
	return &Gateway{entries: bound, audit: audit, log: log.With("component", "llm_gateway")}
}

// ErrRateLimited is returned when a user has exhausted every eligible
// provider's per-user RPM budget.
var ErrRateLimited = errors.New("llm: per-user rate limit exceeded on all eligible providers")

// ErrNoProviders is returned when the chain has no entries. A ctx that
// expires while waiting on a saturated concurrency semaphore surfaces
// as a wrapped ctx error instead.
var ErrNoProviders = errors.New("llm: no providers available")

// Complete tries each entry in priority order until one returns a
// successful Response or a non-fallback-eligible failure. userID keys
// the per-user RPM window.
func (g *Gateway) Complete(ctx context.Context, userID int64, req Request) (*Response, error) {
	var lastErr error
	rateLimitedCount := 0

	for _, e := range g.entries {
		if !e.allow(userID) {
			rateLimitedCount++
			continue
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("llm: acquire %s: %w", e.Provider.Name(), err)
		}
		start := time.Now()
		resp, err := e.Provider.Complete(ctx, req)
		e.sem.Release(1)

		if err == nil {
			g.audit.Log(&userID, store.ActionRunLLM, map[string]string{
				"provider":   e.Provider.Name(),
				"model":      e.Provider.Model(),
				"task_id":    req.Metadata["task_id"],
				"latency_ms": fmt.Sprintf("%d", resp.Latency.Milliseconds()),
			}, "")
			return resp, nil
		}

		lastErr = err
		pe, _ := providers.AsError(err)
		kind := providers.FailureTransportError
		if pe != nil {
			kind = pe.Kind
		}
		g.log.Warn("provider failed", "provider", e.Provider.Name(), "kind", kind, "error", err)
		g.audit.Log(&userID, store.ActionFallback, map[string]string{
			"provider":   e.Provider.Name(),
			"kind":       string(kind),
			"task_id":    req.Metadata["task_id"],
			"latency_ms": fmt.Sprintf("%d", time.Since(start).Milliseconds()),
		}, err.Error())

		if pe != nil && !pe.Kind.IsFallbackEligible() {
			return nil, err
		}
	}

	if lastErr == nil && rateLimitedCount == len(g.entries) && len(g.entries) > 0 {
		return nil, ErrRateLimited
	}
	if lastErr == nil {
		return nil, ErrNoProviders
	}
	return nil, lastErr
}

// allow enforces the per-user RPM budget with a sliding one-minute
// window, in the teacher's hand-rolled mutex-guarded-state idiom
// rather than a rate-limiting library (none of the studied repos
// import one; every usage-tracking structure they build is hand
// rolled with a mutex and plain slices/maps, so this follows suit).
func (e *boundEntry) allow(userID int64) bool {
	if e.rpmLimit <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	hits := e.window[userID]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= e.rpmLimit {
		e.window[userID] = kept
		return false
	}
	e.window[userID] = append(kept, now)
	return true
}
