package skills

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Dispatcher registers a fixed set of subprocess skills and enforces
// the invocation protocol and a concurrency cap across all of them.
type Dispatcher struct {
	entries map[string]Entry
	sem     *semaphore.Weighted
	grace   time.Duration
	log     *slog.Logger

	mu sync.RWMutex
}

// New builds a Dispatcher from the registered entries. maxConcurrency
// bounds the number of skill subprocesses running at once; grace is
// the wait after SIGTERM before SIGKILL on timeout.
func New(entries []Entry, maxConcurrency int, grace time.Duration, log *slog.Logger) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if grace <= 0 {
		grace = 3 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}
	return &Dispatcher{
		entries: byName,
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
		grace:   grace,
		log:     log.With("component", "skill_dispatcher"),
	}
}

// ErrUnknownSkill describes a call to Invoke with an unregistered name;
// Invoke reports its message in Result.ErrorText with OutcomeError.
type ErrUnknownSkill struct{ Name string }

func (e *ErrUnknownSkill) Error() string { return fmt.Sprintf("unknown skill %q", e.Name) }

// Invoke runs the named skill once, implementing the §4.8 protocol end
// to end: spawn, write one request line, read one response line, kill
// on timeout, verify request_id.
func (d *Dispatcher) Invoke(ctx context.Context, userID, chatID int64, name string, args map[string]any, skillCtx json.RawMessage) Result {
	d.mu.RLock()
	entry, ok := d.entries[name]
	d.mu.RUnlock()
	if !ok {
		return Result{Outcome: OutcomeError, ErrorText: (&ErrUnknownSkill{Name: name}).Error()}
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Result{Outcome: OutcomeError, ErrorText: "skill concurrency limit: " + err.Error()}
	}
	defer d.sem.Release(1)

	timeout := time.Duration(entry.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := Request{
		RequestID: uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		SkillName: name,
		Args:      args,
		Context:   skillCtx,
	}
	return d.run(runCtx, entry, req)
}

func (d *Dispatcher) run(ctx context.Context, entry Entry, req Request) Result {
	args := append([]string{entry.Name}, entry.Args...)
	cmd := exec.CommandContext(ctx, entry.Executable, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{Outcome: OutcomeError, ErrorText: fmt.Sprintf("open stdin: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Outcome: OutcomeError, ErrorText: fmt.Sprintf("open stdout: %v", err)}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{Outcome: OutcomeError, ErrorText: fmt.Sprintf("spawn %s: %v", entry.Executable, err)}
	}

	line, err := json.Marshal(req)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return Result{Outcome: OutcomeError, ErrorText: fmt.Sprintf("encode request: %v", err)}
	}
	if _, err := stdin.Write(append(line, '\n')); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return Result{Outcome: OutcomeError, ErrorText: fmt.Sprintf("write request: %v", err)}
	}
	_ = stdin.Close()

	type readResult struct {
		resp Response
		err  error
	}
	readDone := make(chan readResult, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		if !scanner.Scan() {
			readDone <- readResult{err: fmt.Errorf("no response line: %w", scanner.Err())}
			return
		}
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			readDone <- readResult{err: fmt.Errorf("malformed response JSON: %w", err)}
			return
		}
		readDone <- readResult{resp: resp}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case <-waitDone:
		case <-time.After(d.grace):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-waitDone
		}
		return Result{Outcome: OutcomeTimeout, ErrorText: "skill exceeded timeout"}

	case rr := <-readDone:
		waitErr := <-waitDone
		if rr.err != nil {
			return Result{Outcome: OutcomeError, ErrorText: fmt.Sprintf("%v (stderr: %s)", rr.err, tail(stderr.String(), 2000))}
		}
		if waitErr != nil {
			return Result{Outcome: OutcomeError, ErrorText: fmt.Sprintf("skill exited non-zero: %v (stderr: %s)", waitErr, tail(stderr.String(), 2000))}
		}
		if rr.resp.RequestID != req.RequestID {
			return Result{Outcome: OutcomeMismatch, ErrorText: "response request_id does not match"}
		}
		if rr.resp.Status != StatusOK {
			errText := rr.resp.ErrorText
			if errText == "" {
				errText = tail(stderr.String(), 2000)
			}
			return Result{Outcome: OutcomeError, ErrorText: errText}
		}
		return Result{Outcome: OutcomeOK, Text: rr.resp.Text, Buttons: rr.resp.Buttons, Extra: rr.resp.Extra}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
