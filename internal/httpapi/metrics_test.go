package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTask(t *testing.T) {
	m := NewMetrics()

	m.RecordTask("ask", "ok", 0.25)
	m.RecordTask("ask", "error", 1.5)
	m.RecordTask("run_skill", "ok", 0.1)

	if count := testutil.CollectAndCount(m.TasksTotal); count != 3 {
		t.Fatalf("expected 3 label combinations, got %d", count)
	}
	if got := testutil.ToFloat64(m.TasksTotal.WithLabelValues("ask", "ok")); got != 1 {
		t.Fatalf("expected ask/ok count 1, got %v", got)
	}
}

func TestRefreshGauges(t *testing.T) {
	fs := &fakeStore{queueLen: 3, running: 2}
	s := newTestServer(&fakeTasks{}, fs)

	s.refreshGauges(context.Background())

	if got := testutil.ToFloat64(s.metrics.QueueDepth); got != 3 {
		t.Fatalf("expected queue depth 3, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.RunningTasks); got != 2 {
		t.Fatalf("expected running tasks 2, got %v", got)
	}
}

func TestRunGaugeLoop_StopsOnCancel(t *testing.T) {
	fs := &fakeStore{queueLen: 1, running: 0}
	s := newTestServer(&fakeTasks{}, fs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.runGaugeLoop(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runGaugeLoop did not return after context cancellation")
	}
}
