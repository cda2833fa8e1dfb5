package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"call-audit-go/internal/logger"
)

type recordingHandler struct {
	mu      sync.Mutex
	seen    []string
	errs    map[string]error
	release chan struct{}
	started chan string
}

func (h *recordingHandler) Process(ctx context.Context, jobID, _ string) error {
	if h.started != nil {
		h.started <- jobID
	}
	if h.release != nil {
		select {
		case <-h.release:
		case <-ctx.Done():
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, jobID)
	if err := ctx.Err(); err != nil {
		if h.errs == nil {
			h.errs = map[string]error{}
		}
		h.errs[jobID] = err
	}
	return ctx.Err()
}

func TestQueueProcessesAll(t *testing.T) {
	h := &recordingHandler{}
	q := NewQueue(h, logger.NewNop(), WithWorkers(3), WithQueueSize(10))
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := q.Enqueue(Task{JobID: id}); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(h.seen) != 5 {
		t.Fatalf("processed %v", h.seen)
	}
	if err := q.Enqueue(Task{JobID: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestQueueFull(t *testing.T) {
	h := &recordingHandler{release: make(chan struct{}), started: make(chan string, 4)}
	q := NewQueue(h, logger.NewNop(), WithWorkers(1), WithQueueSize(1))

	if err := q.Enqueue(Task{JobID: "running"}); err != nil {
		t.Fatal(err)
	}
	<-h.started
	if err := q.Enqueue(Task{JobID: "queued"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(Task{JobID: "rejected"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	close(h.release)
	_ = q.Shutdown(context.Background())
}

func TestQueueCancelRunning(t *testing.T) {
	h := &recordingHandler{release: make(chan struct{}), started: make(chan string, 1)}
	q := NewQueue(h, logger.NewNop(), WithWorkers(1))

	_ = q.Enqueue(Task{JobID: "job-1"})
	<-h.started
	if !q.Cancel("job-1") {
		t.Fatal("Cancel returned false for a running job")
	}
	_ = q.Shutdown(context.Background())
	if !errors.Is(h.errs["job-1"], context.Canceled) {
		t.Fatalf("errs = %v", h.errs)
	}
}

func TestQueueCancelQueued(t *testing.T) {
	h := &recordingHandler{release: make(chan struct{}), started: make(chan string, 2)}
	q := NewQueue(h, logger.NewNop(), WithWorkers(1))

	_ = q.Enqueue(Task{JobID: "busy"})
	<-h.started
	_ = q.Enqueue(Task{JobID: "job-2"})
	if !q.Cancel("job-2") {
		t.Fatal("Cancel returned false for a queued job")
	}
	close(h.release)
	_ = q.Shutdown(context.Background())
	if !errors.Is(h.errs["job-2"], context.Canceled) {
		t.Fatalf("errs = %v", h.errs)
	}
	if h.errs["busy"] != nil {
		t.Fatalf("busy job was cancelled: %v", h.errs["busy"])
	}
}

func TestQueueCancelUnknownJobLeavesNoMark(t *testing.T) {
	h := &recordingHandler{}
	q := NewQueue(h, logger.NewNop(), WithWorkers(1))

	_ = q.Enqueue(Task{JobID: "done"})
	_ = q.Shutdown(context.Background())

	for _, id := range []string{"done", "never-enqueued"} {
		if q.Cancel(id) {
			t.Fatalf("Cancel(%s) = true for a job the queue does not hold", id)
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cancelled) != 0 || len(q.queued) != 0 || len(q.running) != 0 {
		t.Fatalf("stale entries: cancelled=%v queued=%v running=%v", q.cancelled, q.queued, q.running)
	}
}

func TestQueueJobTimeout(t *testing.T) {
	h := &recordingHandler{release: make(chan struct{})}
	q := NewQueue(h, logger.NewNop(), WithWorkers(1), WithJobTimeout(20*time.Millisecond))
	_ = q.Enqueue(Task{JobID: "slow"})
	_ = q.Shutdown(context.Background())
	if !errors.Is(h.errs["slow"], context.DeadlineExceeded) {
		t.Fatalf("errs = %v", h.errs)
	}
}

func TestShutdownDeadlineCancelsInFlight(t *testing.T) {
	h := &recordingHandler{release: make(chan struct{}), started: make(chan string, 1)}
	q := NewQueue(h, logger.NewNop(), WithWorkers(1))
	_ = q.Enqueue(Task{JobID: "stuck"})
	<-h.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(h.errs["stuck"], context.Canceled) {
		t.Fatalf("errs = %v", h.errs)
	}
}
