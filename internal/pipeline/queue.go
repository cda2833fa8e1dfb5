package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"call-audit-go/internal/logger"
)

var (
	ErrQueueFull   = errors.New("processing queue is full")
	ErrQueueClosed = errors.New("processing queue is shutting down")
)

// Task is one accepted submission waiting for a worker.
type Task struct {
	JobID     string
	AudioPath string
}

// Handler processes a single task. processor.Processor satisfies it.
type Handler interface {
	Process(ctx context.Context, jobID, audioPath string) error
}

// Queue runs tasks on a fixed set of workers. Each job runs on its own worker
// with its own context; jobs share nothing but the handler.
type Queue struct {
	handler Handler
	log     *logger.Logger
	workers int
	timeout time.Duration

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	root       context.Context
	cancelRoot context.CancelFunc

	mu        sync.Mutex
	closed    bool
	queued    map[string]bool
	running   map[string]context.CancelFunc
	cancelled map[string]bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}

// WithJobTimeout bounds each job. Zero keeps run-to-completion semantics.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(handler Handler, log *logger.Logger, opts ...Option) *Queue {
	q := &Queue{
		handler:   handler,
		log:       log.Component("pipeline"),
		workers:   4,
		ch:        make(chan Task, 64),
		queued:    map[string]bool{},
		running:   map[string]context.CancelFunc{},
		cancelled: map[string]bool{},
	}
	for _, o := range opts {
		o(q)
	}
	q.root, q.cancelRoot = context.WithCancel(context.Background())
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.log.WithField("worker_id", workerID).Debug("worker started")

				for task := range q.ch {
					q.run(workerID, task)
				}

				q.log.WithField("worker_id", workerID).Debug("worker stopped")
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int, task Task) {
	ctx, cancel := q.jobContext()
	defer cancel()

	q.mu.Lock()
	delete(q.queued, task.JobID)
	if q.cancelled[task.JobID] {
		delete(q.cancelled, task.JobID)
		cancel()
	}
	q.running[task.JobID] = cancel
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.running, task.JobID)
		q.mu.Unlock()
	}()

	log := q.log.WithJob(task.JobID).WithField("worker_id", workerID)
	log.Info("processing job")
	if err := q.handler.Process(ctx, task.JobID, task.AudioPath); err != nil {
		log.WithError(err).Error("job processing failed")
		return
	}
	log.Info("job processed successfully")
}

func (q *Queue) jobContext() (context.Context, context.CancelFunc) {
	if q.timeout > 0 {
		return context.WithTimeout(q.root, q.timeout)
	}
	return context.WithCancel(q.root)
}

// Enqueue never blocks. A full or closing queue rejects the task.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.WithField("job_id", task.JobID).Warn("cannot enqueue: queue is shutting down")
		return ErrQueueClosed
	}
	select {
	case q.ch <- task:
		q.queued[task.JobID] = true
		q.log.WithField("job_id", task.JobID).Debug("queued job for processing")
		return nil
	default:
		q.log.WithField("job_id", task.JobID).Warn("queue full, rejecting job")
		return ErrQueueFull
	}
}

// Cancel stops a running job, or marks a queued one so it fails as soon as it
// starts. It reports false for jobs the queue does not hold.
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cancel, ok := q.running[jobID]; ok {
		cancel()
		return true
	}
	if !q.queued[jobID] {
		return false
	}
	q.cancelled[jobID] = true
	return true
}

// Shutdown stops intake and waits for queued jobs to finish. If ctx ends
// first, in-flight jobs are cancelled and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.log.Warn("shutdown interrupted, cancelling in-flight jobs")
		q.cancelRoot()
		<-done
		return ctx.Err()
	case <-done:
		q.cancelRoot()
		q.log.Info("queue drained, shutdown complete")
		return nil
	}
}
