// Package worker runs bookkeeping side effects off the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/observability"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("bookkeeping queue closed")

// ErrQueueFull is returned by Enqueue when the buffer is saturated.
var ErrQueueFull = errors.New("bookkeeping queue full")

// Task is a named unit of bookkeeping work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config tunes a Queue.
type Config struct {
	Workers     int
	Buffer      int
	TaskTimeout time.Duration
	Logger      zerolog.Logger
}

// Queue executes tasks on a fixed set of goroutines. Task failures and panics
// are logged and counted, never returned to the producer.
type Queue struct {
	tasks   chan Task
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts the workers.
func NewQueue(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}

	q := &Queue{
		tasks:   make(chan Task, cfg.Buffer),
		timeout: cfg.TaskTimeout,
		logger:  cfg.Logger.With().Str("component", "bookkeeping").Logger(),
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Enqueue schedules a task without blocking.
func (q *Queue) Enqueue(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		observability.BookkeepingTasks().WithLabelValues(task.Name, "rejected").Inc()
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		observability.BookkeepingTasks().WithLabelValues(task.Name, "dropped").Inc()
		q.logger.Warn().Str("task", task.Name).Msg("bookkeeping queue full, task dropped")
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or for
// ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *Queue) run(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	start := time.Now()
	err := safeRun(ctx, task)
	if err != nil {
		observability.BookkeepingTasks().WithLabelValues(task.Name, "failed").Inc()
		q.logger.Error().
			Err(err).
			Str("task", task.Name).
			Dur("duration", time.Since(start)).
			Msg("bookkeeping task failed")
		return
	}
	observability.BookkeepingTasks().WithLabelValues(task.Name, "ok").Inc()
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if task.Run == nil {
		return errors.New("task has no run function")
	}
	return task.Run(ctx)
}
