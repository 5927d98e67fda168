package cartsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"scentcart/internal/logger"

	"go.uber.org/zap"
)

const (
	DefaultQueueSize   = 64
	DefaultTaskTimeout = 15 * time.Second
)

// Task is a background remote write. Wait blocks until it ran.
type Task struct {
	Name string

	fn   func(ctx context.Context) error
	ctx  context.Context
	done chan struct{}
	err  error
}

// Wait returns the task error once it finished, or ctx.Err() if ctx ends
// first.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the task finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// completedTask is returned when there was nothing to do remotely.
func completedTask(name string) *Task {
	t := &Task{Name: name, done: make(chan struct{})}
	t.finish(nil)
	return t
}

// TaskQueue runs tasks one at a time in submission order.
type TaskQueue struct {
	mu      sync.RWMutex
	closed  bool
	tasks   chan *Task
	wg      sync.WaitGroup
	timeout time.Duration

	onFailure atomic.Pointer[func(t *Task, err error)]
}

func NewTaskQueue(size int, timeout time.Duration) *TaskQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}

	q := &TaskQueue{
		tasks:   make(chan *Task, size),
		timeout: timeout,
	}
	q.wg.Add(1)
	go q.work()
	return q
}

// OnFailure sets the hook called for every failed task.
func (q *TaskQueue) OnFailure(fn func(t *Task, err error)) {
	q.onFailure.Store(&fn)
}

// Submit queues fn. The task keeps ctx's values but not its cancellation, so
// it outlives the call that queued it.
func (q *TaskQueue) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	t := &Task{
		Name: name,
		fn:   fn,
		ctx:  context.WithoutCancel(ctx),
		done: make(chan struct{}),
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		t.finish(ErrQueueClosed)
		return t
	}
	q.tasks <- t
	return t
}

// Close stops accepting tasks and waits for the queued ones to run.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *TaskQueue) work() {
	defer q.wg.Done()

	for t := range q.tasks {
		q.run(t)
	}
}

func (q *TaskQueue) run(t *Task) {
	ctx, cancel := context.WithTimeout(t.ctx, q.timeout)
	defer cancel()

	err := t.fn(ctx)
	if err != nil {
		logger.FromCtx(ctx).Warn("background cart sync failed",
			zap.String("layer", "cartsync"),
			zap.String("task", t.Name),
			zap.Error(err),
		)

		if hook := q.onFailure.Load(); hook != nil && *hook != nil {
			(*hook)(t, err)
		}
	}
	t.finish(err)
}
