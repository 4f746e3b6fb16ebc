package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrWorkerClosed is returned by Submit once Drain has been called.
var ErrWorkerClosed = errors.New("export worker is shutting down")

// DefaultExportTimeout bounds a single background export.
const DefaultExportTimeout = 10 * time.Minute

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Worker runs keyed background tasks. At most one task per key runs at a
// time and every task gets its own deadline. The number of tasks doing
// real work is bounded by an ExportLimiter.
type Worker struct {
	limiter *ExportLimiter
	timeout time.Duration

	mu     sync.Mutex
	tasks  map[string]*runningTask
	closed bool
	wg     sync.WaitGroup
}

type runningTask struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool

	// next is a submission that arrived while the task was running.
	next *submission
}

type submission struct {
	ctx     context.Context
	run     Task
	onError func(error)
}

// NewWorker returns a worker sharing limiter across its tasks.
func NewWorker(limiter *ExportLimiter, timeout time.Duration) *Worker {
	if limiter == nil {
		limiter = NewExportLimiter(0, 0)
	}
	if timeout <= 0 {
		timeout = DefaultExportTimeout
	}
	return &Worker{
		limiter: limiter,
		timeout: timeout,
		tasks:   make(map[string]*runningTask),
	}
}

// Submit starts run under key. When a task with the same key is still
// running, run is queued to start once that task has finished; later
// submissions replace the queued one, so a key never has more than one
// task running and one waiting. Submit reports whether run started now.
// The task's context keeps ctx's values but not its cancellation.
//
// onError receives any error from run, or the limiter error when no slot
// became free. It is not called for tasks stopped through Cancel.
func (w *Worker) Submit(ctx context.Context, key string, run Task, onError func(error)) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, ErrWorkerClosed
	}
	sub := &submission{ctx: ctx, run: run, onError: onError}
	if t, busy := w.tasks[key]; busy {
		t.next = sub
		return false, nil
	}
	w.start(key, sub)
	return true, nil
}

// start launches sub under key. w.mu must be held.
func (w *Worker) start(key string, sub *submission) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(sub.ctx), w.timeout)
	t := &runningTask{cancel: cancel, done: make(chan struct{})}
	w.tasks[key] = t
	w.wg.Add(1)

	go func() {
		defer w.finish(key, t)

		err := w.run(taskCtx, sub.run)
		if err != nil && sub.onError != nil && !t.stopped.Load() {
			sub.onError(err)
		}
	}()
}

func (w *Worker) run(ctx context.Context, task Task) (err error) {
	if err := w.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer w.limiter.Release()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("export task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (w *Worker) finish(key string, t *runningTask) {
	t.cancel()

	var dropped *submission
	w.mu.Lock()
	if w.tasks[key] == t {
		delete(w.tasks, key)
		if t.next != nil && !t.stopped.Load() {
			if w.closed {
				dropped = t.next
			} else {
				w.start(key, t.next)
			}
		}
	}
	w.mu.Unlock()

	if dropped != nil && dropped.onError != nil {
		dropped.onError(ErrWorkerClosed)
	}
	close(t.done)
	w.wg.Done()
}

// Cancel stops the task running under key and waits for it to exit, or for
// ctx to end. It reports whether a task was running.
func (w *Worker) Cancel(ctx context.Context, key string) bool {
	w.mu.Lock()
	t, ok := w.tasks[key]
	w.mu.Unlock()
	if !ok {
		return false
	}

	t.stopped.Store(true)
	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
	}
	return true
}

// Running reports whether a task is running under key.
func (w *Worker) Running(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tasks[key]
	return ok
}

// Active returns the number of running tasks.
func (w *Worker) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// Drain stops accepting tasks and waits for running ones to finish. When
// ctx ends first, the remaining tasks are cancelled and ctx's error is
// returned.
func (w *Worker) Drain(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.mu.Lock()
		for _, t := range w.tasks {
			t.cancel()
		}
		w.mu.Unlock()
		return ctx.Err()
	}
}
