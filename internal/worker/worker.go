// Package worker runs deferred continuations (background reindexing and
// external sync replay) on an execution context distinct from the caller.
//
// Jobs are executed one at a time in submission order. A failing job is
// logged and the loop continues; jobs are never retried here.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker stopped")

// Job is one unit of deferred work.
type Job struct {
	// Name identifies the job in logs.
	Name string
	Run  func(ctx context.Context) error
}

// Worker owns a job queue and a single-goroutine run loop.
type Worker struct {
	queue *jobQueue
}

// New creates a worker. capacity pre-sizes the queue.
func New(capacity int) *Worker {
	return &Worker{queue: newJobQueue(capacity)}
}

// Submit enqueues a job. Thread-safe.
func (w *Worker) Submit(j Job) error {
	if !w.queue.Enqueue(j) {
		return ErrStopped
	}
	slog.Debug("job submitted", "job", j.Name, "pending", w.queue.Len())
	return nil
}

// Len returns the number of jobs waiting.
func (w *Worker) Len() int {
	return w.queue.Len()
}

// Run processes jobs until ctx is cancelled or Stop is called and the
// queue has drained.
//
// CRITICAL: Run must be called from a single goroutine.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker starting")

	for {
		if j, ok := w.queue.TryDequeue(); ok {
			w.execute(ctx, j)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("worker stopping: context cancelled")
			w.queue.Close()
			return ctx.Err()

		case <-w.queue.Wait():
			// The signal channel closes when the queue is closed.
			w.queue.mu.Lock()
			done := w.queue.closed && len(w.queue.jobs) == 0
			w.queue.mu.Unlock()
			if done {
				slog.Info("worker stopping: queue closed")
				return nil
			}
		}
	}
}

// RunPending executes every queued job on the calling goroutine, including
// jobs submitted by the jobs themselves, and returns how many ran. Used by
// the CLI and tests where no background loop is running.
func (w *Worker) RunPending(ctx context.Context) int {
	n := 0
	for {
		j, ok := w.queue.TryDequeue()
		if !ok {
			return n
		}
		w.execute(ctx, j)
		n++
	}
}

// Stop closes the queue. Run returns once the queued jobs are done.
func (w *Worker) Stop() {
	w.queue.Close()
}

func (w *Worker) execute(ctx context.Context, j Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job", j.Name, "panic", r)
		}
	}()

	// Design: "log and continue". Failed continuations are observable
	// through logs and backlog status, never through the caller.
	if err := j.Run(ctx); err != nil {
		slog.Error("job failed", "job", j.Name, "error", err, "duration", time.Since(start))
		return
	}
	slog.Debug("job done", "job", j.Name, "duration", time.Since(start))
}
