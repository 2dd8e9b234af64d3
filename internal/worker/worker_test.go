package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue(0)
	for _, name := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(Job{Name: name}))
	}

	for _, want := range []string{"A", "B", "C"} {
		j, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, j.Name)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestJobQueue_EnqueueAfterClose(t *testing.T) {
	q := newJobQueue(1)
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(Job{Name: "late"}))
}

func TestRunPending_LogsAndContinues(t *testing.T) {
	w := New(4)
	var ran []string

	require.NoError(t, w.Submit(Job{Name: "fails", Run: func(context.Context) error {
		ran = append(ran, "fails")
		return errors.New("boom")
	}}))
	require.NoError(t, w.Submit(Job{Name: "panics", Run: func(context.Context) error {
		ran = append(ran, "panics")
		panic("bad")
	}}))
	require.NoError(t, w.Submit(Job{Name: "chains", Run: func(context.Context) error {
		ran = append(ran, "chains")
		return w.Submit(Job{Name: "child", Run: func(context.Context) error {
			ran = append(ran, "child")
			return nil
		}})
	}}))

	n := w.RunPending(context.Background())

	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"fails", "panics", "chains", "child"}, ran)
	assert.Equal(t, 0, w.Len())
}

func TestRun_DrainsThenStops(t *testing.T) {
	w := New(0)
	var mu sync.Mutex
	count := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Submit(Job{Name: "inc", Run: func(context.Context) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		}}))
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 5
	}, time.Second, time.Millisecond)

	w.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.ErrorIs(t, w.Submit(Job{Name: "late"}), ErrStopped)
}

func TestRun_ContextCancel(t *testing.T) {
	w := New(0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
