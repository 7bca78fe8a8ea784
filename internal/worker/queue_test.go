package worker

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestQueueSwallowsFailuresAndPanics(t *testing.T) {
	var logs bytes.Buffer
	q := NewQueue(Config{Workers: 2, Buffer: 8, Logger: zerolog.New(&logs)})

	var ran atomic.Int32
	require.NoError(t, q.Enqueue(Task{Name: "fails", Run: func(context.Context) error {
		ran.Add(1)
		return errors.New("insert failed")
	}}))
	require.NoError(t, q.Enqueue(Task{Name: "panics", Run: func(context.Context) error {
		ran.Add(1)
		panic("boom")
	}}))
	require.NoError(t, q.Enqueue(Task{Name: "ok", Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}))

	require.NoError(t, q.Shutdown(context.Background()))
	require.Equal(t, int32(3), ran.Load())
	require.Contains(t, logs.String(), "insert failed")
	require.Contains(t, logs.String(), "panic: boom")
	require.Contains(t, logs.String(), `"task":"fails"`)
}

func TestQueueDrainsOnShutdown(t *testing.T) {
	q := NewQueue(Config{Workers: 1, Buffer: 16, Logger: zerolog.Nop()})

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(Task{Name: "slow", Run: func(context.Context) error {
			time.Sleep(2 * time.Millisecond)
			done.Add(1)
			return nil
		}}))
	}

	require.NoError(t, q.Shutdown(context.Background()))
	require.Equal(t, int32(10), done.Load())
	require.ErrorIs(t, q.Enqueue(Task{Name: "late"}), ErrQueueClosed)
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(Config{Workers: 1, Buffer: 1, Logger: zerolog.Nop()})
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, q.Enqueue(Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, q.Enqueue(Task{Name: "buffered", Run: func(context.Context) error { return nil }}))
	require.ErrorIs(t, q.Enqueue(Task{Name: "overflow", Run: func(context.Context) error { return nil }}), ErrQueueFull)

	close(release)
	require.NoError(t, q.Shutdown(context.Background()))
}

func TestTaskContextHasTimeout(t *testing.T) {
	q := NewQueue(Config{Workers: 1, TaskTimeout: 20 * time.Millisecond, Logger: zerolog.Nop()})

	result := make(chan error, 1)
	require.NoError(t, q.Enqueue(Task{Name: "wait", Run: func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}}))

	require.NoError(t, q.Shutdown(context.Background()))
	require.ErrorIs(t, <-result, context.DeadlineExceeded)
}
