package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{}, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen[job.ID] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{ID: id, Type: "t"}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	mu.Lock()
	assert.Len(t, seen, 3)
	mu.Unlock()
	assert.Eventually(t, func() bool { return q.Stats().Succeeded == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(3), q.Stats().Enqueued)
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j"}))
	assert.Eventually(t, func() bool { return q.Stats().Succeeded == 1 }, 2*time.Second, 5*time.Millisecond)
	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Retried)
	assert.Equal(t, uint64(1), stats.Enqueued)
	assert.Zero(t, stats.DeadLettered)
}

func TestQueueDeadLettersAfterRetries(t *testing.T) {
	dead := make(chan Job, 1)
	q := NewQueue("dead", func(ctx context.Context, job Job) error {
		return errors.New("permanent")
	}, QueueConfig{MaxRetries: 1, RetryDelay: time.Millisecond, DeadLetter: func(job Job, err error) { dead <- job }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j"}))
	select {
	case job := <-dead:
		assert.Equal(t, "j", job.ID)
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dead-lettered")
	}
	assert.Equal(t, uint64(1), q.Stats().Retried)
}

func TestQueueRejectsWhenStopped(t *testing.T) {
	q := NewQueue("stopped", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(context.Background(), Job{ID: "j"})
	assert.ErrorIs(t, err, ErrQueueStopped)

	q.Start(context.Background())
	q.Stop()
	err = q.Enqueue(context.Background(), Job{ID: "j"})
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestQueueStopDrainsAcceptedJobs(t *testing.T) {
	release := make(chan struct{})
	var handled int32
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		<-release
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{ID: fmt.Sprintf("j%d", i)}))
	}

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&handled))
	assert.Equal(t, uint64(5), q.Stats().Succeeded)
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{ID: "late"}), ErrQueueStopped)
}

func TestQueueStopRunsDelayedRetries(t *testing.T) {
	var attempts int32
	q := NewQueue("drain-retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Hour})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "j"}))
	require.Eventually(t, func() bool { return q.Stats().Retried == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop waited out the retry delay")
	}
	assert.Equal(t, uint64(1), q.Stats().Succeeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestQueueDrainHonoursDeadline(t *testing.T) {
	q := NewQueue("deadline", func(ctx context.Context, job Job) error {
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "stuck"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Drain(ctx), context.DeadlineExceeded)
	assert.Zero(t, q.Stats().Succeeded)
}
