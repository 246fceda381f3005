package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()

	cfg := DefaultConfig()
	cfg.NumWorkers = workers
	cfg.BackoffUnit = time.Millisecond

	s, err := NewScheduler(cfg)
	require.NoError(t, err)
	return s
}

type completion struct {
	job *Job
	err error
}

func collect(s *Scheduler) <-chan completion {
	done := make(chan completion, 16)
	s.SetOnJobComplete(func(job *Job, err error) {
		done <- completion{job: job, err: err}
	})
	return done
}

func waitFor(t *testing.T, done <-chan completion) completion {
	t.Helper()
	select {
	case c := <-done:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timeout: job never completed")
		return completion{}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.NumWorkers = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.QueueSize = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxRetries = -1
	assert.Error(t, bad.Validate())

	_, err := NewScheduler(bad)
	assert.Error(t, err)
}

func TestEnqueue_RunsStepWithPayload(t *testing.T) {
	s := newTestScheduler(t, 2)
	got := make(chan string, 1)
	s.Register("echo", func(ctx context.Context, payload json.RawMessage) error {
		var v struct{ Name string }
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		got <- v.Name
		return nil
	})
	done := collect(s)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Shutdown(ctx) }()

	id, err := s.Enqueue("echo", map[string]string{"Name": "cs101"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	c := waitFor(t, done)
	assert.NoError(t, c.err)
	assert.Equal(t, id, c.job.ID)
	assert.Equal(t, 0, c.job.Attempt)
	assert.Equal(t, "cs101", <-got)
}

func TestEnqueue_Errors(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Register("noop", func(context.Context, json.RawMessage) error { return nil })

	_, err := s.Enqueue("noop", nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	_, err = s.Enqueue("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownStep)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start")

	_, err = s.Enqueue("noop", make(chan int))
	assert.Error(t, err, "unmarshalable payload")

	require.NoError(t, s.Shutdown(ctx))
	_, err = s.Enqueue("noop", nil)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, s.Shutdown(ctx), "shutdown is idempotent")
}

func TestEnqueue_QueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	cfg.QueueSize = 1
	s, err := NewScheduler(cfg)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	s.Register("block", func(ctx context.Context, _ json.RawMessage) error {
		started <- struct{}{}
		<-release
		return nil
	})

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	_, err = s.Enqueue("block", nil)
	require.NoError(t, err)
	<-started

	_, err = s.Enqueue("block", nil)
	require.NoError(t, err, "fills the buffer")

	_, err = s.Enqueue("block", nil)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, s.Shutdown(ctx))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	s := newTestScheduler(t, 1)
	var calls atomic.Int32
	s.Register("flaky", func(context.Context, json.RawMessage) error {
		if calls.Add(1) < 3 {
			return errors.New("provider unavailable")
		}
		return nil
	})
	done := collect(s)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Shutdown(ctx) }()

	_, err := s.Enqueue("flaky", nil)
	require.NoError(t, err)

	c := waitFor(t, done)
	assert.NoError(t, c.err)
	assert.Equal(t, 2, c.job.Attempt)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	s := newTestScheduler(t, 1)
	var calls atomic.Int32
	s.Register("broken", func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("still down")
	})
	done := collect(s)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Shutdown(ctx) }()

	_, err := s.Enqueue("broken", nil)
	require.NoError(t, err)

	c := waitFor(t, done)
	assert.EqualError(t, c.err, "still down")
	assert.Equal(t, int32(DefaultConfig().MaxRetries+1), calls.Load())
}

func TestRetry_PermanentNotRetried(t *testing.T) {
	s := newTestScheduler(t, 1)
	var calls atomic.Int32
	sentinel := errors.New("bad input")
	s.Register("reject", func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return Permanent(sentinel)
	})
	done := collect(s)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Shutdown(ctx) }()

	_, err := s.Enqueue("reject", nil)
	require.NoError(t, err)

	c := waitFor(t, done)
	assert.ErrorIs(t, c.err, sentinel)
	assert.True(t, IsPermanent(c.err))
	assert.Equal(t, int32(1), calls.Load())

	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(sentinel))
}

func TestShutdown_DrainsQueuedJobs(t *testing.T) {
	s := newTestScheduler(t, 1)
	var ran atomic.Int32
	s.Register("count", func(context.Context, json.RawMessage) error {
		time.Sleep(5 * time.Millisecond)
		ran.Add(1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	for i := 0; i < 5; i++ {
		_, err := s.Enqueue("count", i)
		require.NoError(t, err)
	}

	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, 0, s.QueueLength())
}
