// Package engine runs named pipeline steps in the background. A step is a
// function of a JSON payload; failed steps are retried with backoff by a
// fixed worker pool reading from a bounded queue.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue buffer is full.
	ErrQueueFull = errors.New("job queue full")

	// ErrNotRunning is returned by Enqueue before Start or after Shutdown.
	ErrNotRunning = errors.New("scheduler not running")

	// ErrUnknownStep is returned for a step name that was never registered.
	ErrUnknownStep = errors.New("unknown step")
)

// StepFunc executes one step. Returning an error schedules a retry unless
// the error is marked Permanent.
type StepFunc func(ctx context.Context, payload json.RawMessage) error

// Job is one queued step invocation.
type Job struct {
	ID      string
	Step    string
	Payload json.RawMessage

	// Timestamp is when the job was first queued.
	Timestamp time.Time

	// Attempt counts retries; 0 is the first run.
	Attempt int
}

// Config holds configuration for the scheduler.
type Config struct {
	// NumWorkers is the number of worker goroutines (default: 4).
	NumWorkers int

	// QueueSize is the size of the job queue buffer (default: 1000).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts per job (default: 3).
	MaxRetries int

	// BackoffUnit scales the retry delay: Attempt² × BackoffUnit (default: 100ms).
	BackoffUnit time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:      4,
		QueueSize:       1000,
		ShutdownTimeout: 30 * time.Second,
		MaxRetries:      3,
		BackoffUnit:     100 * time.Millisecond,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.BackoffUnit < 0 {
		return fmt.Errorf("BackoffUnit must be >= 0, got %v", c.BackoffUnit)
	}
	return nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
