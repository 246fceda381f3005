package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler owns the queue, the registered steps and the worker pool.
type Scheduler struct {
	config Config

	steps map[string]StepFunc

	queue           chan *Job
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc

	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	onJobComplete func(job *Job, err error)
}

// NewScheduler creates a scheduler. Use DefaultConfig() for sensible defaults.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Scheduler{
		config: cfg,
		steps:  make(map[string]StepFunc),
		queue:  make(chan *Job, cfg.QueueSize),
	}, nil
}

// Register adds a named step. Registering after Start is allowed.
func (s *Scheduler) Register(name string, fn StepFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[name] = fn
}

func (s *Scheduler) step(name string) (StepFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.steps[name]
	return fn, ok
}

// SetOnJobComplete sets a callback fired when a job finishes for good:
// success, permanent failure or retries exhausted. err is nil on success.
func (s *Scheduler) SetOnJobComplete(callback func(job *Job, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJobComplete = callback
}

// Enqueue marshals payload and queues a run of step. It never blocks.
func (s *Scheduler) Enqueue(step string, payload interface{}) (string, error) {
	if _, ok := s.step(step); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for %s: %w", step, err)
	}

	// Held across the send so Shutdown cannot close the queue underneath.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.shuttingDown {
		return "", ErrNotRunning
	}

	job := &Job{
		ID:        uuid.NewString(),
		Step:      step,
		Payload:   raw,
		Timestamp: time.Now(),
	}
	if !s.queueJob(job) {
		return "", ErrQueueFull
	}
	return job.ID, nil
}

// Start starts the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.workerCtx, s.workerCancel = context.WithCancel(ctx)
	s.startWorkerPool(s.workerCtx)
	s.started = true
	return nil
}

// Shutdown stops accepting jobs and waits for queued jobs to drain, up to
// ShutdownTimeout or until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.shuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = true
	close(s.queue)
	s.mu.Unlock()

	log.Println("Shutting down scheduler...")
	err := s.stopWorkerPool(ctx)
	if s.workerCancel != nil {
		s.workerCancel()
	}
	return err
}

// QueueLength returns the current number of jobs in the queue.
func (s *Scheduler) QueueLength() int {
	return len(s.queue)
}
