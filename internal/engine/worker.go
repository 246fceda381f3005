package engine

import (
	"context"
	"log"
	"time"
)

// queueJob attempts to queue a job without blocking.
// Returns false if the queue is full or shutdown is in progress.
func (s *Scheduler) queueJob(job *Job) bool {
	if s.workerCtx != nil && s.workerCtx.Err() != nil {
		return false
	}

	select {
	case s.queue <- job:
		return true
	default:
		log.Printf("WARNING: Job queue full (size=%d), dropping %s job %s",
			s.config.QueueSize, job.Step, job.ID)
		return false
	}
}

// requeueJob attempts to requeue a failed job.
// Returns false if max retries are exceeded or the queue is unavailable.
func (s *Scheduler) requeueJob(job *Job) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shuttingDown {
		log.Printf("WARNING: Failed to requeue %s job %s, shutdown in progress", job.Step, job.ID)
		return false
	}

	if job.Attempt >= s.config.MaxRetries {
		log.Printf("Max retries (%d) exceeded for %s job %s, giving up",
			s.config.MaxRetries, job.Step, job.ID)
		return false
	}

	job.Attempt++

	select {
	case s.queue <- job:
		log.Printf("Requeued %s job %s (attempt %d/%d)", job.Step, job.ID, job.Attempt, s.config.MaxRetries)
		return true
	case <-time.After(10 * time.Millisecond):
		log.Printf("WARNING: Failed to requeue %s job %s, queue timeout", job.Step, job.ID)
		return false
	}
}

// worker processes jobs until the queue is closed.
func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.workerWaitGroup.Done()

	for job := range s.queue {
		s.processJob(ctx, workerID, job)
	}
}

// processJob runs one job, requeueing it on a retryable failure.
func (s *Scheduler) processJob(ctx context.Context, workerID int, job *Job) {
	log.Printf("Worker %d running %s job %s (attempt %d)", workerID, job.Step, job.ID, job.Attempt)

	// Quadratic backoff: 100ms, 400ms, 900ms...
	if job.Attempt > 0 {
		backoff := time.Duration(job.Attempt*job.Attempt) * s.config.BackoffUnit
		log.Printf("Worker %d: Waiting %v before retry (attempt %d)", workerID, backoff, job.Attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
	}

	fn, ok := s.step(job.Step)
	if !ok {
		log.Printf("ERROR: Worker %d has no step %q for job %s", workerID, job.Step, job.ID)
		s.complete(job, ErrUnknownStep)
		return
	}

	err := fn(ctx, job.Payload)
	if err == nil {
		log.Printf("Worker %d completed %s job %s", workerID, job.Step, job.ID)
		s.complete(job, nil)
		return
	}

	log.Printf("ERROR: Worker %d %s job %s failed: %v", workerID, job.Step, job.ID, err)
	if IsPermanent(err) || !s.requeueJob(job) {
		s.complete(job, err)
	}
}

func (s *Scheduler) complete(job *Job, err error) {
	s.mu.RLock()
	cb := s.onJobComplete
	s.mu.RUnlock()
	if cb != nil {
		cb(job, err)
	}
}

// startWorkerPool starts the worker goroutines.
func (s *Scheduler) startWorkerPool(ctx context.Context) {
	for i := 0; i < s.config.NumWorkers; i++ {
		s.workerWaitGroup.Add(1)
		go s.worker(ctx, i)
	}
	log.Printf("Started %d workers", s.config.NumWorkers)
}

// stopWorkerPool waits for the workers to drain the closed queue.
func (s *Scheduler) stopWorkerPool(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All workers finished gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		log.Printf("WARNING: Shutdown timeout reached, %d jobs may be dropped", s.QueueLength())
		return nil
	case <-ctx.Done():
		log.Printf("WARNING: Context cancelled, %d jobs may be dropped", s.QueueLength())
		return ctx.Err()
	}
}
