// Package scheduler drives background jobs: a single polling loop discovers
// waiting jobs, acquires the lock their handler declares, dispatches the
// handler on its own goroutine and persists every state transition. Lock
// release is the last step of every outcome path, including panics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"storyloom/internal/config"
	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/domain/repositories"
	"storyloom/internal/service/lock"
)

// Scheduler owns the job lifecycle: waiting → running → terminal.
type Scheduler struct {
	jobs     repositories.JobRepository
	books    repositories.BookRepository
	chunks   repositories.ChunkRepository
	locks    *lock.Manager
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]bool // job ids with a pending cancel request

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewScheduler creates a new scheduler. The book and chunk repositories are
// only used for restart recovery scans; handlers mutate records through
// their own services.
func NewScheduler(
	jobs repositories.JobRepository,
	books repositories.BookRepository,
	chunks repositories.ChunkRepository,
	locks *lock.Manager,
	registry *Registry,
	interval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		jobs:     jobs,
		books:    books,
		chunks:   chunks,
		locks:    locks,
		registry: registry,
		interval: interval,
		logger:   logger,
		cancels:  make(map[string]bool),
		stop:     make(chan struct{}),
	}
}

// Enqueue validates and persists a new job in the waiting state. The poll
// loop picks it up on a later tick.
func (s *Scheduler) Enqueue(ctx context.Context, req *models.CreateJobRequest) (*models.Job, error) {
	err := validation.ValidateStruct(req,
		validation.Field(&req.BookID, validation.Required),
		validation.Field(&req.JobType, validation.Required, validation.Length(1, config.MaxJobTypeLength)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	// Reject unknown job types at the door instead of at dispatch time.
	if _, err := s.registry.Get(req.JobType); err != nil {
		return nil, err
	}

	if _, err := s.books.GetByID(ctx, req.BookID); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &models.Job{
		ID:        uuid.NewString(),
		BookID:    req.BookID,
		JobType:   req.JobType,
		Props:     req.Props,
		State:     models.JobStateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if job.Props == nil {
		job.Props = map[string]any{}
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job enqueued",
		"job_id", job.ID,
		"book_id", job.BookID,
		"job_type", job.JobType,
	)

	return job, nil
}

// Get retrieves a job by ID
func (s *Scheduler) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// Logs returns a job's log entries in append order
func (s *Scheduler) Logs(ctx context.Context, jobID string) ([]models.JobLog, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.jobs.ListLogs(ctx, jobID)
}

// RequestCancel flags a job for cooperative cancellation. Waiting jobs are
// cancelled on the next tick before they ever run; running handlers observe
// the flag at their next checkpoint. Terminal jobs cannot be cancelled.
func (s *Scheduler) RequestCancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("job %s is already %s: %w", jobID, job.State, domain.ErrConflict)
	}

	s.mu.Lock()
	s.cancels[jobID] = true
	s.mu.Unlock()

	s.logger.Info("job cancel requested", "job_id", jobID, "state", job.State)
	return nil
}

func (s *Scheduler) cancelRequested(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[jobID]
}

func (s *Scheduler) clearCancel(jobID string) {
	s.mu.Lock()
	delete(s.cancels, jobID)
	s.mu.Unlock()
}

// Start recovers stale state and launches the polling loop. It returns
// immediately; call Stop to drain.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.RecoverStale(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()

	s.logger.Info("scheduler started", "poll_interval", s.interval)
	return nil
}

// Stop halts the polling loop and waits for running handlers to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Tick runs one poll cycle: scan waiting jobs oldest-first and start every
// one whose lock can be acquired. Jobs whose resource is held simply stay
// waiting; that is the backpressure mechanism.
func (s *Scheduler) Tick(ctx context.Context) {
	waiting, err := s.jobs.ListByState(ctx, models.JobStateWaiting)
	if err != nil {
		// A failed scan must never crash the polling loop.
		s.logger.Error("poll scan failed", "error", err)
		return
	}

	for i := range waiting {
		job := waiting[i]

		if s.cancelRequested(job.ID) {
			s.finishEarly(ctx, &job, models.JobStateCancelled, "cancelled before start")
			continue
		}

		handler, err := s.registry.Get(job.JobType)
		if err != nil {
			// Only reachable for rows created outside Enqueue.
			s.failWithoutRunning(ctx, &job, err)
			continue
		}

		resource := ""
		if handler.Scope() != lock.ScopeNone {
			resource, err = handler.Resource(&job)
			if err != nil {
				s.failWithoutRunning(ctx, &job, err)
				continue
			}
		}

		acquired, err := s.locks.TryAcquire(ctx, handler.Scope(), resource, job.ID)
		if err != nil {
			s.failWithoutRunning(ctx, &job, err)
			continue
		}
		if !acquired {
			continue
		}

		if err := s.jobs.UpdateState(ctx, job.ID, models.JobStateRunning, ""); err != nil {
			s.logger.Error("mark job running failed", "job_id", job.ID, "error", err)
			s.releaseLock(ctx, handler.Scope(), resource, job.ID)
			continue
		}
		job.State = models.JobStateRunning

		s.wg.Add(1)
		go s.runJob(ctx, job, handler, resource)
	}
}

// runJob executes one handler and persists the outcome. The deferred block
// owns the terminal transition and the lock release so that handler panics
// can never leave a resource locked by a terminal job.
func (s *Scheduler) runJob(ctx context.Context, job models.Job, handler Handler, resource string) {
	defer s.wg.Done()

	jc := &JobContext{Job: &job, scheduler: s}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("handler panic: %v", r)
				jc.Logf(models.JobLogError, "handler panic: %v\n%s", r, debug.Stack())
			}
		}()
		runErr = handler.Run(ctx, jc)
	}()

	state := models.JobStateComplete
	errMsg := ""
	switch {
	case runErr == nil:
		// A cancel that lands after the handler's last checkpoint loses the
		// race: the work finished and its output persists, so the job reads
		// complete rather than cancelled.
		jc.Logf(models.JobLogInfo, "job complete")
	case errors.Is(runErr, domain.ErrCancelled):
		state = models.JobStateCancelled
		jc.Logf(models.JobLogInfo, "job cancelled")
	default:
		state = models.JobStateError
		errMsg = runErr.Error()
		jc.Logf(models.JobLogError, "job failed: %v", runErr)
	}

	if err := s.jobs.UpdateState(ctx, job.ID, state, errMsg); err != nil {
		s.logger.Error("persist job outcome failed", "job_id", job.ID, "state", state, "error", err)
	}

	// Last step on every path.
	s.releaseLock(ctx, handler.Scope(), resource, job.ID)
	s.clearCancel(job.ID)

	s.logger.Info("job finished",
		"job_id", job.ID,
		"job_type", job.JobType,
		"state", state,
	)
}

// finishEarly moves a waiting job straight to a terminal state (cancel
// before start). No lock is held yet.
func (s *Scheduler) finishEarly(ctx context.Context, job *models.Job, state models.JobState, message string) {
	if err := s.jobs.UpdateState(ctx, job.ID, state, ""); err != nil {
		s.logger.Error("finish waiting job failed", "job_id", job.ID, "error", err)
		return
	}
	s.appendLog(ctx, job.ID, models.JobLogInfo, message)
	s.clearCancel(job.ID)
}

// failWithoutRunning records a dispatch failure for a job that never got a
// handler invocation. The transition still passes through running so the
// state machine stays forward-only.
func (s *Scheduler) failWithoutRunning(ctx context.Context, job *models.Job, cause error) {
	if err := s.jobs.UpdateState(ctx, job.ID, models.JobStateRunning, ""); err != nil {
		s.logger.Error("mark job running failed", "job_id", job.ID, "error", err)
		return
	}
	if err := s.jobs.UpdateState(ctx, job.ID, models.JobStateError, cause.Error()); err != nil {
		s.logger.Error("mark job failed failed", "job_id", job.ID, "error", err)
		return
	}
	s.appendLog(ctx, job.ID, models.JobLogError, "dispatch failed: "+cause.Error())
}

func (s *Scheduler) appendLog(ctx context.Context, jobID string, level models.JobLogLevel, message string) {
	entry := &models.JobLog{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := s.jobs.AppendLog(ctx, entry); err != nil {
		s.logger.Error("append job log failed", "job_id", jobID, "error", err)
	}
}

func (s *Scheduler) releaseLock(ctx context.Context, scope lock.Scope, resource, jobID string) {
	if scope == lock.ScopeNone {
		return
	}
	if err := s.locks.Release(ctx, scope, resource); err != nil {
		// A leaked lock is the single worst failure mode; shout about it.
		s.logger.Error("lock release failed",
			"scope", scope,
			"resource_id", resource,
			"job_id", jobID,
			"error", err,
		)
	}
}
