package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/domain/repositories"
	"storyloom/internal/repository/memory"
	"storyloom/internal/service/lock"
)

// testHandler is a configurable handler for driving the scheduler in tests.
type testHandler struct {
	scope    lock.Scope
	resource func(job *models.Job) (string, error)
	run      func(ctx context.Context, jc *JobContext) error
}

func (h *testHandler) Scope() lock.Scope { return h.scope }

func (h *testHandler) Resource(job *models.Job) (string, error) {
	if h.resource != nil {
		return h.resource(job)
	}
	return job.PropString("chunk_id"), nil
}

func (h *testHandler) Run(ctx context.Context, jc *JobContext) error {
	if h.run != nil {
		return h.run(ctx, jc)
	}
	return nil
}

type schedulerFixture struct {
	scheduler *Scheduler
	jobs      repositories.JobRepository
	books     repositories.BookRepository
	chunks    repositories.ChunkRepository
	registry  *Registry
	book      *models.Book
	chunk     *models.Chunk
}

func newFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobRepo := memory.NewJobRepository()
	bookRepo := memory.NewBookRepository()
	chunkRepo := memory.NewChunkRepository()
	locks := lock.NewManager(bookRepo, chunkRepo, logger)
	registry := NewRegistry()
	ctx := context.Background()

	now := time.Now()
	book := &models.Book{ID: "book-1", Title: "Book", Props: map[string]any{}, CreatedAt: now, UpdatedAt: now}
	if err := bookRepo.Create(ctx, book); err != nil {
		t.Fatalf("create book: %v", err)
	}
	chunk := &models.Chunk{
		ChunkID:   "chunk-1",
		Version:   1,
		BookID:    book.ID,
		IsLatest:  true,
		Type:      "scene",
		Props:     map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := chunkRepo.InsertVersion(ctx, chunk); err != nil {
		t.Fatalf("create chunk: %v", err)
	}

	sched := NewScheduler(jobRepo, bookRepo, chunkRepo, locks, registry, time.Second, logger)

	return &schedulerFixture{
		scheduler: sched,
		jobs:      jobRepo,
		books:     bookRepo,
		chunks:    chunkRepo,
		registry:  registry,
		book:      book,
		chunk:     chunk,
	}
}

func (f *schedulerFixture) enqueue(t *testing.T, jobType string, props map[string]any) *models.Job {
	t.Helper()
	job, err := f.scheduler.Enqueue(context.Background(), &models.CreateJobRequest{
		BookID:  f.book.ID,
		JobType: jobType,
		Props:   props,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

// waitForState polls until the job reaches the wanted state or the deadline
// passes. Handlers run on their own goroutines, so outcomes land
// asynchronously even when tests drive Tick directly.
func (f *schedulerFixture) waitForState(t *testing.T, jobID string, want models.JobState) *models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.jobs.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.State == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := f.jobs.GetByID(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, stuck in %s", jobID, want, job.State)
	return nil
}

func (f *schedulerFixture) chunkLocked(t *testing.T) bool {
	t.Helper()
	row, err := f.chunks.GetLatest(context.Background(), f.chunk.ChunkID)
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}
	return row.IsLocked
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register("noop", &testHandler{scope: lock.ScopeNone})

	tests := []struct {
		name    string
		req     *models.CreateJobRequest
		wantErr error
	}{
		{
			name:    "missing book id",
			req:     &models.CreateJobRequest{JobType: "noop"},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "missing job type",
			req:     &models.CreateJobRequest{BookID: f.book.ID},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "unknown job type",
			req:     &models.CreateJobRequest{BookID: f.book.ID, JobType: "nope"},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "unknown book",
			req:     &models.CreateJobRequest{BookID: "no-such-book", JobType: "noop"},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.scheduler.Enqueue(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Enqueue error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	job, err := f.scheduler.Enqueue(ctx, &models.CreateJobRequest{BookID: f.book.ID, JobType: "noop"})
	if err != nil {
		t.Fatalf("valid enqueue: %v", err)
	}
	if job.State != models.JobStateWaiting {
		t.Errorf("new job state = %s, want waiting", job.State)
	}
}

func TestJobRunsToComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sawLock := false
	f.registry.Register("work", &testHandler{
		scope: lock.ScopeChunk,
		run: func(ctx context.Context, jc *JobContext) error {
			// The lock must already be held while the handler runs.
			sawLock = f.chunkLocked(t)
			jc.Logf(models.JobLogInfo, "doing work")
			return nil
		},
	})

	job := f.enqueue(t, "work", map[string]any{"chunk_id": f.chunk.ChunkID})
	f.scheduler.Tick(ctx)

	done := f.waitForState(t, job.ID, models.JobStateComplete)

	if !sawLock {
		t.Error("handler ran without the chunk lock held")
	}
	if f.chunkLocked(t) {
		t.Error("lock not released after completion")
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("started_at/finished_at not stamped")
	}

	logs, err := f.jobs.ListLogs(ctx, job.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	var messages []string
	for _, entry := range logs {
		messages = append(messages, entry.Message)
	}
	joined := strings.Join(messages, "\n")
	if !strings.Contains(joined, "doing work") || !strings.Contains(joined, "job complete") {
		t.Errorf("job log missing expected entries:\n%s", joined)
	}
	// Seq is dense and ordered.
	for i, entry := range logs {
		if entry.Seq != i+1 {
			t.Errorf("log seq[%d] = %d, want %d", i, entry.Seq, i+1)
		}
	}
}

func TestJobsOnSameChunkSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan string, 2)
	f.registry.Register("work", &testHandler{
		scope: lock.ScopeChunk,
		run: func(ctx context.Context, jc *JobContext) error {
			started <- jc.Job.ID
			<-release
			return nil
		},
	})

	props := map[string]any{"chunk_id": f.chunk.ChunkID}
	first := f.enqueue(t, "work", props)
	second := f.enqueue(t, "work", props)

	f.scheduler.Tick(ctx)

	// Only the first job starts; the second stays waiting on the held lock.
	select {
	case id := <-started:
		if id != first.ID {
			t.Fatalf("job %s started first, want %s", id, first.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}

	f.scheduler.Tick(ctx)
	if job, _ := f.jobs.GetByID(ctx, second.ID); job.State != models.JobStateWaiting {
		t.Fatalf("second job state = %s while lock held, want waiting", job.State)
	}

	close(release)
	f.waitForState(t, first.ID, models.JobStateComplete)

	f.scheduler.Tick(ctx)
	select {
	case id := <-started:
		if id != second.ID {
			t.Fatalf("unexpected job started: %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second job never started after lock release")
	}
	f.waitForState(t, second.ID, models.JobStateComplete)
}

func TestCancelBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register("work", &testHandler{
		scope: lock.ScopeChunk,
		run: func(ctx context.Context, jc *JobContext) error {
			t.Error("handler ran for a job cancelled before start")
			return nil
		},
	})

	job := f.enqueue(t, "work", map[string]any{"chunk_id": f.chunk.ChunkID})
	if err := f.scheduler.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	f.scheduler.Tick(ctx)
	f.waitForState(t, job.ID, models.JobStateCancelled)

	if f.chunkLocked(t) {
		t.Error("cancelled-before-start job left a lock behind")
	}
}

func TestCooperativeCancelDuringRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	running := make(chan struct{})
	f.registry.Register("work", &testHandler{
		scope: lock.ScopeChunk,
		run: func(ctx context.Context, jc *JobContext) error {
			close(running)
			for !jc.Cancelled() {
				time.Sleep(time.Millisecond)
			}
			return domain.ErrCancelled
		},
	})

	job := f.enqueue(t, "work", map[string]any{"chunk_id": f.chunk.ChunkID})
	f.scheduler.Tick(ctx)

	<-running
	if err := f.scheduler.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	f.waitForState(t, job.ID, models.JobStateCancelled)
	if f.chunkLocked(t) {
		t.Error("cancelled job left its lock behind")
	}
}

func TestCancelAfterLastCheckpointCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	running := make(chan struct{})
	finish := make(chan struct{})
	f.registry.Register("work", &testHandler{
		scope: lock.ScopeChunk,
		run: func(ctx context.Context, jc *JobContext) error {
			close(running)
			<-finish
			// No checkpoint after this point; the work is done.
			return nil
		},
	})

	job := f.enqueue(t, "work", map[string]any{"chunk_id": f.chunk.ChunkID})
	f.scheduler.Tick(ctx)

	<-running
	if err := f.scheduler.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	close(finish)

	// The cancel arrived too late to be observed, so the finished work wins
	// and the job reads complete.
	f.waitForState(t, job.ID, models.JobStateComplete)
	if f.chunkLocked(t) {
		t.Error("completed job left its lock behind")
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register("work", &testHandler{scope: lock.ScopeNone})
	job := f.enqueue(t, "work", nil)

	f.scheduler.Tick(ctx)
	f.waitForState(t, job.ID, models.JobStateComplete)

	if err := f.scheduler.RequestCancel(ctx, job.ID); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("cancel of terminal job = %v, want ErrConflict", err)
	}
}

func TestHandlerErrorFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register("work", &testHandler{
		scope: lock.ScopeChunk,
		run: func(ctx context.Context, jc *JobContext) error {
			return fmt.Errorf("provider exploded")
		},
	})

	job := f.enqueue(t, "work", map[string]any{"chunk_id": f.chunk.ChunkID})
	f.scheduler.Tick(ctx)

	failed := f.waitForState(t, job.ID, models.JobStateError)
	if !strings.Contains(failed.Error, "provider exploded") {
		t.Errorf("job error = %q, want the handler error", failed.Error)
	}
	if f.chunkLocked(t) {
		t.Error("failed job left its lock behind")
	}
}

func TestHandlerPanicFailsJobAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register("work", &testHandler{
		scope: lock.ScopeChunk,
		run: func(ctx context.Context, jc *JobContext) error {
			panic("boom")
		},
	})

	job := f.enqueue(t, "work", map[string]any{"chunk_id": f.chunk.ChunkID})
	f.scheduler.Tick(ctx)

	failed := f.waitForState(t, job.ID, models.JobStateError)
	if !strings.Contains(failed.Error, "handler panic") {
		t.Errorf("job error = %q, want a handler panic message", failed.Error)
	}
	if f.chunkLocked(t) {
		t.Error("panicked job left its lock behind")
	}

	logs, err := f.jobs.ListLogs(ctx, job.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Level == models.JobLogError && strings.Contains(entry.Message, "boom") {
			found = true
		}
	}
	if !found {
		t.Error("panic not recorded in the job log")
	}
}

func TestMissingResourceFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register("work", &testHandler{
		scope: lock.ScopeChunk,
		resource: func(job *models.Job) (string, error) {
			return "", fmt.Errorf("%w: no chunk_id", domain.ErrValidation)
		},
	})

	job := f.enqueue(t, "work", nil)
	f.scheduler.Tick(ctx)

	failed := f.waitForState(t, job.ID, models.JobStateError)
	if !strings.Contains(failed.Error, "no chunk_id") {
		t.Errorf("job error = %q, want the resource error", failed.Error)
	}
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a crashed process: a running job and lock rows left set.
	now := time.Now()
	stale := &models.Job{
		ID:        "stale-job",
		BookID:    f.book.ID,
		JobType:   "work",
		Props:     map[string]any{},
		State:     models.JobStateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.jobs.Create(ctx, stale); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := f.jobs.UpdateState(ctx, stale.ID, models.JobStateRunning, ""); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if _, err := f.chunks.TryLock(ctx, f.chunk.ChunkID, stale.ID); err != nil {
		t.Fatalf("lock chunk: %v", err)
	}
	if _, err := f.books.TryLock(ctx, f.book.ID, stale.ID); err != nil {
		t.Fatalf("lock book: %v", err)
	}

	if err := f.scheduler.RecoverStale(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	job, err := f.jobs.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != models.JobStateError {
		t.Errorf("interrupted job state = %s, want error", job.State)
	}
	if !strings.Contains(job.Error, "interrupted by restart") {
		t.Errorf("interrupted job error = %q", job.Error)
	}

	if f.chunkLocked(t) {
		t.Error("stale chunk lock survived recovery")
	}
	book, err := f.books.GetByID(ctx, f.book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.IsLocked {
		t.Error("stale book lock survived recovery")
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	f.registry.Register("work", &testHandler{scope: lock.ScopeNone})
	job := f.enqueue(t, "work", nil)

	sched := NewScheduler(f.jobs, f.books, f.chunks,
		lock.NewManager(f.books, f.chunks, slog.New(slog.NewTextHandler(io.Discard, nil))),
		f.registry, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.jobs.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.State == models.JobStateComplete {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("polling loop never completed the job")
}
