package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
)

func newTestJob(t *testing.T) (*MemoryJobRepository, *models.Job) {
	t.Helper()

	repo := NewJobRepository().(*MemoryJobRepository)
	now := time.Now()
	job := &models.Job{
		ID:        "job-1",
		BookID:    "book-1",
		JobType:   "noop",
		Props:     map[string]any{},
		State:     models.JobStateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return repo, job
}

func TestUpdateStateForwardOnly(t *testing.T) {
	repo, job := newTestJob(t)
	ctx := context.Background()

	if err := repo.UpdateState(ctx, job.ID, models.JobStateRunning, ""); err != nil {
		t.Fatalf("waiting to running: %v", err)
	}
	if err := repo.UpdateState(ctx, job.ID, models.JobStateComplete, ""); err != nil {
		t.Fatalf("running to complete: %v", err)
	}

	// Terminal states admit nothing further.
	for _, next := range []models.JobState{
		models.JobStateWaiting,
		models.JobStateRunning,
		models.JobStateCancelled,
		models.JobStateError,
	} {
		if err := repo.UpdateState(ctx, job.ID, next, ""); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("complete to %s = %v, want ErrConflict", next, err)
		}
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != models.JobStateComplete {
		t.Errorf("job state = %s after rejected transitions, want complete", got.State)
	}
}

func TestUpdateStateRejectsSkippedStates(t *testing.T) {
	repo, job := newTestJob(t)
	ctx := context.Background()

	// A waiting job cannot jump straight to a terminal outcome other than
	// cancelled.
	if err := repo.UpdateState(ctx, job.ID, models.JobStateComplete, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("waiting to complete = %v, want ErrConflict", err)
	}
	if err := repo.UpdateState(ctx, job.ID, models.JobStateError, "boom"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("waiting to error = %v, want ErrConflict", err)
	}

	// Cancel before start is the one legal shortcut.
	if err := repo.UpdateState(ctx, job.ID, models.JobStateCancelled, ""); err != nil {
		t.Fatalf("waiting to cancelled: %v", err)
	}
}

func TestUpdateStateUnknownJob(t *testing.T) {
	repo, _ := newTestJob(t)

	err := repo.UpdateState(context.Background(), "no-such-job", models.JobStateRunning, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown job = %v, want ErrNotFound", err)
	}
}
