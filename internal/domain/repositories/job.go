package repositories

import (
	"context"

	"storyloom/internal/domain/models"
)

// JobRepository provides access to job rows and their append-only logs.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)

	// ListByState returns jobs in the given state, oldest first. The
	// scheduler relies on this ordering for fair dispatch.
	ListByState(ctx context.Context, state models.JobState) ([]models.Job, error)

	// UpdateState persists a state transition together with the error
	// message (empty for non-error outcomes) and timestamps. Only moves
	// allowed by JobState.CanTransition are applied; anything else fails
	// with ErrConflict, so a terminal state can never be left.
	UpdateState(ctx context.Context, id string, state models.JobState, errMsg string) error

	// AppendLog appends one log entry. Seq is assigned by the repository.
	AppendLog(ctx context.Context, entry *models.JobLog) error

	// ListLogs returns all log entries for a job in append order.
	ListLogs(ctx context.Context, jobID string) ([]models.JobLog, error)
}
