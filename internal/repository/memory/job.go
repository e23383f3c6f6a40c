package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/domain/repositories"
)

// MemoryJobRepository implements JobRepository over maps.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	logs map[string][]models.JobLog
}

// NewJobRepository creates an empty in-memory job repository
func NewJobRepository() repositories.JobRepository {
	return &MemoryJobRepository{
		jobs: make(map[string]*models.Job),
		logs: make(map[string][]models.JobLog),
	}
}

func cloneJob(j *models.Job) *models.Job {
	dup := *j
	if j.Props != nil {
		dup.Props = make(map[string]any, len(j.Props))
		for k, v := range j.Props {
			dup.Props[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		dup.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		dup.FinishedAt = &t
	}
	return &dup
}

// Create creates a new job row
func (r *MemoryJobRepository) Create(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrConflict)
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetByID retrieves a job by ID
func (r *MemoryJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return cloneJob(job), nil
}

// ListByState returns jobs in the given state, oldest first
func (r *MemoryJobRepository) ListByState(ctx context.Context, state models.JobState) ([]models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Job
	for _, job := range r.jobs {
		if job.State == state {
			out = append(out, *cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateState persists a state transition. Illegal moves, including any
// transition out of a terminal state, fail with ErrConflict and leave the
// row untouched.
func (r *MemoryJobRepository) UpdateState(ctx context.Context, id string, state models.JobState, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if !job.State.CanTransition(state) {
		return fmt.Errorf("job %s is %s, cannot move to %s: %w", id, job.State, state, domain.ErrConflict)
	}

	now := time.Now()
	job.State = state
	job.Error = errMsg
	job.UpdatedAt = now
	if state == models.JobStateRunning {
		job.StartedAt = &now
	}
	if state.Terminal() {
		job.FinishedAt = &now
	}
	return nil
}

// AppendLog appends one log entry, assigning the next seq
func (r *MemoryJobRepository) AppendLog(ctx context.Context, entry *models.JobLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[entry.JobID]; !exists {
		return fmt.Errorf("job %s: %w", entry.JobID, domain.ErrNotFound)
	}
	entry.Seq = len(r.logs[entry.JobID]) + 1
	r.logs[entry.JobID] = append(r.logs[entry.JobID], *entry)
	return nil
}

// ListLogs returns all log entries for a job in append order
func (r *MemoryJobRepository) ListLogs(ctx context.Context, jobID string) ([]models.JobLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	logs := r.logs[jobID]
	out := make([]models.JobLog, len(logs))
	copy(out, logs)
	return out, nil
}
