package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/domain/repositories"
)

const jobColumns = `id, book_id, job_type, props, state, error, created_at, updated_at, started_at, finished_at`

// PostgresJobRepository implements the JobRepository interface
type PostgresJobRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewJobRepository creates a new job repository
func NewJobRepository(config *RepositoryConfig) repositories.JobRepository {
	return &PostgresJobRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID,
		&j.BookID,
		&j.JobType,
		&j.Props,
		&j.State,
		&j.Error,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.StartedAt,
		&j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Create creates a new job row
func (r *PostgresJobRepository) Create(ctx context.Context, job *models.Job) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, book_id, job_type, props, state, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.Jobs)

	exec := GetExecutor(ctx, r.pool)
	_, err := exec.Exec(ctx, query,
		job.ID,
		job.BookID,
		job.JobType,
		job.Props,
		job.State,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return fmt.Errorf("job %s: %w", job.ID, domain.ErrConflict)
		}
		if isPgForeignKeyError(err) {
			return fmt.Errorf("book %s: %w", job.BookID, domain.ErrNotFound)
		}
		return fmt.Errorf("create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by ID
func (r *PostgresJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = $1
	`, jobColumns, r.tables.Jobs)

	exec := GetExecutor(ctx, r.pool)
	job, err := scanJob(exec.QueryRow(ctx, query, id))
	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	return job, nil
}

// ListByState returns jobs in the given state, oldest first
func (r *PostgresJobRepository) ListByState(ctx context.Context, state models.JobState) ([]models.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE state = $1
		ORDER BY created_at ASC, id ASC
	`, jobColumns, r.tables.Jobs)

	exec := GetExecutor(ctx, r.pool)
	rows, err := exec.Query(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}

// UpdateState persists a state transition.
// started_at is stamped on entering running, finished_at on entering any
// terminal state. The WHERE clause admits only legal source states, so an
// illegal move (in particular out of a terminal state) updates zero rows and
// fails with ErrConflict.
func (r *PostgresJobRepository) UpdateState(ctx context.Context, id string, state models.JobState, errMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			state = $2,
			error = $3,
			updated_at = NOW(),
			started_at = CASE WHEN $2 = 'running' THEN NOW() ELSE started_at END,
			finished_at = CASE WHEN $2 IN ('complete', 'error', 'cancelled') THEN NOW() ELSE finished_at END
		WHERE id = $1 AND state = ANY($4)
	`, r.tables.Jobs)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, id, state, errMsg, transitionSources(state))
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if result.RowsAffected() == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s, cannot move to %s: %w", id, current.State, state, domain.ErrConflict)
	}

	return nil
}

// transitionSources lists the states a job may be in for a move to next to
// be legal, mirroring JobState.CanTransition as a SQL guard.
func transitionSources(next models.JobState) []string {
	all := []models.JobState{
		models.JobStateWaiting,
		models.JobStateRunning,
		models.JobStateComplete,
		models.JobStateError,
		models.JobStateCancelled,
	}
	var sources []string
	for _, s := range all {
		if s.CanTransition(next) {
			sources = append(sources, string(s))
		}
	}
	return sources
}

// AppendLog appends one log entry. Seq assignment races are not a concern
// because exactly one scheduler goroutine writes a given job's log.
func (r *PostgresJobRepository) AppendLog(ctx context.Context, entry *models.JobLog) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, seq, level, message, created_at)
		VALUES ($1, COALESCE((SELECT MAX(seq) FROM %s WHERE job_id = $1), 0) + 1, $2, $3, $4)
		RETURNING seq
	`, r.tables.JobLogs, r.tables.JobLogs)

	exec := GetExecutor(ctx, r.pool)
	err := exec.QueryRow(ctx, query,
		entry.JobID,
		entry.Level,
		entry.Message,
		entry.CreatedAt,
	).Scan(&entry.Seq)

	if err != nil {
		if isPgForeignKeyError(err) {
			return fmt.Errorf("job %s: %w", entry.JobID, domain.ErrNotFound)
		}
		return fmt.Errorf("append job log: %w", err)
	}

	return nil
}

// ListLogs returns all log entries for a job in append order
func (r *PostgresJobRepository) ListLogs(ctx context.Context, jobID string) ([]models.JobLog, error) {
	query := fmt.Sprintf(`
		SELECT job_id, seq, level, message, created_at FROM %s
		WHERE job_id = $1
		ORDER BY seq ASC
	`, r.tables.JobLogs)

	exec := GetExecutor(ctx, r.pool)
	rows, err := exec.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var logs []models.JobLog
	for rows.Next() {
		var entry models.JobLog
		if err := rows.Scan(&entry.JobID, &entry.Seq, &entry.Level, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job logs: %w", err)
	}

	return logs, nil
}
