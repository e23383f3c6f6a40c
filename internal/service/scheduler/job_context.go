package scheduler

import (
	"context"
	"fmt"
	"time"

	"storyloom/internal/domain/models"
)

// JobContext is handed to a running handler. It carries the job row, a
// logging callback that persists to the job's append-only log, and the
// cooperative cancellation check. No other shared state crosses the handler
// boundary.
type JobContext struct {
	Job *models.Job

	scheduler *Scheduler
}

// Logf appends a formatted entry to the job log. Failures to persist the
// entry are reported to the operator log but never fail the job.
func (jc *JobContext) Logf(level models.JobLogLevel, format string, args ...any) {
	entry := &models.JobLog{
		JobID:     jc.Job.ID,
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		CreatedAt: time.Now(),
	}

	if err := jc.scheduler.jobs.AppendLog(context.Background(), entry); err != nil {
		jc.scheduler.logger.Error("append job log failed",
			"job_id", jc.Job.ID,
			"error", err,
		)
		return
	}

	jc.scheduler.logger.Debug("job log",
		"job_id", jc.Job.ID,
		"level", entry.Level,
		"message", entry.Message,
	)
}

// Cancelled reports whether cancellation has been requested for this job.
// Handlers check it at safe points; there is no preemptive kill.
func (jc *JobContext) Cancelled() bool {
	return jc.scheduler.cancelRequested(jc.Job.ID)
}
