package models

import (
	"time"
)

// JobState is the lifecycle state of a background job. The state machine is
// strictly forward-only: waiting → running → {complete, error, cancelled}.
// No transition leaves a terminal state.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateRunning   JobState = "running"
	JobStateComplete  JobState = "complete"
	JobStateError     JobState = "error"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateComplete, JobStateError, JobStateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal forward
// transition.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStateWaiting:
		// waiting → cancelled covers jobs cancelled before they ever ran.
		return next == JobStateRunning || next == JobStateCancelled
	case JobStateRunning:
		return next.Terminal()
	}
	return false
}

// Job is a unit of asynchronous work targeting a book or chunk.
// Props carries the handler-specific input/output payload.
type Job struct {
	ID         string         `json:"id" db:"id"`
	BookID     string         `json:"book_id" db:"book_id"`
	JobType    string         `json:"job_type" db:"job_type"` // key into the handler registry
	Props      map[string]any `json:"props" db:"props"`
	State      JobState       `json:"state" db:"state"`
	Error      string         `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
}

// PropString reads a string-valued prop, returning "" when absent or not a
// string.
func (j *Job) PropString(key string) string {
	if j.Props == nil {
		return ""
	}
	s, _ := j.Props[key].(string)
	return s
}

// CreateJobRequest carries the input for enqueueing a job.
type CreateJobRequest struct {
	BookID  string         `json:"book_id"`
	JobType string         `json:"job_type"`
	Props   map[string]any `json:"props,omitempty"`
}

// JobLogLevel classifies JobLog entries.
type JobLogLevel string

const (
	JobLogDebug JobLogLevel = "debug"
	JobLogInfo  JobLogLevel = "info"
	JobLogError JobLogLevel = "error"
)

// JobLog is one entry of a job's append-only ordered log, used both for
// operator debugging and for end-user generation-conversation views.
type JobLog struct {
	JobID     string      `json:"job_id" db:"job_id"`
	Seq       int         `json:"seq" db:"seq"`
	Level     JobLogLevel `json:"level" db:"level"`
	Message   string      `json:"message" db:"message"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
