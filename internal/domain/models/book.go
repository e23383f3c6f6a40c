package models

import (
	"time"
)

// PropModeOverride is the book-level property read by generation handlers to
// force a provider mode. Its presence is logged on every generation call.
const PropModeOverride = "mode_override"

// Book owns a set of chunks. Lock state is recorded directly on the row
// rather than a separate table so crash recovery can scan for stale owners.
type Book struct {
	ID        string         `json:"id" db:"id"`
	Title     string         `json:"title" db:"title"`
	Props     map[string]any `json:"props" db:"props"`
	IsLocked  bool           `json:"is_locked" db:"is_locked"`
	JobID     *string        `json:"job_id,omitempty" db:"job_id"` // owning job while locked
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// CreateBookRequest carries the input for creating a book.
type CreateBookRequest struct {
	Title string         `json:"title"`
	Props map[string]any `json:"props,omitempty"`
}
