package models

import (
	"time"
)

// Chunk is one version row of a versioned unit of authored content.
// ChunkID is stable across versions; Version increases monotonically per
// ChunkID starting at 1, and exactly one row per live ChunkID carries
// IsLatest=true.
type Chunk struct {
	ChunkID   string         `json:"chunk_id" db:"chunk_id"`
	Version   int            `json:"version" db:"version"`
	BookID    string         `json:"book_id" db:"book_id"`
	IsLatest  bool           `json:"is_latest" db:"is_latest"`
	Type      string         `json:"type" db:"type"` // free-form discriminator: "scene", "brief", "style", ...
	Text      string         `json:"text,omitempty" db:"text"`
	Props     map[string]any `json:"props" db:"props"`
	Order     float64        `json:"order" db:"sort_order"` // float enables fractional reordering
	Chapter   int            `json:"chapter" db:"chapter"`
	WordCount int            `json:"word_count" db:"word_count"`
	IsLocked  bool           `json:"is_locked" db:"is_locked"`
	IsDeleted bool           `json:"is_deleted" db:"is_deleted"`
	JobID     *string        `json:"job_id,omitempty" db:"job_id"` // owning job while locked
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy. Version rows are immutable once written, so
// callers that derive a new version must work on a copy.
func (c *Chunk) Clone() *Chunk {
	dup := *c
	if c.Props != nil {
		dup.Props = make(map[string]any, len(c.Props))
		for k, v := range c.Props {
			dup.Props[k] = v
		}
	}
	if c.JobID != nil {
		id := *c.JobID
		dup.JobID = &id
	}
	return &dup
}

// CreateChunkRequest carries the input for creating version 1 of a new chunk.
type CreateChunkRequest struct {
	BookID  string         `json:"book_id"`
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Props   map[string]any `json:"props,omitempty"`
	Order   float64        `json:"order"`
	Chapter int            `json:"chapter"`
}

// ChunkFilter narrows List results. Text is withheld unless IncludeText is
// set because bodies may be multi-kilobyte and listings are frequent.
type ChunkFilter struct {
	Type           *string
	Chapter        *int
	IncludeDeleted bool
	IncludeText    bool
}
