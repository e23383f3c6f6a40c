package repositories

import (
	"context"

	"storyloom/internal/domain/models"
)

// ChunkRepository provides row-level access to chunk version rows.
// Multi-row invariants (exactly-one-latest, version monotonicity, soft-delete
// propagation) are enforced one level up by the chunk store service, which
// combines these primitives inside a transaction and a per-chunk
// serialization boundary.
type ChunkRepository interface {
	// InsertVersion inserts one version row. Fails with ErrConflict when the
	// (chunk_id, version) pair already exists.
	InsertVersion(ctx context.Context, chunk *models.Chunk) error

	// GetLatest returns the row with is_latest=true for the chunk id.
	GetLatest(ctx context.Context, chunkID string) (*models.Chunk, error)

	// GetVersion returns one specific version row.
	GetVersion(ctx context.Context, chunkID string, version int) (*models.Chunk, error)

	// ReplaceLatest clears is_latest on the current latest row and inserts
	// next as the new latest, as one atomic operation. Readers never observe
	// zero or two latest rows. Fails with ErrNotFound when the chunk has no
	// latest row and ErrConflict when next's version already exists.
	ReplaceLatest(ctx context.Context, next *models.Chunk) error

	// UpdateProps replaces props on the latest version row without creating
	// a new version.
	UpdateProps(ctx context.Context, chunkID string, props map[string]any) error

	// MarkDeleted sets is_deleted on every version row of the chunk id.
	MarkDeleted(ctx context.Context, chunkID string) error

	// DeleteOldVersions removes the oldest version rows beyond keep, always
	// preserving the newest ones (which include the current latest).
	// Returns the number of rows removed.
	DeleteOldVersions(ctx context.Context, chunkID string, keep int) (int, error)

	// PurgeDeleted physically removes every row with is_deleted=true in the
	// book. Returns the number of rows removed.
	PurgeDeleted(ctx context.Context, bookID string) (int, error)

	// ListVersions returns all version rows for a chunk id, oldest first.
	ListVersions(ctx context.Context, chunkID string) ([]models.Chunk, error)

	// List returns latest version rows for a book, filtered. Text is only
	// populated when the filter requests it.
	List(ctx context.Context, bookID string, filter models.ChunkFilter) ([]models.Chunk, error)

	// Neighbor returns the latest live chunk immediately before (forward=false)
	// or after (forward=true) the given position within the same book and
	// chapter. Ordering is by sort order with chunk id as tie-break.
	Neighbor(ctx context.Context, bookID string, chapter int, order float64, chunkID string, forward bool) (*models.Chunk, error)

	// FindReference returns the latest live chunk of the given type in the
	// book (e.g. the "brief" or "style" reference chunk).
	FindReference(ctx context.Context, bookID, chunkType string) (*models.Chunk, error)

	// TryLock atomically claims the chunk for a job. Returns false when the
	// chunk is already locked.
	TryLock(ctx context.Context, chunkID, jobID string) (bool, error)

	// Unlock clears the lock fields on the chunk.
	Unlock(ctx context.Context, chunkID string) error

	// ListLocked returns the latest rows currently carrying a lock, for
	// restart recovery.
	ListLocked(ctx context.Context) ([]models.Chunk, error)

	// SumWordCounts returns the total word count over latest, non-deleted
	// chunks in the book.
	SumWordCounts(ctx context.Context, bookID string) (int, error)
}
