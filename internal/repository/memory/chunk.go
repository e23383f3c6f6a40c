// Package memory provides in-memory implementations of the repository
// interfaces. They back the test suite and dev mode when no DATABASE_URL is
// configured. Unlike the postgres implementations they do not enforce
// cross-table foreign keys; everything else matches the postgres semantics,
// including sentinel error wrapping.
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

// MemoryChunkRepository implements ChunkRepository over a map of version rows.
type MemoryChunkRepository struct {
	mu sync.RWMutex
	// rows per chunk id, kept sorted by version ascending
	rows map[string][]*models.Chunk
}

// NewChunkRepository creates an empty in-memory chunk repository
func NewChunkRepository() repositories.ChunkRepository {
	return &MemoryChunkRepository{
		rows: make(map[string][]*models.Chunk),
	}
}

// InsertVersion inserts one version row
func (r *MemoryChunkRepository) InsertVersion(ctx context.Context, chunk *models.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows[chunk.ChunkID] {
		if row.Version == chunk.Version {
			return fmt.Errorf("chunk %s version %d: %w", chunk.ChunkID, chunk.Version, domain.ErrConflict)
		}
	}

	rows := append(r.rows[chunk.ChunkID], chunk.Clone())
	sort.Slice(rows, func(i, j int) bool { return rows[i].Version < rows[j].Version })
	r.rows[chunk.ChunkID] = rows
	return nil
}

// GetLatest returns the row with is_latest=true
func (r *MemoryChunkRepository) GetLatest(ctx context.Context, chunkID string) (*models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.rows[chunkID] {
		if row.IsLatest {
			return row.Clone(), nil
		}
	}
	return nil, fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
}

// GetVersion returns one specific version row
func (r *MemoryChunkRepository) GetVersion(ctx context.Context, chunkID string, version int) (*models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.rows[chunkID] {
		if row.Version == version {
			return row.Clone(), nil
		}
	}
	return nil, fmt.Errorf("chunk %s version %d: %w", chunkID, version, domain.ErrNotFound)
}

// ReplaceLatest flips is_latest over to next under one lock acquisition, so
// concurrent readers see either the old latest or the new one, never neither.
func (r *MemoryChunkRepository) ReplaceLatest(ctx context.Context, next *models.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[next.ChunkID]
	var current *models.Chunk
	for _, row := range rows {
		if row.Version == next.Version {
			return fmt.Errorf("chunk %s version %d: %w", next.ChunkID, next.Version, domain.ErrConflict)
		}
		if row.IsLatest {
			current = row
		}
	}
	if current == nil {
		return fmt.Errorf("chunk %s: %w", next.ChunkID, domain.ErrNotFound)
	}

	current.IsLatest = false
	current.UpdatedAt = time.Now()

	rows = append(rows, next.Clone())
	sort.Slice(rows, func(i, j int) bool { return rows[i].Version < rows[j].Version })
	r.rows[next.ChunkID] = rows
	return nil
}

// UpdateProps replaces props on the latest version row
func (r *MemoryChunkRepository) UpdateProps(ctx context.Context, chunkID string, props map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows[chunkID] {
		if row.IsLatest {
			copied := make(map[string]any, len(props))
			for k, v := range props {
				copied[k] = v
			}
			row.Props = copied
			row.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
}

// MarkDeleted sets is_deleted on every version row
func (r *MemoryChunkRepository) MarkDeleted(ctx context.Context, chunkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[chunkID]
	if len(rows) == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}
	now := time.Now()
	for _, row := range rows {
		row.IsDeleted = true
		row.UpdatedAt = now
	}
	return nil
}

// DeleteOldVersions removes the oldest version rows beyond keep
func (r *MemoryChunkRepository) DeleteOldVersions(ctx context.Context, chunkID string, keep int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[chunkID]
	if len(rows) <= keep {
		return 0, nil
	}
	deleted := len(rows) - keep
	r.rows[chunkID] = rows[deleted:]
	return deleted, nil
}

// PurgeDeleted physically removes all soft-deleted rows in the book
func (r *MemoryChunkRepository) PurgeDeleted(ctx context.Context, bookID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for chunkID, rows := range r.rows {
		var kept []*models.Chunk
		for _, row := range rows {
			if row.BookID == bookID && row.IsDeleted {
				deleted++
				continue
			}
			kept = append(kept, row)
		}
		if len(kept) == 0 {
			delete(r.rows, chunkID)
		} else {
			r.rows[chunkID] = kept
		}
	}
	return deleted, nil
}

// ListVersions returns all version rows for a chunk id, oldest first
func (r *MemoryChunkRepository) ListVersions(ctx context.Context, chunkID string) ([]models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Chunk
	for _, row := range r.rows[chunkID] {
		out = append(out, *row.Clone())
	}
	return out, nil
}

// List returns latest version rows for a book, filtered
func (r *MemoryChunkRepository) List(ctx context.Context, bookID string, filter models.ChunkFilter) ([]models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Chunk
	for _, rows := range r.rows {
		for _, row := range rows {
			if !row.IsLatest || row.BookID != bookID {
				continue
			}
			if row.IsDeleted && !filter.IncludeDeleted {
				continue
			}
			if filter.Type != nil && row.Type != *filter.Type {
				continue
			}
			if filter.Chapter != nil && row.Chapter != *filter.Chapter {
				continue
			}
			c := *row.Clone()
			if !filter.IncludeText {
				c.Text = ""
			}
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Chapter != out[j].Chapter {
			return out[i].Chapter < out[j].Chapter
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out, nil
}

// Neighbor returns the adjacent latest live chunk in chapter order
func (r *MemoryChunkRepository) Neighbor(ctx context.Context, bookID string, chapter int, order float64, chunkID string, forward bool) (*models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.Chunk
	for _, rows := range r.rows {
		for _, row := range rows {
			if !row.IsLatest || row.IsDeleted || row.BookID != bookID || row.Chapter != chapter {
				continue
			}
			if !positionAfter(row.Order, row.ChunkID, order, chunkID, forward) {
				continue
			}
			if best == nil || positionAfter(best.Order, best.ChunkID, row.Order, row.ChunkID, forward) {
				best = row
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("neighbor of chunk %s: %w", chunkID, domain.ErrNotFound)
	}
	return best.Clone(), nil
}

// positionAfter reports whether (order, id) sorts strictly beyond the pivot
// in the walk direction. Ties on order break by chunk id to stay
// deterministic.
func positionAfter(order float64, id string, pivotOrder float64, pivotID string, forward bool) bool {
	if order != pivotOrder {
		if forward {
			return order > pivotOrder
		}
		return order < pivotOrder
	}
	if forward {
		return id > pivotID
	}
	return id < pivotID
}

// FindReference returns the latest live chunk of the given type in the book
func (r *MemoryChunkRepository) FindReference(ctx context.Context, bookID, chunkType string) (*models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.Chunk
	for _, rows := range r.rows {
		for _, row := range rows {
			if !row.IsLatest || row.IsDeleted || row.BookID != bookID || row.Type != chunkType {
				continue
			}
			if best == nil || row.ChunkID < best.ChunkID {
				best = row
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("reference chunk %q in book %s: %w", chunkType, bookID, domain.ErrNotFound)
	}
	return best.Clone(), nil
}

// TryLock atomically claims the chunk for a job
func (r *MemoryChunkRepository) TryLock(ctx context.Context, chunkID, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows[chunkID] {
		if !row.IsLatest {
			continue
		}
		if row.IsLocked {
			return false, nil
		}
		id := jobID
		row.IsLocked = true
		row.JobID = &id
		row.UpdatedAt = time.Now()
		return true, nil
	}
	return false, fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
}

// Unlock clears the lock fields on the chunk
func (r *MemoryChunkRepository) Unlock(ctx context.Context, chunkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows[chunkID] {
		if row.IsLatest {
			row.IsLocked = false
			row.JobID = nil
			row.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
}

// ListLocked returns latest rows currently carrying a lock
func (r *MemoryChunkRepository) ListLocked(ctx context.Context) ([]models.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Chunk
	for _, rows := range r.rows {
		for _, row := range rows {
			if row.IsLatest && row.IsLocked {
				out = append(out, *row.Clone())
			}
		}
	}
	return out, nil
}

// SumWordCounts returns the total word count over latest live chunks
func (r *MemoryChunkRepository) SumWordCounts(ctx context.Context, bookID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, rows := range r.rows {
		for _, row := range rows {
			if row.IsLatest && !row.IsDeleted && row.BookID == bookID {
				total += row.WordCount
			}
		}
	}
	return total, nil
}
