// Package store implements the versioned record store: append-only chunk
// versions with exactly-one-latest semantics, soft deletion and retention
// cleanup. Repositories provide the row primitives; this service owns the
// multi-row invariants.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"storyloom/internal/config"
	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/domain/repositories"
	"storyloom/internal/utils"
)

// ChunkStore owns chunk versioning semantics.
//
// Every mutation of one chunk id runs behind the same per-chunk keyed mutex
// and inside one transaction, so no reader ever observes zero or two latest
// versions and version numbers never collide.
type ChunkStore struct {
	chunks    repositories.ChunkRepository
	books     repositories.BookRepository
	txManager repositories.TransactionManager
	keys      *KeyedMutex
	logger    *slog.Logger
}

// NewChunkStore creates a new chunk store service
func NewChunkStore(
	chunks repositories.ChunkRepository,
	books repositories.BookRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) *ChunkStore {
	return &ChunkStore{
		chunks:    chunks,
		books:     books,
		txManager: txManager,
		keys:      NewKeyedMutex(),
		logger:    logger,
	}
}

// Create creates version 1 of a new chunk
func (s *ChunkStore) Create(ctx context.Context, req *models.CreateChunkRequest) (*models.Chunk, error) {
	err := validation.ValidateStruct(req,
		validation.Field(&req.BookID, validation.Required),
		validation.Field(&req.Type, validation.Required, validation.Length(1, config.MaxChunkTypeLength)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if _, err := s.books.GetByID(ctx, req.BookID); err != nil {
		return nil, err
	}

	now := time.Now()
	chunk := &models.Chunk{
		ChunkID:   uuid.NewString(),
		Version:   1,
		BookID:    req.BookID,
		IsLatest:  true,
		Type:      req.Type,
		Text:      req.Text,
		Props:     req.Props,
		Order:     req.Order,
		Chapter:   req.Chapter,
		WordCount: utils.CountWords(req.Text),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if chunk.Props == nil {
		chunk.Props = map[string]any{}
	}

	if err := s.chunks.InsertVersion(ctx, chunk); err != nil {
		return nil, err
	}

	s.logger.Debug("chunk created",
		"chunk_id", chunk.ChunkID,
		"book_id", chunk.BookID,
		"type", chunk.Type,
		"word_count", chunk.WordCount,
	)

	return chunk, nil
}

// GetLatest returns the current latest version of a chunk
func (s *ChunkStore) GetLatest(ctx context.Context, chunkID string) (*models.Chunk, error) {
	return s.chunks.GetLatest(ctx, chunkID)
}

// GetVersion returns one specific version of a chunk
func (s *ChunkStore) GetVersion(ctx context.Context, chunkID string, version int) (*models.Chunk, error) {
	return s.chunks.GetVersion(ctx, chunkID, version)
}

// ListVersions returns all versions of a chunk, oldest first
func (s *ChunkStore) ListVersions(ctx context.Context, chunkID string) ([]models.Chunk, error) {
	versions, err := s.chunks.ListVersions(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}
	return versions, nil
}

// List returns the latest versions of a book's chunks
func (s *ChunkStore) List(ctx context.Context, bookID string, filter models.ChunkFilter) ([]models.Chunk, error) {
	return s.chunks.List(ctx, bookID, filter)
}

// UpdateText creates version N+1 with the new text and flips is_latest over
// to it. The prior version row is never mutated beyond the is_latest flag;
// word_count is recomputed from the new text, never carried over.
func (s *ChunkStore) UpdateText(ctx context.Context, chunkID, newText string) (*models.Chunk, error) {
	unlock := s.keys.Lock(chunkID)
	defer unlock()

	var next *models.Chunk
	err := s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		latest, err := s.chunks.GetLatest(txCtx, chunkID)
		if err != nil {
			return err
		}

		now := time.Now()
		next = latest.Clone()
		next.Version = latest.Version + 1
		next.Text = newText
		next.WordCount = utils.CountWords(newText)
		next.IsLatest = true
		next.CreatedAt = now
		next.UpdatedAt = now

		// The flip is a single repository operation so concurrent readers
		// never observe zero or two latest rows.
		return s.chunks.ReplaceLatest(txCtx, next)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("chunk text updated",
		"chunk_id", chunkID,
		"version", next.Version,
		"word_count", next.WordCount,
	)

	return next, nil
}

// SetProps merges the patch into the latest version's props without creating
// a new version. Props edits are not versioning events; this asymmetry with
// UpdateText is deliberate.
func (s *ChunkStore) SetProps(ctx context.Context, chunkID string, patch map[string]any) error {
	unlock := s.keys.Lock(chunkID)
	defer unlock()

	return s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		latest, err := s.chunks.GetLatest(txCtx, chunkID)
		if err != nil {
			return err
		}

		merged := make(map[string]any, len(latest.Props)+len(patch))
		for k, v := range latest.Props {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}

		return s.chunks.UpdateProps(txCtx, chunkID, merged)
	})
}

// SoftDelete marks every version of the chunk as deleted. is_deleted is a
// per-identity property even though it is stored on each version row.
func (s *ChunkStore) SoftDelete(ctx context.Context, chunkID string) error {
	unlock := s.keys.Lock(chunkID)
	defer unlock()

	return s.chunks.MarkDeleted(ctx, chunkID)
}

// CleanupOldVersions physically removes the oldest versions beyond keep.
// keep must be at least 1 so the current latest can never be removed.
func (s *ChunkStore) CleanupOldVersions(ctx context.Context, chunkID string, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("%w: keep_count must be at least 1", domain.ErrValidation)
	}

	unlock := s.keys.Lock(chunkID)
	defer unlock()

	// Existence check so an unknown chunk id fails with NotFound rather than
	// silently deleting zero rows.
	if _, err := s.chunks.GetLatest(ctx, chunkID); err != nil {
		return 0, err
	}

	deleted, err := s.chunks.DeleteOldVersions(ctx, chunkID, keep)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("old chunk versions removed",
			"chunk_id", chunkID,
			"kept", keep,
			"deleted", deleted,
		)
	}

	return deleted, nil
}

// CleanupDeleted physically purges all soft-deleted rows in the book
func (s *ChunkStore) CleanupDeleted(ctx context.Context, bookID string) (int, error) {
	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return 0, err
	}

	deleted, err := s.chunks.PurgeDeleted(ctx, bookID)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("soft-deleted chunks purged",
			"book_id", bookID,
			"deleted", deleted,
		)
	}

	return deleted, nil
}

// Neighbor returns the chunk immediately before or after the given chunk in
// chapter order (sort order with chunk id tie-break). Returns ErrNotFound
// when the chunk sits at the edge of its chapter.
func (s *ChunkStore) Neighbor(ctx context.Context, chunkID string, forward bool) (*models.Chunk, error) {
	chunk, err := s.chunks.GetLatest(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	return s.chunks.Neighbor(ctx, chunk.BookID, chunk.Chapter, chunk.Order, chunk.ChunkID, forward)
}

// FindReference returns the book's latest live chunk of the given type
func (s *ChunkStore) FindReference(ctx context.Context, bookID, chunkType string) (*models.Chunk, error) {
	return s.chunks.FindReference(ctx, bookID, chunkType)
}

// BookWordCount returns the sum of word_count over latest, non-deleted
// chunks in the book
func (s *ChunkStore) BookWordCount(ctx context.Context, bookID string) (int, error) {
	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return 0, err
	}
	return s.chunks.SumWordCounts(ctx, bookID)
}
