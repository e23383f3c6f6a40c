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

const chunkColumns = `chunk_id, version, book_id, is_latest, type, text, props,
	sort_order, chapter, word_count, is_locked, is_deleted, job_id, created_at, updated_at`

// PostgresChunkRepository implements the ChunkRepository interface
type PostgresChunkRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(config *RepositoryConfig) repositories.ChunkRepository {
	return &PostgresChunkRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

func scanChunk(row pgx.Row) (*models.Chunk, error) {
	var c models.Chunk
	err := row.Scan(
		&c.ChunkID,
		&c.Version,
		&c.BookID,
		&c.IsLatest,
		&c.Type,
		&c.Text,
		&c.Props,
		&c.Order,
		&c.Chapter,
		&c.WordCount,
		&c.IsLocked,
		&c.IsDeleted,
		&c.JobID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertVersion inserts one version row
func (r *PostgresChunkRepository) InsertVersion(ctx context.Context, chunk *models.Chunk) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (chunk_id, version, book_id, is_latest, type, text, props,
			sort_order, chapter, word_count, is_locked, is_deleted, job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	_, err := exec.Exec(ctx, query,
		chunk.ChunkID,
		chunk.Version,
		chunk.BookID,
		chunk.IsLatest,
		chunk.Type,
		chunk.Text,
		chunk.Props,
		chunk.Order,
		chunk.Chapter,
		chunk.WordCount,
		chunk.IsLocked,
		chunk.IsDeleted,
		chunk.JobID,
		chunk.CreatedAt,
		chunk.UpdatedAt,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return fmt.Errorf("chunk %s version %d: %w", chunk.ChunkID, chunk.Version, domain.ErrConflict)
		}
		if isPgForeignKeyError(err) {
			return fmt.Errorf("book %s: %w", chunk.BookID, domain.ErrNotFound)
		}
		return fmt.Errorf("insert chunk version: %w", err)
	}

	return nil
}

// GetLatest retrieves the latest version row of a chunk
func (r *PostgresChunkRepository) GetLatest(ctx context.Context, chunkID string) (*models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE chunk_id = $1 AND is_latest
	`, chunkColumns, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	chunk, err := scanChunk(exec.QueryRow(ctx, query, chunkID))
	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get latest chunk: %w", err)
	}

	return chunk, nil
}

// GetVersion retrieves one specific version row
func (r *PostgresChunkRepository) GetVersion(ctx context.Context, chunkID string, version int) (*models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE chunk_id = $1 AND version = $2
	`, chunkColumns, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	chunk, err := scanChunk(exec.QueryRow(ctx, query, chunkID, version))
	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("chunk %s version %d: %w", chunkID, version, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get chunk version: %w", err)
	}

	return chunk, nil
}

// ReplaceLatest clears the current latest row and inserts next as the new
// one. Both statements run on the executor from ctx; inside a transaction the
// flip commits as one unit, so readers see either the old latest or the new
// one, never neither. The clear runs first so the one-latest partial index
// never holds two rows.
func (r *PostgresChunkRepository) ReplaceLatest(ctx context.Context, next *models.Chunk) error {
	query := fmt.Sprintf(`
		UPDATE %s SET is_latest = FALSE, updated_at = NOW()
		WHERE chunk_id = $1 AND is_latest
	`, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, next.ChunkID)
	if err != nil {
		return fmt.Errorf("clear latest: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", next.ChunkID, domain.ErrNotFound)
	}

	return r.InsertVersion(ctx, next)
}

// UpdateProps replaces props on the latest version row without versioning
func (r *PostgresChunkRepository) UpdateProps(ctx context.Context, chunkID string, props map[string]any) error {
	query := fmt.Sprintf(`
		UPDATE %s SET props = $2, updated_at = NOW()
		WHERE chunk_id = $1 AND is_latest
	`, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, chunkID, props)
	if err != nil {
		return fmt.Errorf("update chunk props: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}

	return nil
}

// MarkDeleted sets is_deleted on every version row of the chunk id
func (r *PostgresChunkRepository) MarkDeleted(ctx context.Context, chunkID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET is_deleted = TRUE, updated_at = NOW()
		WHERE chunk_id = $1
	`, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, chunkID)
	if err != nil {
		return fmt.Errorf("mark chunk deleted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}

	return nil
}

// DeleteOldVersions removes the oldest version rows beyond keep.
// The newest rows are kept by version order, so the current latest is never
// removed as long as keep >= 1 (enforced by the store service).
func (r *PostgresChunkRepository) DeleteOldVersions(ctx context.Context, chunkID string, keep int) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE chunk_id = $1 AND version NOT IN (
			SELECT version FROM %s
			WHERE chunk_id = $1
			ORDER BY version DESC
			LIMIT $2
		)
	`, r.tables.Chunks, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, chunkID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete old versions: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// PurgeDeleted physically removes all soft-deleted rows in the book
func (r *PostgresChunkRepository) PurgeDeleted(ctx context.Context, bookID string) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE book_id = $1 AND is_deleted
	`, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, bookID)
	if err != nil {
		return 0, fmt.Errorf("purge deleted chunks: %w", err)
	}

	return int(result.RowsAffected()), nil
}

// ListVersions returns all version rows for a chunk id, oldest first
func (r *PostgresChunkRepository) ListVersions(ctx context.Context, chunkID string) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE chunk_id = $1
		ORDER BY version ASC
	`, chunkColumns, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	rows, err := exec.Query(ctx, query, chunkID)
	if err != nil {
		return nil, fmt.Errorf("list chunk versions: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// List returns latest version rows for a book, filtered
func (r *PostgresChunkRepository) List(ctx context.Context, bookID string, filter models.ChunkFilter) ([]models.Chunk, error) {
	textExpr := "''"
	if filter.IncludeText {
		textExpr = "text"
	}

	query := fmt.Sprintf(`
		SELECT chunk_id, version, book_id, is_latest, type, %s, props,
			sort_order, chapter, word_count, is_locked, is_deleted, job_id, created_at, updated_at
		FROM %s
		WHERE book_id = $1 AND is_latest
	`, textExpr, r.tables.Chunks)

	args := []interface{}{bookID}
	if !filter.IncludeDeleted {
		query += " AND NOT is_deleted"
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Chapter != nil {
		args = append(args, *filter.Chapter)
		query += fmt.Sprintf(" AND chapter = $%d", len(args))
	}
	query += " ORDER BY chapter ASC, sort_order ASC, chunk_id ASC"

	exec := GetExecutor(ctx, r.pool)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// Neighbor returns the adjacent latest live chunk in chapter order.
// Ordering is (sort_order, chunk_id) so ties stay deterministic.
func (r *PostgresChunkRepository) Neighbor(ctx context.Context, bookID string, chapter int, order float64, chunkID string, forward bool) (*models.Chunk, error) {
	cmp, dir := "<", "DESC"
	if forward {
		cmp, dir = ">", "ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE book_id = $1 AND chapter = $2 AND is_latest AND NOT is_deleted
			AND (sort_order %s $3 OR (sort_order = $3 AND chunk_id %s $4))
		ORDER BY sort_order %s, chunk_id %s
		LIMIT 1
	`, chunkColumns, r.tables.Chunks, cmp, cmp, dir, dir)

	exec := GetExecutor(ctx, r.pool)
	chunk, err := scanChunk(exec.QueryRow(ctx, query, bookID, chapter, order, chunkID))
	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("neighbor of chunk %s: %w", chunkID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get neighbor chunk: %w", err)
	}

	return chunk, nil
}

// FindReference returns the latest live chunk of the given type in the book
func (r *PostgresChunkRepository) FindReference(ctx context.Context, bookID, chunkType string) (*models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE book_id = $1 AND type = $2 AND is_latest AND NOT is_deleted
		ORDER BY chunk_id ASC
		LIMIT 1
	`, chunkColumns, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	chunk, err := scanChunk(exec.QueryRow(ctx, query, bookID, chunkType))
	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("reference chunk %q in book %s: %w", chunkType, bookID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("find reference chunk: %w", err)
	}

	return chunk, nil
}

// TryLock atomically claims the chunk for a job.
// The conditional UPDATE is the atomic read-then-set: zero rows affected
// means the chunk is already held (or unknown).
func (r *PostgresChunkRepository) TryLock(ctx context.Context, chunkID, jobID string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET is_locked = TRUE, job_id = $2, updated_at = NOW()
		WHERE chunk_id = $1 AND is_latest AND NOT is_locked
	`, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, chunkID, jobID)
	if err != nil {
		return false, fmt.Errorf("lock chunk: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Distinguish "already locked" from "no such chunk".
		if _, err := r.GetLatest(ctx, chunkID); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// Unlock clears the lock fields on the chunk
func (r *PostgresChunkRepository) Unlock(ctx context.Context, chunkID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET is_locked = FALSE, job_id = NULL, updated_at = NOW()
		WHERE chunk_id = $1 AND is_latest
	`, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, chunkID)
	if err != nil {
		return fmt.Errorf("unlock chunk: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}

	return nil
}

// ListLocked returns latest rows currently carrying a lock
func (r *PostgresChunkRepository) ListLocked(ctx context.Context) ([]models.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE is_latest AND is_locked
	`, chunkColumns, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	rows, err := exec.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list locked chunks: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// SumWordCounts returns the total word count over latest live chunks
func (r *PostgresChunkRepository) SumWordCounts(ctx context.Context, bookID string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(word_count), 0) FROM %s
		WHERE book_id = $1 AND is_latest AND NOT is_deleted
	`, r.tables.Chunks)

	exec := GetExecutor(ctx, r.pool)
	var total int
	if err := exec.QueryRow(ctx, query, bookID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum word counts: %w", err)
	}

	return total, nil
}

func collectChunks(rows pgx.Rows) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, *chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return chunks, nil
}
