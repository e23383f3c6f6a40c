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

const bookColumns = `id, title, props, is_locked, job_id, created_at, updated_at`

// PostgresBookRepository implements the BookRepository interface
type PostgresBookRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewBookRepository creates a new book repository
func NewBookRepository(config *RepositoryConfig) repositories.BookRepository {
	return &PostgresBookRepository{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

func scanBook(row pgx.Row) (*models.Book, error) {
	var b models.Book
	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.Props,
		&b.IsLocked,
		&b.JobID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create creates a new book
func (r *PostgresBookRepository) Create(ctx context.Context, book *models.Book) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, props, is_locked, job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tables.Books)

	exec := GetExecutor(ctx, r.pool)
	_, err := exec.Exec(ctx, query,
		book.ID,
		book.Title,
		book.Props,
		book.IsLocked,
		book.JobID,
		book.CreatedAt,
		book.UpdatedAt,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return fmt.Errorf("book %s: %w", book.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create book: %w", err)
	}

	return nil
}

// GetByID retrieves a book by ID
func (r *PostgresBookRepository) GetByID(ctx context.Context, id string) (*models.Book, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = $1
	`, bookColumns, r.tables.Books)

	exec := GetExecutor(ctx, r.pool)
	book, err := scanBook(exec.QueryRow(ctx, query, id))
	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}

	return book, nil
}

// List returns all books, most recently updated first
func (r *PostgresBookRepository) List(ctx context.Context) ([]models.Book, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s ORDER BY updated_at DESC
	`, bookColumns, r.tables.Books)

	exec := GetExecutor(ctx, r.pool)
	rows, err := exec.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, *book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}

	return books, nil
}

// UpdateProps replaces the props map on the book
func (r *PostgresBookRepository) UpdateProps(ctx context.Context, id string, props map[string]any) error {
	query := fmt.Sprintf(`
		UPDATE %s SET props = $2, updated_at = NOW() WHERE id = $1
	`, r.tables.Books)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, id, props)
	if err != nil {
		return fmt.Errorf("update book props: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// TryLock atomically claims the book for a job
func (r *PostgresBookRepository) TryLock(ctx context.Context, id, jobID string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET is_locked = TRUE, job_id = $2, updated_at = NOW()
		WHERE id = $1 AND NOT is_locked
	`, r.tables.Books)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, id, jobID)
	if err != nil {
		return false, fmt.Errorf("lock book: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// Unlock clears the lock fields on the book
func (r *PostgresBookRepository) Unlock(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET is_locked = FALSE, job_id = NULL, updated_at = NOW()
		WHERE id = $1
	`, r.tables.Books)

	exec := GetExecutor(ctx, r.pool)
	result, err := exec.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("unlock book: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// ListLocked returns books currently carrying a lock
func (r *PostgresBookRepository) ListLocked(ctx context.Context) ([]models.Book, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE is_locked
	`, bookColumns, r.tables.Books)

	exec := GetExecutor(ctx, r.pool)
	rows, err := exec.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list locked books: %w", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, *book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}

	return books, nil
}
