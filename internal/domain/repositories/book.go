package repositories

import (
	"context"

	"storyloom/internal/domain/models"
)

// BookRepository provides access to book rows, including the lock fields the
// scheduler uses for book-scoped jobs.
type BookRepository interface {
	Create(ctx context.Context, book *models.Book) error
	GetByID(ctx context.Context, id string) (*models.Book, error)
	List(ctx context.Context) ([]models.Book, error)

	// UpdateProps replaces the props map on the book.
	UpdateProps(ctx context.Context, id string, props map[string]any) error

	// TryLock atomically claims the book for a job. Returns false when the
	// book is already locked.
	TryLock(ctx context.Context, id, jobID string) (bool, error)

	// Unlock clears the lock fields on the book.
	Unlock(ctx context.Context, id string) error

	// ListLocked returns books currently carrying a lock, for restart recovery.
	ListLocked(ctx context.Context) ([]models.Book, error)
}
