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

// MemoryBookRepository implements BookRepository over a map.
type MemoryBookRepository struct {
	mu    sync.RWMutex
	books map[string]*models.Book
}

// NewBookRepository creates an empty in-memory book repository
func NewBookRepository() repositories.BookRepository {
	return &MemoryBookRepository{
		books: make(map[string]*models.Book),
	}
}

func cloneBook(b *models.Book) *models.Book {
	dup := *b
	if b.Props != nil {
		dup.Props = make(map[string]any, len(b.Props))
		for k, v := range b.Props {
			dup.Props[k] = v
		}
	}
	if b.JobID != nil {
		id := *b.JobID
		dup.JobID = &id
	}
	return &dup
}

// Create creates a new book
func (r *MemoryBookRepository) Create(ctx context.Context, book *models.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.books[book.ID]; exists {
		return fmt.Errorf("book %s: %w", book.ID, domain.ErrConflict)
	}
	r.books[book.ID] = cloneBook(book)
	return nil
}

// GetByID retrieves a book by ID
func (r *MemoryBookRepository) GetByID(ctx context.Context, id string) (*models.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	book, exists := r.books[id]
	if !exists {
		return nil, fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
	}
	return cloneBook(book), nil
}

// List returns all books, most recently updated first
func (r *MemoryBookRepository) List(ctx context.Context) ([]models.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Book
	for _, book := range r.books {
		out = append(out, *cloneBook(book))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// UpdateProps replaces the props map on the book
func (r *MemoryBookRepository) UpdateProps(ctx context.Context, id string, props map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, exists := r.books[id]
	if !exists {
		return fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
	}
	copied := make(map[string]any, len(props))
	for k, v := range props {
		copied[k] = v
	}
	book.Props = copied
	book.UpdatedAt = time.Now()
	return nil
}

// TryLock atomically claims the book for a job
func (r *MemoryBookRepository) TryLock(ctx context.Context, id, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, exists := r.books[id]
	if !exists {
		return false, fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
	}
	if book.IsLocked {
		return false, nil
	}
	owner := jobID
	book.IsLocked = true
	book.JobID = &owner
	book.UpdatedAt = time.Now()
	return true, nil
}

// Unlock clears the lock fields on the book
func (r *MemoryBookRepository) Unlock(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, exists := r.books[id]
	if !exists {
		return fmt.Errorf("book %s: %w", id, domain.ErrNotFound)
	}
	book.IsLocked = false
	book.JobID = nil
	book.UpdatedAt = time.Now()
	return nil
}

// ListLocked returns books currently carrying a lock
func (r *MemoryBookRepository) ListLocked(ctx context.Context) ([]models.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Book
	for _, book := range r.books {
		if book.IsLocked {
			out = append(out, *cloneBook(book))
		}
	}
	return out, nil
}
