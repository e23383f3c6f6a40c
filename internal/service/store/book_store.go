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
)

// BookStore provides book-level operations. Books carry the open props map
// (including the generation mode override) and the lock fields used by
// book-scoped jobs.
type BookStore struct {
	books  repositories.BookRepository
	logger *slog.Logger
}

// NewBookStore creates a new book store service
func NewBookStore(books repositories.BookRepository, logger *slog.Logger) *BookStore {
	return &BookStore{
		books:  books,
		logger: logger,
	}
}

// Create creates a new book
func (s *BookStore) Create(ctx context.Context, req *models.CreateBookRequest) (*models.Book, error) {
	err := validation.ValidateStruct(req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, config.MaxBookTitleLength)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	now := time.Now()
	book := &models.Book{
		ID:        uuid.NewString(),
		Title:     req.Title,
		Props:     req.Props,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if book.Props == nil {
		book.Props = map[string]any{}
	}

	if err := s.books.Create(ctx, book); err != nil {
		return nil, err
	}

	s.logger.Info("book created", "book_id", book.ID, "title", book.Title)

	return book, nil
}

// Get retrieves a book by ID
func (s *BookStore) Get(ctx context.Context, id string) (*models.Book, error) {
	return s.books.GetByID(ctx, id)
}

// List returns all books
func (s *BookStore) List(ctx context.Context) ([]models.Book, error) {
	return s.books.List(ctx)
}

// SetProps merges the patch into the book's props
func (s *BookStore) SetProps(ctx context.Context, id string, patch map[string]any) error {
	book, err := s.books.GetByID(ctx, id)
	if err != nil {
		return err
	}

	merged := make(map[string]any, len(book.Props)+len(patch))
	for k, v := range book.Props {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}

	return s.books.UpdateProps(ctx, id, merged)
}
