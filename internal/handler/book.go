package handler

import (
	"log/slog"
	"net/http"

	"storyloom/internal/domain/models"
	"storyloom/internal/httputil"
	"storyloom/internal/service/store"
)

// BookHandler handles book HTTP requests
type BookHandler struct {
	books  *store.BookStore
	chunks *store.ChunkStore
	logger *slog.Logger
}

// NewBookHandler creates a new book handler
func NewBookHandler(books *store.BookStore, chunks *store.ChunkStore, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		books:  books,
		chunks: chunks,
		logger: logger,
	}
}

// CreateBook creates a new book
// POST /api/books
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := h.books.Create(r.Context(), &req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, book)
}

// ListBooks returns all books
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.List(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"books": books})
}

// GetBook retrieves a book by ID
// GET /api/books/{id}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.books.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, book)
}

// PatchBookProps merges a props patch into the book
// PATCH /api/books/{id}/props
func (h *BookHandler) PatchBookProps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var patch map[string]any
	if err := httputil.ParseJSON(w, r, &patch); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.books.SetProps(r.Context(), id, patch); err != nil {
		respondDomainError(w, err)
		return
	}

	book, err := h.books.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, book)
}

// GetBookWordCount returns the total word count over latest live chunks
// GET /api/books/{id}/word-count
func (h *BookHandler) GetBookWordCount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	total, err := h.chunks.BookWordCount(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"book_id":    id,
		"word_count": total,
	})
}

// CleanupDeleted purges soft-deleted chunks from the book
// POST /api/books/{id}/cleanup
func (h *BookHandler) CleanupDeleted(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	deleted, err := h.chunks.CleanupDeleted(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"book_id": id,
		"deleted": deleted,
	})
}

// ListBookChunks lists the latest versions of a book's chunks
// GET /api/books/{id}/chunks
func (h *BookHandler) ListBookChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	filter, err := chunkFilterFromQuery(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	chunks, err := h.chunks.List(r.Context(), id, filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}
