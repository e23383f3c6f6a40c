// Package seed loads a YAML fixture of books and chunks and applies it
// through the store services, so seeded data goes through the same
// validation and versioning paths as API writes.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"storyloom/internal/domain/models"
	"storyloom/internal/service/store"
)

// Fixture is the root of a seed file.
type Fixture struct {
	Books []BookFixture `yaml:"books"`
}

// BookFixture is one book and its chunks.
type BookFixture struct {
	Title  string         `yaml:"title"`
	Props  map[string]any `yaml:"props"`
	Chunks []ChunkFixture `yaml:"chunks"`
}

// ChunkFixture is version 1 of one chunk.
type ChunkFixture struct {
	Type    string         `yaml:"type"`
	Text    string         `yaml:"text"`
	Chapter int            `yaml:"chapter"`
	Order   float64        `yaml:"order"`
	Props   map[string]any `yaml:"props"`
}

// LoadFixture parses a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}

	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}

	return &fixture, nil
}

// Seeder applies fixtures through the store services.
type Seeder struct {
	books  *store.BookStore
	chunks *store.ChunkStore
	logger *slog.Logger
}

// NewSeeder creates a new seeder
func NewSeeder(books *store.BookStore, chunks *store.ChunkStore, logger *slog.Logger) *Seeder {
	return &Seeder{
		books:  books,
		chunks: chunks,
		logger: logger,
	}
}

// Apply creates every book and chunk in the fixture. Returns the created
// book ids in fixture order.
func (s *Seeder) Apply(ctx context.Context, fixture *Fixture) ([]string, error) {
	bookIDs := make([]string, 0, len(fixture.Books))

	for i := range fixture.Books {
		bf := fixture.Books[i]

		book, err := s.books.Create(ctx, &models.CreateBookRequest{
			Title: bf.Title,
			Props: bf.Props,
		})
		if err != nil {
			return bookIDs, fmt.Errorf("seed book %q: %w", bf.Title, err)
		}
		bookIDs = append(bookIDs, book.ID)

		for j := range bf.Chunks {
			cf := bf.Chunks[j]

			chunk, err := s.chunks.Create(ctx, &models.CreateChunkRequest{
				BookID:  book.ID,
				Type:    cf.Type,
				Text:    cf.Text,
				Chapter: cf.Chapter,
				Order:   cf.Order,
				Props:   cf.Props,
			})
			if err != nil {
				return bookIDs, fmt.Errorf("seed chunk %d of %q: %w", j, bf.Title, err)
			}

			s.logger.Debug("seeded chunk",
				"book_id", book.ID,
				"chunk_id", chunk.ChunkID,
				"type", chunk.Type,
				"word_count", chunk.WordCount,
			)
		}

		s.logger.Info("seeded book",
			"book_id", book.ID,
			"title", book.Title,
			"chunks", len(bf.Chunks),
		)
	}

	return bookIDs, nil
}
