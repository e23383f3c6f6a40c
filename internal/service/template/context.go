package template

import (
	"context"
	"errors"
	"fmt"

	"storyloom/internal/domain"
	"storyloom/internal/domain/repositories"
)

// Value is one named entry of a resolution context bundle: either a literal
// string or a reference resolved against the record store at substitution
// time, so the resolver never works from stale reads.
type Value interface {
	Resolve(ctx context.Context) (string, error)
}

// Bundle maps variable names to context values.
type Bundle map[string]Value

// Lookup resolves the named value. Unknown names and store references that
// point at nothing resolve to empty output rather than failing: missing
// optional context must degrade gracefully.
func (b Bundle) Lookup(ctx context.Context, name string) (string, error) {
	value, ok := b[name]
	if ok {
		resolved, err := value.Resolve(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", nil
			}
			return "", err
		}
		return resolved, nil
	}
	return "", nil
}

// Require verifies that each named value is present and resolves non-empty.
// Handlers call this for the variables their job type cannot run without,
// turning missing required context into a validation error instead of a
// silently empty prompt.
func (b Bundle) Require(ctx context.Context, names ...string) error {
	for _, name := range names {
		resolved, err := b.Lookup(ctx, name)
		if err != nil {
			return err
		}
		if resolved == "" {
			return fmt.Errorf("%w: required template variable %q is empty", domain.ErrValidation, name)
		}
	}
	return nil
}

// Literal is a fixed string value.
type Literal string

// Resolve returns the literal string
func (v Literal) Resolve(ctx context.Context) (string, error) {
	return string(v), nil
}

// ChunkText resolves to the chunk's own current text.
type ChunkText struct {
	Chunks  repositories.ChunkRepository
	ChunkID string
}

// Resolve reads the latest version's text
func (v ChunkText) Resolve(ctx context.Context) (string, error) {
	chunk, err := v.Chunks.GetLatest(ctx, v.ChunkID)
	if err != nil {
		return "", err
	}
	return chunk.Text, nil
}

// NeighborText resolves to the text of the chunk immediately before or after
// the anchor chunk in chapter order (sort order, chunk id tie-break).
type NeighborText struct {
	Chunks  repositories.ChunkRepository
	ChunkID string
	Forward bool
}

// Resolve walks to the neighbor and reads its text
func (v NeighborText) Resolve(ctx context.Context) (string, error) {
	anchor, err := v.Chunks.GetLatest(ctx, v.ChunkID)
	if err != nil {
		return "", err
	}
	neighbor, err := v.Chunks.Neighbor(ctx, anchor.BookID, anchor.Chapter, anchor.Order, anchor.ChunkID, v.Forward)
	if err != nil {
		return "", err
	}
	return neighbor.Text, nil
}

// ReferenceText resolves to the text of a named book-level reference chunk,
// such as the brief or style guide.
type ReferenceText struct {
	Chunks repositories.ChunkRepository
	BookID string
	Type   string
}

// Resolve finds the book's latest live chunk of the reference type
func (v ReferenceText) Resolve(ctx context.Context) (string, error) {
	chunk, err := v.Chunks.FindReference(ctx, v.BookID, v.Type)
	if err != nil {
		return "", err
	}
	return chunk.Text, nil
}
