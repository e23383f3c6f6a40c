package jobs

import (
	"context"
	"fmt"

	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/service/lock"
	"storyloom/internal/service/scheduler"
)

// GenerateChunkHandler regenerates one chunk's text: it resolves the task
// template against the chunk's surrounding context, runs the provider and
// writes the output as a new version. Locks the target chunk.
type GenerateChunkHandler struct {
	deps *Deps
}

// NewGenerateChunkHandler creates the handler for generate_chunk jobs
func NewGenerateChunkHandler(deps *Deps) *GenerateChunkHandler {
	return &GenerateChunkHandler{deps: deps}
}

// Scope declares chunk-level locking
func (h *GenerateChunkHandler) Scope() lock.Scope {
	return lock.ScopeChunk
}

// Resource returns the target chunk id from the job props
func (h *GenerateChunkHandler) Resource(job *models.Job) (string, error) {
	chunkID := job.PropString("chunk_id")
	if chunkID == "" {
		return "", fmt.Errorf("%w: generate_chunk job requires a chunk_id prop", domain.ErrValidation)
	}
	return chunkID, nil
}

// Run resolves the prompt and generates a new version of the chunk.
func (h *GenerateChunkHandler) Run(ctx context.Context, jc *scheduler.JobContext) error {
	d := h.deps
	chunkID := jc.Job.PropString("chunk_id")

	chunk, err := d.Store.GetLatest(ctx, chunkID)
	if err != nil {
		return err
	}
	if chunk.BookID != jc.Job.BookID {
		return fmt.Errorf("%w: chunk %s belongs to book %s, not %s",
			domain.ErrValidation, chunkID, chunk.BookID, jc.Job.BookID)
	}

	book, err := d.Books.Get(ctx, jc.Job.BookID)
	if err != nil {
		return err
	}

	tmpl := jc.Job.PropString("template")
	if tmpl == "" {
		tmpl = DefaultChunkTemplate
	}

	bundle := d.chunkBundle(book.ID, chunkID, jc.Job.PropString("instructions"))
	prompt, err := d.Resolver.Resolve(ctx, tmpl, bundle)
	if err != nil {
		return err
	}

	jc.Logf(models.JobLogInfo, "prompt resolved: %d bytes, chunk version %d", len(prompt), chunk.Version)

	return d.generateInto(ctx, jc, book, chunkID, prompt)
}
