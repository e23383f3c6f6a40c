package jobs

import (
	"context"

	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/service/lock"
	"storyloom/internal/service/scheduler"
)

// GenerateBookHandler regenerates every scene chunk of a book in reading
// order, one provider call per chunk. Locks the whole book so no per-chunk
// job can interleave. Cancellation is checked between chunks, so a cancel
// lands at a chunk boundary with all prior chunks fully written.
type GenerateBookHandler struct {
	deps *Deps
}

// NewGenerateBookHandler creates the handler for generate_book jobs
func NewGenerateBookHandler(deps *Deps) *GenerateBookHandler {
	return &GenerateBookHandler{deps: deps}
}

// Scope declares book-level locking
func (h *GenerateBookHandler) Scope() lock.Scope {
	return lock.ScopeBook
}

// Resource returns the job's book id
func (h *GenerateBookHandler) Resource(job *models.Job) (string, error) {
	return job.BookID, nil
}

// Run walks the book's scene chunks and generates each in turn.
func (h *GenerateBookHandler) Run(ctx context.Context, jc *scheduler.JobContext) error {
	d := h.deps

	book, err := d.Books.Get(ctx, jc.Job.BookID)
	if err != nil {
		return err
	}

	sceneType := ChunkTypeScene
	scenes, err := d.Store.List(ctx, book.ID, models.ChunkFilter{Type: &sceneType})
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		jc.Logf(models.JobLogInfo, "book has no scene chunks, nothing to generate")
		return nil
	}

	tmpl := jc.Job.PropString("template")
	if tmpl == "" {
		tmpl = DefaultChunkTemplate
	}
	instructions := jc.Job.PropString("instructions")

	jc.Logf(models.JobLogInfo, "generating %d scene chunks", len(scenes))

	for i := range scenes {
		if jc.Cancelled() {
			jc.Logf(models.JobLogInfo, "cancelled after %d of %d chunks", i, len(scenes))
			return domain.ErrCancelled
		}

		scene := scenes[i]
		jc.Logf(models.JobLogInfo, "chunk %d of %d: %s (chapter %d)", i+1, len(scenes), scene.ChunkID, scene.Chapter)

		bundle := d.chunkBundle(book.ID, scene.ChunkID, instructions)
		prompt, err := d.Resolver.Resolve(ctx, tmpl, bundle)
		if err != nil {
			return err
		}

		if err := d.generateInto(ctx, jc, book, scene.ChunkID, prompt); err != nil {
			return err
		}
	}

	total, err := d.Store.BookWordCount(ctx, book.ID)
	if err == nil {
		jc.Logf(models.JobLogInfo, "book generation complete: %d words across %d chunks", total, len(scenes))
	}

	return nil
}
