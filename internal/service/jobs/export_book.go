package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyloom/internal/domain/models"
	"storyloom/internal/service/lock"
	"storyloom/internal/service/scheduler"
)

// ExportBookHandler compiles the latest live scene chunks of a book into a
// markdown file on disk. Exports are read-only over the record store so the
// handler runs without any lock; a concurrent generation simply means the
// export captures whichever versions were latest at read time.
type ExportBookHandler struct {
	deps *Deps
}

// NewExportBookHandler creates the handler for export_book jobs
func NewExportBookHandler(deps *Deps) *ExportBookHandler {
	return &ExportBookHandler{deps: deps}
}

// Scope declares lock-free execution
func (h *ExportBookHandler) Scope() lock.Scope {
	return lock.ScopeNone
}

// Resource is unused for lock-free handlers
func (h *ExportBookHandler) Resource(job *models.Job) (string, error) {
	return "", nil
}

// Run renders the book to markdown and records the artifact path.
func (h *ExportBookHandler) Run(ctx context.Context, jc *scheduler.JobContext) error {
	d := h.deps

	book, err := d.Books.Get(ctx, jc.Job.BookID)
	if err != nil {
		return err
	}

	sceneType := ChunkTypeScene
	scenes, err := d.Store.List(ctx, book.ID, models.ChunkFilter{Type: &sceneType, IncludeText: true})
	if err != nil {
		return err
	}

	var out strings.Builder
	out.WriteString("# " + book.Title + "\n")

	chapter := -1
	words := 0
	for i := range scenes {
		scene := scenes[i]
		if scene.Chapter != chapter {
			chapter = scene.Chapter
			fmt.Fprintf(&out, "\n## Chapter %d\n", chapter)
		}
		out.WriteString("\n" + scene.Text + "\n")
		words += scene.WordCount
	}

	if err := os.MkdirAll(d.ExportDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	name := fmt.Sprintf("%s-%d.md", book.ID, time.Now().Unix())
	path := filepath.Join(d.ExportDir, name)
	if err := os.WriteFile(path, []byte(out.String()), 0o644); err != nil {
		return fmt.Errorf("write export %s: %w", path, err)
	}

	if err := d.Books.SetProps(ctx, book.ID, map[string]any{
		"last_export":    path,
		"last_export_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}

	jc.Logf(models.JobLogInfo, "exported %d chunks, %d words to %s", len(scenes), words, path)
	return nil
}
