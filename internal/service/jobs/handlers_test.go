package jobs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"storyloom/internal/domain/models"
	"storyloom/internal/domain/repositories"
	"storyloom/internal/repository/memory"
	"storyloom/internal/service/generate"
	"storyloom/internal/service/generate/providers/lorem"
	"storyloom/internal/service/lock"
	"storyloom/internal/service/scheduler"
	"storyloom/internal/service/store"
	"storyloom/internal/service/template"
)

// fixture wires the full job pipeline over in-memory repositories with the
// lorem provider, the same shape cmd/server assembles in dev mode.
type fixture struct {
	scheduler  *scheduler.Scheduler
	chunkStore *store.ChunkStore
	bookStore  *store.BookStore
	jobs       repositories.JobRepository
	book       *models.Book
	exportDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bookRepo := memory.NewBookRepository()
	chunkRepo := memory.NewChunkRepository()
	jobRepo := memory.NewJobRepository()
	txManager := memory.NewTransactionManager()

	bookStore := store.NewBookStore(bookRepo, logger)
	chunkStore := store.NewChunkStore(chunkRepo, bookRepo, txManager, logger)
	locks := lock.NewManager(bookRepo, chunkRepo, logger)

	providers := generate.NewProviderRegistry()
	providers.Register(lorem.NewProvider())

	exportDir := t.TempDir()

	registry := scheduler.NewRegistry()
	sched := scheduler.NewScheduler(jobRepo, bookRepo, chunkRepo, locks, registry, time.Second, logger)

	RegisterAll(registry, &Deps{
		Store:              chunkStore,
		Books:              bookStore,
		Chunks:             chunkRepo,
		Resolver:           template.NewResolver(),
		Providers:          providers,
		DefaultModel:       "lorem-fast",
		DefaultTargetWords: 20,
		ExportDir:          exportDir,
		Logger:             logger,
	})

	book, err := bookStore.Create(context.Background(), &models.CreateBookRequest{Title: "Test Book"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	return &fixture{
		scheduler:  sched,
		chunkStore: chunkStore,
		bookStore:  bookStore,
		jobs:       jobRepo,
		book:       book,
		exportDir:  exportDir,
	}
}

func (f *fixture) createChunk(t *testing.T, chunkType, text string, chapter int, order float64) *models.Chunk {
	t.Helper()
	chunk, err := f.chunkStore.Create(context.Background(), &models.CreateChunkRequest{
		BookID:  f.book.ID,
		Type:    chunkType,
		Text:    text,
		Chapter: chapter,
		Order:   order,
	})
	if err != nil {
		t.Fatalf("create chunk: %v", err)
	}
	return chunk
}

func (f *fixture) runJob(t *testing.T, jobType string, props map[string]any) *models.Job {
	t.Helper()
	ctx := context.Background()

	job, err := f.scheduler.Enqueue(ctx, &models.CreateJobRequest{
		BookID:  f.book.ID,
		JobType: jobType,
		Props:   props,
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", jobType, err)
	}

	f.scheduler.Tick(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.jobs.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.State.Terminal() {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", job.ID)
	return nil
}

func TestGenerateChunkJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createChunk(t, ChunkTypeBrief, "A story about a lighthouse.", 0, 0)
	scene := f.createChunk(t, ChunkTypeScene, "old draft", 1, 1)

	job := f.runJob(t, JobTypeGenerateChunk, map[string]any{
		"chunk_id":     scene.ChunkID,
		"target_words": float64(15),
	})

	if job.State != models.JobStateComplete {
		t.Fatalf("job state = %s (%s), want complete", job.State, job.Error)
	}

	latest, err := f.chunkStore.GetLatest(ctx, scene.ChunkID)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.Version != 2 {
		t.Errorf("generated chunk version = %d, want 2", latest.Version)
	}
	if latest.Text == "" || latest.Text == "old draft" {
		t.Error("generation did not replace the chunk text")
	}
	if latest.WordCount == 0 {
		t.Error("word count not recomputed for generated text")
	}
	if latest.Props["generated_by"] != job.ID {
		t.Errorf("generated_by = %v, want job id", latest.Props["generated_by"])
	}
	if latest.Props["model"] != "lorem-fast" {
		t.Errorf("model prop = %v, want lorem-fast", latest.Props["model"])
	}

	// The old draft stays readable as version 1.
	v1, err := f.chunkStore.GetVersion(ctx, scene.ChunkID, 1)
	if err != nil {
		t.Fatalf("get version 1: %v", err)
	}
	if v1.Text != "old draft" {
		t.Errorf("version 1 text = %q, want the original draft", v1.Text)
	}

	logs, err := f.jobs.ListLogs(ctx, job.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	var joined strings.Builder
	for _, entry := range logs {
		joined.WriteString(entry.Message)
		joined.WriteString("\n")
	}
	if !strings.Contains(joined.String(), "wrote version 2") {
		t.Errorf("job log missing generation summary:\n%s", joined.String())
	}
}

func TestGenerateChunkJobRequiresChunkID(t *testing.T) {
	f := newFixture(t)

	job := f.runJob(t, JobTypeGenerateChunk, nil)

	if job.State != models.JobStateError {
		t.Fatalf("job state = %s, want error", job.State)
	}
	if !strings.Contains(job.Error, "chunk_id") {
		t.Errorf("job error = %q, want a chunk_id complaint", job.Error)
	}
}

func TestGenerateChunkJobRejectsForeignChunk(t *testing.T) {
	f := newFixture(t)

	other, err := f.bookStore.Create(context.Background(), &models.CreateBookRequest{Title: "Other Book"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	foreign, err := f.chunkStore.Create(context.Background(), &models.CreateChunkRequest{
		BookID: other.ID,
		Type:   ChunkTypeScene,
	})
	if err != nil {
		t.Fatalf("create chunk: %v", err)
	}

	job := f.runJob(t, JobTypeGenerateChunk, map[string]any{"chunk_id": foreign.ChunkID})

	if job.State != models.JobStateError {
		t.Fatalf("job state = %s, want error", job.State)
	}
	if !strings.Contains(job.Error, "belongs to book") {
		t.Errorf("job error = %q, want a book mismatch complaint", job.Error)
	}
}

func TestGenerateBookJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createChunk(t, ChunkTypeBrief, "brief text", 0, 0)
	sceneA := f.createChunk(t, ChunkTypeScene, "", 1, 1)
	sceneB := f.createChunk(t, ChunkTypeScene, "", 1, 2)

	job := f.runJob(t, JobTypeGenerateBook, map[string]any{"target_words": float64(10)})

	if job.State != models.JobStateComplete {
		t.Fatalf("job state = %s (%s), want complete", job.State, job.Error)
	}

	for _, id := range []string{sceneA.ChunkID, sceneB.ChunkID} {
		latest, err := f.chunkStore.GetLatest(ctx, id)
		if err != nil {
			t.Fatalf("get latest: %v", err)
		}
		if latest.Version != 2 || latest.Text == "" {
			t.Errorf("scene %s = (v%d, %d chars), want generated v2", id, latest.Version, len(latest.Text))
		}
	}

	// Reference chunks are never generation targets.
	brief, err := f.chunkStore.FindReference(ctx, f.book.ID, ChunkTypeBrief)
	if err != nil {
		t.Fatalf("find brief: %v", err)
	}
	if brief.Version != 1 || brief.Text != "brief text" {
		t.Errorf("brief was regenerated: v%d %q", brief.Version, brief.Text)
	}

	// Book lock released afterwards.
	book, err := f.bookStore.Get(ctx, f.book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.IsLocked {
		t.Error("book lock not released after generation")
	}
}

func TestGenerateBookJobEmptyBook(t *testing.T) {
	f := newFixture(t)

	job := f.runJob(t, JobTypeGenerateBook, nil)

	if job.State != models.JobStateComplete {
		t.Fatalf("job on empty book = %s (%s), want complete", job.State, job.Error)
	}
}

func TestExportBookJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createChunk(t, ChunkTypeScene, "First scene text.", 1, 1)
	f.createChunk(t, ChunkTypeScene, "Second scene text.", 1, 2)
	f.createChunk(t, ChunkTypeScene, "Third scene, new chapter.", 2, 1)
	deleted := f.createChunk(t, ChunkTypeScene, "Deleted scene.", 2, 2)
	if err := f.chunkStore.SoftDelete(ctx, deleted.ChunkID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	job := f.runJob(t, JobTypeExportBook, nil)

	if job.State != models.JobStateComplete {
		t.Fatalf("job state = %s (%s), want complete", job.State, job.Error)
	}

	book, err := f.bookStore.Get(ctx, f.book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	path, _ := book.Props["last_export"].(string)
	if path == "" {
		t.Fatal("last_export prop not recorded")
	}
	if filepath.Dir(path) != f.exportDir {
		t.Errorf("export written to %s, want %s", filepath.Dir(path), f.exportDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "# Test Book") {
		t.Error("export missing the title heading")
	}
	if !strings.Contains(content, "## Chapter 1") || !strings.Contains(content, "## Chapter 2") {
		t.Error("export missing chapter headings")
	}
	if !strings.Contains(content, "First scene text.") || !strings.Contains(content, "Third scene, new chapter.") {
		t.Error("export missing scene text")
	}
	if strings.Contains(content, "Deleted scene.") {
		t.Error("export contains soft-deleted scene")
	}
}

func TestPropInt(t *testing.T) {
	tests := []struct {
		name     string
		props    map[string]any
		fallback int
		want     int
	}{
		{"nil props", nil, 7, 7},
		{"missing key", map[string]any{}, 7, 7},
		{"int value", map[string]any{"target_words": 42}, 7, 42},
		{"json float value", map[string]any{"target_words": float64(42)}, 7, 42},
		{"wrong type", map[string]any{"target_words": "many"}, 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &models.Job{Props: tt.props}
			if got := propInt(job, "target_words", tt.fallback); got != tt.want {
				t.Errorf("propInt = %d, want %d", got, tt.want)
			}
		})
	}
}
