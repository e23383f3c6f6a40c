// Package jobs implements the background job handlers: chunk generation,
// book-wide generation and export. Handlers mutate records only through the
// store services and report through the JobContext they are handed.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/domain/repositories"
	"storyloom/internal/service/generate"
	"storyloom/internal/service/scheduler"
	"storyloom/internal/service/store"
	"storyloom/internal/service/template"
)

// Deps bundles what every handler needs. Chunks is the raw repository used
// by template values; all writes go through Store.
type Deps struct {
	Store     *store.ChunkStore
	Books     *store.BookStore
	Chunks    repositories.ChunkRepository
	Resolver  *template.Resolver
	Providers *generate.ProviderRegistry

	DefaultModel       string
	DefaultTargetWords int
	ExportDir          string
	Logger             *slog.Logger
}

// Job type keys, as stored in job rows and registered with the scheduler.
const (
	JobTypeGenerateChunk = "generate_chunk"
	JobTypeGenerateBook  = "generate_book"
	JobTypeExportBook    = "export_book"
)

// RegisterAll wires every handler into the scheduler registry.
func RegisterAll(registry *scheduler.Registry, deps *Deps) {
	registry.Register(JobTypeGenerateChunk, NewGenerateChunkHandler(deps))
	registry.Register(JobTypeGenerateBook, NewGenerateBookHandler(deps))
	registry.Register(JobTypeExportBook, NewExportBookHandler(deps))
}

// generateInto resolves nothing itself: it takes a finished prompt, runs the
// provider call with cancellation checkpoints on both sides, and writes the
// output as a new version of the target chunk.
func (d *Deps) generateInto(ctx context.Context, jc *scheduler.JobContext, book *models.Book, chunkID, prompt string) error {
	if jc.Cancelled() {
		return domain.ErrCancelled
	}

	model := jc.Job.PropString("model")
	if model == "" {
		model = d.DefaultModel
	}
	provider, err := d.Providers.ForModel(model)
	if err != nil {
		return err
	}

	mode := ""
	if v, ok := book.Props[models.PropModeOverride].(string); ok && v != "" {
		mode = v
		jc.Logf(models.JobLogInfo, "mode override present on book: %s", mode)
	}

	req := &generate.Request{
		Model:        model,
		Prompt:       prompt,
		TargetWords:  propInt(jc.Job, "target_words", d.DefaultTargetWords),
		ModeOverride: mode,
		Progress: func(message string) {
			jc.Logf(models.JobLogDebug, "%s", message)
		},
	}

	result, err := provider.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("generate chunk %s: %w", chunkID, err)
	}

	// Checkpoint after the external call: a cancel observed here discards
	// the output rather than writing a version nobody asked for.
	if jc.Cancelled() {
		jc.Logf(models.JobLogInfo, "cancelled after generation, output discarded")
		return domain.ErrCancelled
	}

	updated, err := d.Store.UpdateText(ctx, chunkID, result.Text)
	if err != nil {
		return err
	}

	if err := d.Store.SetProps(ctx, chunkID, map[string]any{
		"generated_by": jc.Job.ID,
		"model":        model,
		"stop_reason":  result.StopReason,
		"cost":         result.Cost,
	}); err != nil {
		return err
	}

	jc.Logf(models.JobLogInfo,
		"wrote version %d: %d words, %d in / %d out tokens, $%.4f, stop=%s, %.1fs",
		updated.Version, updated.WordCount,
		result.InputTokens, result.OutputTokens,
		result.Cost, result.StopReason, result.Elapsed,
	)

	return nil
}

// propInt reads an integer job prop. JSON round-trips numbers as float64,
// so both representations are accepted.
func propInt(job *models.Job, key string, fallback int) int {
	if job.Props == nil {
		return fallback
	}
	switch v := job.Props[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
