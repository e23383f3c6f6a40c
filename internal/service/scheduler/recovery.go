package scheduler

import (
	"context"
	"fmt"

	"storyloom/internal/domain/models"
	"storyloom/internal/service/lock"
)

// RecoverStale repairs state left behind by a previous process: jobs still
// marked running are resumed-as-failed, and lock fields left set on books
// and chunks are cleared. It runs before the polling loop starts, when no
// handler is live, so every lock found is stale. Locks are only ever held
// between dispatch and terminal transition, and a resource left permanently
// locked would stall its queue, so recovery errs on the side of clearing.
func (s *Scheduler) RecoverStale(ctx context.Context) error {
	stale, err := s.jobs.ListByState(ctx, models.JobStateRunning)
	if err != nil {
		return fmt.Errorf("scan running jobs: %w", err)
	}

	for i := range stale {
		job := stale[i]
		if err := s.jobs.UpdateState(ctx, job.ID, models.JobStateError, "interrupted by restart"); err != nil {
			return fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
		s.appendLog(ctx, job.ID, models.JobLogError, "interrupted by restart")
		s.logger.Warn("interrupted job resumed as failed", "job_id", job.ID, "job_type", job.JobType)
	}

	books, err := s.books.ListLocked(ctx)
	if err != nil {
		return fmt.Errorf("scan locked books: %w", err)
	}
	for i := range books {
		book := books[i]
		if err := s.locks.Release(ctx, lock.ScopeBook, book.ID); err != nil {
			return fmt.Errorf("clear stale book lock %s: %w", book.ID, err)
		}
		s.logger.Warn("stale book lock cleared", "book_id", book.ID, "owner", deref(book.JobID))
	}

	chunks, err := s.chunks.ListLocked(ctx)
	if err != nil {
		return fmt.Errorf("scan locked chunks: %w", err)
	}
	for i := range chunks {
		chunk := chunks[i]
		if err := s.locks.Release(ctx, lock.ScopeChunk, chunk.ChunkID); err != nil {
			return fmt.Errorf("clear stale chunk lock %s: %w", chunk.ChunkID, err)
		}
		s.logger.Warn("stale chunk lock cleared", "chunk_id", chunk.ChunkID, "owner", deref(chunk.JobID))
	}

	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
