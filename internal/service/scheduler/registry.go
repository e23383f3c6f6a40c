package scheduler

import (
	"context"
	"fmt"
	"sync"

	"storyloom/internal/domain"
	"storyloom/internal/domain/models"
	"storyloom/internal/service/lock"
)

// Handler is a pluggable unit of background work, registered per job type.
type Handler interface {
	// Scope declares which lock class the job needs. Export-class handlers
	// return ScopeNone and run without exclusivity.
	Scope() lock.Scope

	// Resource extracts the lock resource id from the job. Ignored for
	// ScopeNone handlers.
	Resource(job *models.Job) (string, error)

	// Run executes the work. It must check jc.Cancelled() at safe points,
	// notably around external generation calls, and return ErrCancelled
	// when it stops early.
	Run(ctx context.Context, jc *JobContext) error
}

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for the job type
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for the job type
func (r *Registry) Get(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[jobType]
	if !exists {
		return nil, fmt.Errorf("%w: unknown job type %q", domain.ErrValidation, jobType)
	}
	return h, nil
}
