// Package generate defines the generation-provider collaborator interface
// consumed by job handlers, plus the provider registry. Providers own their
// call-level timeout and retry policy; the scheduler never retries a
// generation on its own.
package generate

import (
	"context"
)

// Request is one generation call.
type Request struct {
	Model       string
	Prompt      string
	TargetWords int
	// ModeOverride comes from the book-level mode_override prop. Providers
	// fold it into the system prompt; callers log its presence.
	ModeOverride string
	// Progress receives human-readable progress lines for the job log.
	// May be nil.
	Progress func(message string)
}

// Result is the outcome of a generation call.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	// Cost in USD, estimated from the provider's token pricing.
	Cost       float64
	StopReason string
	// Elapsed call duration in seconds.
	Elapsed float64
}

// Provider generates text for a prompt. Implementations must respect ctx
// cancellation on the underlying call.
type Provider interface {
	// Name returns the provider name ("anthropic", "lorem")
	Name() string

	// SupportsModel returns true if this provider serves the given model
	SupportsModel(model string) bool

	// Generate performs one blocking generation call
	Generate(ctx context.Context, req *Request) (*Result, error)
}
