package lorem

import (
	"context"
	"fmt"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"storyloom/internal/service/generate"
)

// Provider is a mock generation provider that produces lorem ipsum text.
// Used for development and testing without requiring real API keys.
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{
		generator: loremgen.New(),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-slow"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// Generate produces roughly TargetWords of lorem ipsum after a short delay
// that simulates a blocking provider call. "lorem-slow" stretches the delay
// to exercise cancellation paths interactively.
func (p *Provider) Generate(ctx context.Context, req *generate.Request) (*generate.Result, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by lorem provider", req.Model)
	}

	start := time.Now()

	delay := 100 * time.Millisecond
	if strings.Contains(req.Model, "slow") {
		delay = 5 * time.Second
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if req.Progress != nil {
		req.Progress(fmt.Sprintf("lorem: generating ~%d words", req.TargetWords))
	}

	targetWords := req.TargetWords
	if targetWords <= 0 {
		targetWords = 500
	}

	var sb strings.Builder
	words := 0
	for words < targetWords {
		sentence := p.generator.Sentence(5, 15)
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(sentence)
		words += len(strings.Fields(sentence))
	}
	text := sb.String()

	// Rough token estimates; word count as proxy, no cost for mock output.
	return &generate.Result{
		Text:         text,
		InputTokens:  len(strings.Fields(req.Prompt)),
		OutputTokens: len(strings.Fields(text)),
		Cost:         0,
		StopReason:   "end_turn",
		Elapsed:      time.Since(start).Seconds(),
	}, nil
}
