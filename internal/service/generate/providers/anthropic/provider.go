package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"storyloom/internal/domain"
	"storyloom/internal/service/generate"
)

// Provider implements the generation provider interface for Anthropic
// (Claude) models. The SDK owns call-level retries; errors surfacing here
// already exhausted that policy.
type Provider struct {
	client *anthropic.Client
}

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Provider{
		client: &client,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// Generate performs one blocking message call.
func (p *Provider) Generate(ctx context.Context, req *generate.Request) (*generate.Result, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model '%s' is not supported by Anthropic provider", req.Model)
	}

	start := time.Now()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokensForWords(req.TargetWords),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if req.ModeOverride != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.ModeOverride,
			},
		}
	}

	if req.Progress != nil {
		req.Progress(fmt.Sprintf("anthropic: calling %s (max_tokens=%d)", req.Model, params.MaxTokens))
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	inputTokens := int(msg.Usage.InputTokens)
	outputTokens := int(msg.Usage.OutputTokens)

	return &generate.Result{
		Text:         sb.String(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         estimateCost(req.Model, inputTokens, outputTokens),
		StopReason:   string(msg.StopReason),
		Elapsed:      time.Since(start).Seconds(),
	}, nil
}

// maxTokensForWords sizes the completion budget from the target word count.
// Roughly two tokens per word of headroom, with a floor for short targets.
func maxTokensForWords(words int) int64 {
	tokens := int64(words) * 2
	if tokens < 1024 {
		tokens = 1024
	}
	return tokens
}

// modelPricing is USD per million tokens (input, output).
var modelPricing = map[string][2]float64{
	"claude-opus":   {15.0, 75.0},
	"claude-sonnet": {3.0, 15.0},
	"claude-haiku":  {1.0, 5.0},
}

// estimateCost computes the call cost from the model family's token pricing.
// Unknown models cost zero rather than guessing.
func estimateCost(model string, inputTokens, outputTokens int) float64 {
	for prefix, price := range modelPricing {
		if strings.HasPrefix(model, prefix) {
			return float64(inputTokens)*price[0]/1e6 + float64(outputTokens)*price[1]/1e6
		}
	}
	return 0
}
