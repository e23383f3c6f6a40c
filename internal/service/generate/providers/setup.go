package providers

import (
	"fmt"
	"log/slog"

	"storyloom/internal/config"
	"storyloom/internal/service/generate"
	"storyloom/internal/service/generate/providers/anthropic"
	"storyloom/internal/service/generate/providers/lorem"
)

// SetupProviders builds the provider registry from configuration.
// The lorem provider is always available so dev and test environments work
// without credentials; anthropic is registered when an API key is present.
func SetupProviders(cfg *config.Config, logger *slog.Logger) (*generate.ProviderRegistry, error) {
	registry := generate.NewProviderRegistry()

	registry.Register(lorem.NewProvider())
	logger.Info("generation provider registered", "provider", "lorem")

	if cfg.AnthropicAPIKey != "" {
		provider, err := anthropic.NewProvider(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		registry.Register(provider)
		logger.Info("generation provider registered", "provider", "anthropic")
	}

	// Fail at startup when the configured default provider did not come up,
	// instead of on the first generation job.
	if _, err := registry.Get(cfg.DefaultProvider); err != nil {
		return nil, fmt.Errorf("default provider %q is not available: %w", cfg.DefaultProvider, err)
	}

	return registry, nil
}
