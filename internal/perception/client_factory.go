package perception

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProviderConfig holds the resolved provider settings.
type ProviderConfig struct {
	Provider   Provider
	APIKey     string
	Model      string // Optional model override
	BaseURL    string // Optional endpoint override
	Timeout    time.Duration
	MaxRetries int
}

// NewClientFromConfig creates an LLM client from a provider config.
func NewClientFromConfig(ctx context.Context, config ProviderConfig) (LLMClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, config.Provider)
	}

	switch config.Provider {
	case ProviderOpenAI, "":
		cfg := DefaultOpenAIConfig(config.APIKey)
		if config.Model != "" {
			cfg.Model = config.Model
		}
		if config.BaseURL != "" {
			cfg.BaseURL = config.BaseURL
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		cfg.MaxRetries = config.MaxRetries
		return NewOpenAIClientWithConfig(cfg), nil

	case ProviderGemini:
		cfg := DefaultGeminiConfig(config.APIKey)
		if config.Model != "" {
			cfg.Model = config.Model
		}
		cfg.BaseURL = config.BaseURL
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		return NewGeminiClient(ctx, cfg)

	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: openai, gemini)", config.Provider)
	}
}
