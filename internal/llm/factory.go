package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// NewProvider creates a provider based on configuration. An empty or
// "none" provider yields Disabled, whose calls fail with
// model.ErrMissingCredential.
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "openrouter":
		return NewOpenRouterProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "", "none":
		return Disabled{}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, openrouter, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts the file configuration and fills API keys and
// endpoints from the environment when they are not set.
func ConfigFromModel(cfg model.LLMConfig, httpCfg model.HTTPConfig) Config {
	c := Config{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		MaxTokens:  cfg.MaxTokens,
		HTTPProxy:  httpCfg.HTTPProxy,
		HTTPSProxy: httpCfg.HTTPSProxy,
		NoProxy:    httpCfg.NoProxy,
	}
	return withEnv(c)
}

func withEnv(c Config) Config {
	if c.APIKey == "" {
		switch strings.ToLower(c.Provider) {
		case "openai":
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		case "openrouter":
			c.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case "anthropic", "claude":
			c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if c.BaseURL == "" && strings.EqualFold(c.Provider, "ollama") {
		c.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	return c
}

// Disabled is the provider used when no LLM is configured
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return "", fmt.Errorf("no LLM provider configured: %w", model.ErrMissingCredential)
}

func (Disabled) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("no LLM provider configured: %w", model.ErrMissingCredential)
}
