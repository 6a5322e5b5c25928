// Package llm adapts text-completion and embedding providers to one contract.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ppiankov/verity/internal/model"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// CompletionRequest describes one completion call. Prompt is appended as a
// final user message when set.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Prompt      string
	Temperature float64
	JSONMode    bool
	MaxTokens   int
	Model       string
}

// Completer produces free-text or JSON completions
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Provider is a completer that can also embed text
type Provider interface {
	Completer

	// Name returns the provider name
	Name() string

	// Embed returns one vector per text
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrEmbeddingsUnsupported is returned by providers without an embeddings endpoint
var ErrEmbeddingsUnsupported = errors.New("embeddings not supported by provider")

// ProviderError is a non-2xx response from a provider API
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap classifies rate limits and upstream outages as transient
func (e *ProviderError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return model.ErrTransient
	}
	return nil
}

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "openrouter", "anthropic", "ollama", "" (disabled)
	Provider string

	// Model name (provider-specific)
	Model string

	// EmbeddingModel overrides the provider's default embedding model
	EmbeddingModel string

	APIKey  string
	BaseURL string

	// Timeout per request, in seconds
	Timeout int

	MaxTokens int

	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns defaults with the provider disabled
func DefaultConfig() Config {
	return Config{
		Timeout:   120,
		MaxTokens: 4096,
	}
}

// buildMessages flattens a request into chat turns
func buildMessages(req CompletionRequest, includeSystem bool) []Message {
	var msgs []Message
	if includeSystem && req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)
	if req.Prompt != "" {
		msgs = append(msgs, Message{Role: "user", Content: req.Prompt})
	}
	return msgs
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
