// Package search discovers candidate URLs for a query through one or more
// web search providers.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
)

// Result is one search hit
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
	Rank    int    `json:"rank"`
}

// Provider is a single search backend
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

// searchSleepFunc waits between retries; tests replace it
var searchSleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Chain tries providers in order and accumulates unique URLs until max is
// reached. Provider failures are logged and skipped.
type Chain struct {
	providers []Provider
	logger    *zap.Logger
}

// NewChain creates a chain over providers
func NewChain(logger *zap.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, logger: logging.OrNop(logger)}
}

// Name returns the provider names joined with '+'
func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

// Providers returns the number of configured providers
func (c *Chain) Providers() int {
	return len(c.providers)
}

// Search never returns an error; an empty slice means every provider failed
// or found nothing
func (c *Chain) Search(ctx context.Context, query string, max int) ([]Result, error) {
	seen := make(map[string]bool)
	var results []Result

	for _, p := range c.providers {
		if len(results) >= max || ctx.Err() != nil {
			break
		}

		hits, err := p.Search(ctx, query, max-len(results))
		if err != nil {
			c.logger.Warn("search provider failed",
				zap.String("provider", p.Name()),
				zap.String("query", query),
				zap.Error(err))
			continue
		}

		for _, h := range hits {
			if h.URL == "" || seen[h.URL] {
				continue
			}
			seen[h.URL] = true
			results = append(results, h)
			if len(results) >= max {
				break
			}
		}

		c.logger.Debug("search provider completed",
			zap.String("provider", p.Name()),
			zap.String("query", query),
			zap.Int("results", len(hits)))
	}

	for i := range results {
		results[i].Rank = i
	}
	return results, nil
}

// FromConfig builds the configured provider chain. Providers whose
// credentials are missing are skipped with a warning.
func FromConfig(cfg model.SearchConfig, client *http.Client, logger *zap.Logger) (*Chain, error) {
	logger = logging.OrNop(logger)

	var providers []Provider
	for _, name := range cfg.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "duckduckgo", "ddg":
			providers = append(providers, NewDuckDuckGo(client, logger))
		case "tavily":
			p, err := NewTavily(cfg.TavilyAPIKey, client)
			if err != nil {
				logger.Warn("search provider disabled", zap.String("provider", "tavily"), zap.Error(err))
				continue
			}
			providers = append(providers, p)
		case "openalex":
			providers = append(providers, NewOpenAlex(client, cfg.ContactEmail))
		default:
			return nil, fmt.Errorf("unknown search provider %q", name)
		}
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no search providers available: %w", model.ErrMissingCredential)
	}
	return NewChain(logger, providers...), nil
}
