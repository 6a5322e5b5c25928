package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/verity/internal/model"
)

// tavilyBaseURL is a var so tests can point it at an httptest server
var tavilyBaseURL = "https://api.tavily.com"

// Tavily queries the Tavily search API
type Tavily struct {
	apiKey string
	client *http.Client
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// NewTavily requires an API key
func NewTavily(apiKey string, client *http.Client) (*Tavily, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tavily API key not set: %w", model.ErrMissingCredential)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Tavily{apiKey: apiKey, client: client}, nil
}

// Name returns "tavily"
func (t *Tavily) Name() string { return "tavily" }

// Search posts the query to /search
func (t *Tavily) Search(ctx context.Context, query string, max int) ([]Result, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:      t.apiKey,
		Query:       query,
		MaxResults:  max,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyBaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("tavily HTTP %d: %w", resp.StatusCode, model.ErrMissingCredential)
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
			return nil, fmt.Errorf("tavily HTTP %d: %w", resp.StatusCode, model.ErrTransient)
		}
		return nil, fmt.Errorf("tavily HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	results := make([]Result, 0, len(tr.Results))
	for i, r := range tr.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Source:  "tavily",
			Rank:    i,
		})
	}
	return results, nil
}
