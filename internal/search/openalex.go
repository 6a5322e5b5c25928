package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// openAlexBaseURL is a var so tests can point it at an httptest server
var openAlexBaseURL = "https://api.openalex.org/works"

const maxSnippetLength = 500

// OpenAlex searches scholarly works. Results point at the DOI or the
// publisher landing page so the crawler fetches the paper itself.
type OpenAlex struct {
	client *http.Client
	email  string
}

type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string           `json:"id"`
	Title                 string           `json:"title"`
	DOI                   string           `json:"doi"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	PrimaryLocation       struct {
		LandingPageURL string `json:"landing_page_url"`
	} `json:"primary_location"`
}

// NewOpenAlex creates a provider; email joins the polite pool when set
func NewOpenAlex(client *http.Client, email string) *OpenAlex {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAlex{client: client, email: email}
}

// Name returns "openalex"
func (o *OpenAlex) Name() string { return "openalex" }

// Search queries the works endpoint
func (o *OpenAlex) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}
	max = min(max, 200)

	params := url.Values{
		"search":   {query},
		"per_page": {strconv.Itoa(max)},
	}
	if o.email != "" {
		params.Set("mailto", o.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexBaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openalex request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openalex HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("decode openalex response: %w", err)
	}

	var results []Result
	for _, w := range oar.Results {
		link := w.DOI
		if link == "" {
			link = w.PrimaryLocation.LandingPageURL
		}
		if link == "" {
			continue
		}

		snippet := reconstructAbstract(w.AbstractInvertedIndex)
		if len(snippet) > maxSnippetLength {
			snippet = snippet[:maxSnippetLength] + "..."
		}

		results = append(results, Result{
			Title:   w.Title,
			URL:     link,
			Snippet: snippet,
			Source:  "openalex",
			Rank:    len(results),
		})
	}
	return results, nil
}

// reconstructAbstract rebuilds text from OpenAlex's word -> positions index
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range index {
		for _, p := range positions {
			pairs = append(pairs, posWord{p, word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}
