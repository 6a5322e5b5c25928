// Package fetch retrieves web pages over HTTP with a headless-browser
// fallback and turns them into clean text.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Page is the outcome of fetching one URL. Failed fetches carry
// Success=false and an Error string; they are never returned as Go errors.
type Page struct {
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Text        string         `json:"text"`
	HTML        string         `json:"html"`
	ContentHash string         `json:"content_hash"`
	WordCount   int            `json:"word_count"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Method returns the fetch path recorded in metadata ("http" or "browser")
func (p Page) Method() string {
	if p.Metadata == nil {
		return ""
	}
	m, _ := p.Metadata["method"].(string)
	return m
}

// Fetcher retrieves one URL
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) Page
}

// ContentHash is the first 16 hex characters of sha256(content)
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

func failedPage(rawURL, errMsg, method string) Page {
	return Page{
		URL:      rawURL,
		Success:  false,
		Error:    errMsg,
		Metadata: map[string]any{"method": method},
	}
}

// newPage builds a successful page from raw markup
func newPage(rawURL, html, title, method string) Page {
	text, extractedTitle := ExtractContent(html)
	if title == "" {
		title = extractedTitle
	}
	return Page{
		URL:         rawURL,
		Title:       strings.TrimSpace(title),
		Text:        text,
		HTML:        html,
		ContentHash: ContentHash(html),
		WordCount:   len(strings.Fields(text)),
		Success:     true,
		Metadata:    map[string]any{"method": method},
	}
}
