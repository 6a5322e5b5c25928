package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/verity/internal/cache"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (f *countingFetcher) Fetch(ctx context.Context, rawURL string) Page {
	f.mu.Lock()
	f.calls[rawURL]++
	f.mu.Unlock()
	if f.fail[rawURL] {
		return failedPage(rawURL, "HTTP 500", "http")
	}
	return Page{URL: rawURL, Success: true, Text: "text of " + rawURL, Metadata: map[string]any{"method": "http"}}
}

func TestCrawler_CrawlAllPreservesOrder(t *testing.T) {
	f := &countingFetcher{calls: map[string]int{}, fail: map[string]bool{"https://b.example/": true}}
	c := NewCrawler(f, 3, nil, 0, nil)

	urls := []string{"https://a.example/", "https://b.example/", "https://c.example/", "https://d.example/"}
	pages := c.CrawlAll(context.Background(), urls)

	if len(pages) != len(urls) {
		t.Fatalf("Expected %d pages, got %d", len(urls), len(pages))
	}
	for i, p := range pages {
		if p.URL != urls[i] {
			t.Errorf("Page %d: expected %s, got %s", i, urls[i], p.URL)
		}
	}
	if pages[1].Success {
		t.Error("Expected page 1 to fail")
	}
	if countSuccess(pages) != 3 {
		t.Errorf("Expected 3 successes, got %d", countSuccess(pages))
	}
}

func TestCrawler_CachesSuccessfulPages(t *testing.T) {
	f := &countingFetcher{calls: map[string]int{}, fail: map[string]bool{"https://bad.example/": true}}
	c := NewCrawler(f, 2, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute, nil)

	for i := 0; i < 2; i++ {
		c.Fetch(context.Background(), "https://good.example/")
		c.Fetch(context.Background(), "https://bad.example/")
	}

	if f.calls["https://good.example/"] != 1 {
		t.Errorf("Expected cached page to be fetched once, got %d", f.calls["https://good.example/"])
	}
	if f.calls["https://bad.example/"] != 2 {
		t.Errorf("Expected failed page to be refetched, got %d", f.calls["https://bad.example/"])
	}
}

func TestCrawler_EmptyInput(t *testing.T) {
	c := NewCrawler(&countingFetcher{calls: map[string]int{}}, 0, nil, 0, nil)
	if pages := c.CrawlAll(context.Background(), nil); len(pages) != 0 {
		t.Errorf("Expected no pages, got %d", len(pages))
	}
}
