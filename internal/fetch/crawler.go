package fetch

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/cache"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/worker"
)

const defaultConcurrency = 10

// Crawler fans page fetches out over a bounded worker pool and caches
// successful pages
type Crawler struct {
	fetcher     Fetcher
	concurrency int
	cache       cache.Cache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewCrawler creates a crawler. A nil cache disables page caching.
func NewCrawler(fetcher Fetcher, concurrency int, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Crawler {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Crawler{
		fetcher:     fetcher,
		concurrency: concurrency,
		cache:       c,
		cacheTTL:    ttl,
		logger:      logging.OrNop(logger),
	}
}

type crawlJob struct {
	index   int
	url     string
	crawler *Crawler
}

type crawlResult struct {
	index int
	page  Page
}

func (r *crawlResult) GetError() error { return nil }

func (j *crawlJob) Execute(ctx context.Context) worker.Result {
	return &crawlResult{index: j.index, page: j.crawler.Fetch(ctx, j.url)}
}

// Fetch retrieves one URL, consulting the page cache first
func (c *Crawler) Fetch(ctx context.Context, rawURL string) Page {
	key := cache.Key("page", rawURL)
	if c.cache != nil {
		var cached Page
		if cache.GetJSON(c.cache, key, &cached) && cached.Success {
			c.logger.Debug("page cache hit", zap.String("url", rawURL))
			return cached
		}
	}

	page := c.fetcher.Fetch(ctx, rawURL)

	if page.Success && c.cache != nil {
		if err := cache.SetJSON(c.cache, key, page, c.cacheTTL); err != nil {
			c.logger.Warn("page cache write failed", zap.String("url", rawURL), zap.Error(err))
		}
	}
	return page
}

// CrawlAll fetches every URL and returns pages in input order. Jobs that
// never ran because ctx ended come back as failed pages.
func (c *Crawler) CrawlAll(ctx context.Context, urls []string) []Page {
	pages := make([]Page, len(urls))
	if len(urls) == 0 {
		return pages
	}

	pool := worker.NewPoolWithContext(ctx, min(c.concurrency, len(urls)))
	pool.Start()
	for i, u := range urls {
		pool.Submit(&crawlJob{index: i, url: u, crawler: c})
	}

	done := make([]bool, len(urls))
	for _, r := range pool.Wait() {
		cr := r.(*crawlResult)
		pages[cr.index] = cr.page
		done[cr.index] = true
	}

	for i, ok := range done {
		if !ok {
			msg := "not fetched"
			if err := ctx.Err(); err != nil {
				msg = err.Error()
			}
			pages[i] = failedPage(urls[i], msg, "")
		}
	}

	c.logger.Debug("crawl finished", zap.Int("urls", len(urls)), zap.Int("ok", countSuccess(pages)))
	return pages
}

// Close releases the underlying fetcher's resources
func (c *Crawler) Close() error {
	if closer, ok := c.fetcher.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func countSuccess(pages []Page) int {
	n := 0
	for _, p := range pages {
		if p.Success {
			n++
		}
	}
	return n
}
