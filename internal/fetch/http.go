package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/util"
	"github.com/ppiankov/verity/internal/worker"
)

const (
	max429Retries = 3
	max503Retries = 2
	maxRedirects  = 10
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

var defaultHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
}

// strictDomains block plain HTTP clients and go straight to the browser
var strictDomains = []string{
	"wikipedia.org", "wikimedia.org", "twitter.com", "x.com",
	"linkedin.com", "facebook.com", "instagram.com",
}

// fetchSleepFunc waits between retries; tests replace it
var fetchSleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// randomUserAgent picks one of the rotated browser identities
func randomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// uniform returns a random duration in [lo, hi) seconds
func uniform(lo, hi float64) time.Duration {
	return time.Duration((lo + rand.Float64()*(hi-lo)) * float64(time.Second))
}

// IsStrictDomain reports whether host belongs to a bot-hostile site
func IsStrictDomain(rawURL string) bool {
	host := hostOf(rawURL)
	for _, d := range strictDomains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// HTTPOptions configures an HTTPFetcher
type HTTPOptions struct {
	Timeout    time.Duration
	MaxBytes   int64
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string

	// Spacer enforces per-domain delays; nil disables spacing
	Spacer *worker.Limiter
	// Robots is consulted before each request when set
	Robots *RobotsChecker
	// Browser handles 403s, timeouts and strict domains when set
	Browser Fetcher
	Logger  *zap.Logger
}

// HTTPFetcher is the lightweight fetch path with browser-like headers and
// a bounded retry ladder
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	spacer   *worker.Limiter
	robots   *RobotsChecker
	browser  Fetcher
	logger   *zap.Logger
}

// NewHTTPFetcher creates a fetcher from opts
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 5 << 20
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: util.NewTransport(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &HTTPFetcher{
		client:   client,
		maxBytes: opts.MaxBytes,
		spacer:   opts.Spacer,
		robots:   opts.Robots,
		browser:  opts.Browser,
		logger:   logging.OrNop(opts.Logger),
	}
}

// Client exposes the underlying HTTP client for robots.txt lookups
func (f *HTTPFetcher) Client() *http.Client {
	return f.client
}

// Fetch retrieves rawURL. It never returns an error; failures are
// reported on the page.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) Page {
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return failedPage(rawURL, err.Error(), "http")
		}
		if !allowed {
			return failedPage(rawURL, "blocked by robots.txt", "http")
		}
		if delay > 0 && f.spacer != nil {
			if u, err := url.Parse(rawURL); err == nil {
				f.spacer.SetDomainDelay(u.Hostname(), delay)
			}
		}
	}

	if f.browser != nil && IsStrictDomain(rawURL) {
		f.logger.Debug("strict domain, using browser", zap.String("url", rawURL))
		return f.browser.Fetch(ctx, rawURL)
	}

	return f.fetchHTTP(ctx, rawURL, 0)
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, rawURL string, retry int) Page {
	if f.spacer != nil {
		if err := f.spacer.Wait(ctx, rawURL); err != nil {
			return failedPage(rawURL, err.Error(), "http")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failedPage(rawURL, err.Error(), "http")
	}
	setBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			if f.browser != nil {
				f.logger.Debug("timeout, retrying with browser", zap.String("url", rawURL))
				return f.browser.Fetch(ctx, rawURL)
			}
			return failedPage(rawURL, "Timeout", "http")
		}
		return failedPage(rawURL, err.Error(), "http")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden && f.browser != nil:
		f.logger.Debug("403, retrying with browser", zap.String("url", rawURL))
		return f.browser.Fetch(ctx, rawURL)

	case resp.StatusCode == http.StatusTooManyRequests && retry < max429Retries:
		wait := time.Duration(math.Pow(2, float64(retry)))*time.Second + uniform(1, 3)
		f.logger.Debug("rate limited", zap.String("url", rawURL), zap.Duration("wait", wait))
		if err := fetchSleepFunc(ctx, wait); err != nil {
			return failedPage(rawURL, err.Error(), "http")
		}
		return f.fetchHTTP(ctx, rawURL, retry+1)

	case resp.StatusCode == http.StatusServiceUnavailable && retry < max503Retries:
		if err := fetchSleepFunc(ctx, uniform(2, 5)); err != nil {
			return failedPage(rawURL, err.Error(), "http")
		}
		return f.fetchHTTP(ctx, rawURL, retry+1)

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		page := failedPage(rawURL, fmt.Sprintf("HTTP %d", resp.StatusCode), "http")
		page.Metadata["status_code"] = resp.StatusCode
		return page
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return failedPage(rawURL, fmt.Sprintf("read body: %v", err), "http")
	}

	contentType := resp.Header.Get("Content-Type")
	var page Page
	if isPDF(contentType, rawURL) {
		text, err := ExtractPDF(body)
		if err != nil {
			return failedPage(rawURL, err.Error(), "http")
		}
		page = Page{
			URL:         rawURL,
			Title:       SubjectFromURL(rawURL),
			Text:        text,
			ContentHash: ContentHash(string(body)),
			WordCount:   len(strings.Fields(text)),
			Success:     true,
			Metadata:    map[string]any{"method": "http", "pdf": true},
		}
	} else {
		page = newPage(rawURL, string(body), "", "http")
		if page.Title == "" {
			page.Title = SubjectFromURL(resp.Request.URL.String())
		}
	}
	page.Metadata["content_type"] = contentType
	page.Metadata["status_code"] = resp.StatusCode
	if retry > 0 {
		page.Metadata["retries"] = retry
	}
	return page
}

func setBrowserHeaders(req *http.Request) {
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", randomUserAgent())

	host := req.URL.Hostname()
	referers := []string{
		"https://www.google.com/",
		"https://www.google.com/search?q=" + strings.ReplaceAll(host, ".", "+"),
		"https://duckduckgo.com/",
		"https://www.bing.com/",
	}
	req.Header.Set("Referer", referers[rand.IntN(len(referers))])
	req.Header.Set("Origin", req.URL.Scheme+"://"+req.URL.Host)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isPDF(contentType, rawURL string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/pdf" {
		return true
	}
	u, err := url.Parse(rawURL)
	return err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

// Close shuts down the browser fallback, if any
func (f *HTTPFetcher) Close() error {
	if closer, ok := f.browser.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
