package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/ppiankov/verity/internal/logging"
)

const (
	ddgMaxRetries   = 3
	ddgMinRetryWait = time.Second
	ddgMaxRetryWait = 10 * time.Second
)

var errRateLimited = errors.New("rate limited")

// DuckDuckGo scrapes the DuckDuckGo HTML endpoint. No API key required.
type DuckDuckGo struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewDuckDuckGo creates a provider limited to one request per second
func NewDuckDuckGo(client *http.Client, logger *zap.Logger) *DuckDuckGo {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DuckDuckGo{
		client:  client,
		baseURL: "https://html.duckduckgo.com/html/",
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logging.OrNop(logger),
	}
}

// Name returns "duckduckgo"
func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search retries timeouts with exponential backoff and rate limits with a
// longer linear backoff
func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]Result, error) {
	var lastErr error

	for attempt := 0; attempt < ddgMaxRetries; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		// jitter so parallel sessions do not hit the endpoint in lockstep
		if err := searchSleepFunc(ctx, time.Duration(100+rand.IntN(400))*time.Millisecond); err != nil {
			return nil, err
		}

		results, err := d.search(ctx, query, max)
		if err == nil {
			return results, nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case errors.Is(err, errRateLimited):
			wait = ddgMaxRetryWait * time.Duration(attempt+1)
		case isTimeout(err):
			wait = min(ddgMaxRetryWait, ddgMinRetryWait*time.Duration(math.Pow(2, float64(attempt))))
			wait += time.Duration(rand.Float64() * float64(time.Second))
		default:
			return nil, err
		}

		d.logger.Warn("duckduckgo search retrying",
			zap.String("query", query),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		if attempt < ddgMaxRetries-1 {
			if err := searchSleepFunc(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (d *DuckDuckGo) search(ctx context.Context, query string, max int) ([]Result, error) {
	reqURL := d.baseURL + "?" + url.Values{"q": {query}, "kl": {"wt-wt"}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusAccepted {
		return nil, fmt.Errorf("duckduckgo HTTP %d: %w", resp.StatusCode, errRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseDuckDuckGo(string(body), max)
}

// parseDuckDuckGo extracts results from the HTML result page
func parseDuckDuckGo(htmlContent string, max int) ([]Result, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= max {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r := resultFromNode(n); r.URL != "" && r.Title != "" {
				r.Source = "duckduckgo"
				r.Rank = len(results)
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func resultFromNode(n *html.Node) Result {
	var r Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				r.URL = attr(n, "href")
				r.Title = textContent(n)
			case hasClass(n, "result__snippet"):
				r.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	r.URL = unwrapRedirect(r.URL)
	return r
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= redirect links
func unwrapRedirect(raw string) string {
	if !strings.Contains(raw, "duckduckgo.com/l/") {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("uddg")
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
