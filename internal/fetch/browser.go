package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/logging"
)

// BrowserFetcher renders pages in a shared headless Chromium. It never
// falls back to plain HTTP.
type BrowserFetcher struct {
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	launch   *launcher.Launcher
	browser  *rod.Browser
	launched bool
}

// NewBrowserFetcher creates a fetcher; Chromium starts on first use
func NewBrowserFetcher(timeout time.Duration, logger *zap.Logger) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &BrowserFetcher{timeout: timeout, logger: logging.OrNop(logger)}
}

func (b *BrowserFetcher) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}
	if b.launched {
		return nil, errors.New("browser unavailable")
	}
	b.launched = true

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("no-sandbox")
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	b.launch = l
	b.browser = browser
	b.logger.Debug("headless browser started")
	return browser, nil
}

// Fetch renders rawURL and returns its markup and extracted text
func (b *BrowserFetcher) Fetch(ctx context.Context, rawURL string) Page {
	browser, err := b.ensure()
	if err != nil {
		return failedPage(rawURL, "browser error: "+err.Error(), "browser")
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return failedPage(rawURL, "browser error: "+err.Error(), "browser")
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx).Timeout(b.timeout)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      randomUserAgent(),
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		return failedPage(rawURL, "browser error: "+err.Error(), "browser")
	}

	status := 0
	waitResponse := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			status = e.Response.Status
			return true
		}
		return false
	})

	if err := page.Navigate(rawURL); err != nil {
		return failedPage(rawURL, "browser error: "+err.Error(), "browser")
	}
	waitResponse()

	if status == 403 {
		page := failedPage(rawURL, "HTTP 403 (blocked)", "browser")
		page.Metadata["status_code"] = status
		return page
	}

	if err := page.WaitLoad(); err != nil {
		return failedPage(rawURL, "browser error: "+err.Error(), "browser")
	}

	// let late scripts settle, then nudge lazy content
	_ = fetchSleepFunc(ctx, uniform(1.5, 3))
	_, _ = page.Eval(`() => window.scrollTo(0, 300)`)

	html, err := page.HTML()
	if err != nil {
		return failedPage(rawURL, "browser error: "+err.Error(), "browser")
	}

	title := ""
	if info, err := page.Info(); err == nil {
		title = info.Title
	}

	result := newPage(rawURL, html, title, "browser")
	if status != 0 {
		result.Metadata["status_code"] = status
	}
	return result
}

// Close shuts down Chromium if it was started
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.launch.Cleanup()
	b.browser = nil
	return err
}
