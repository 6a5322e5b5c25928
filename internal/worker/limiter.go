package worker

import (
	"context"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces requests per domain. Each domain owns a token bucket; an
// optional random jitter is added after a token is granted.
//
// The domain map is shared by every crawl goroutine and is guarded by mu.
// Callers must not hold a reference to the map or a bucket across calls.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
	maxJitter    time.Duration
}

// NewDomainSpacer creates a limiter that keeps at least minDelay between
// two requests to the same domain, plus up to maxJitter of random delay
func NewDomainSpacer(minDelay, maxJitter time.Duration) *Limiter {
	r := rate.Inf
	if minDelay > 0 {
		r = rate.Every(minDelay)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: 1,
		maxJitter:    maxJitter,
	}
}

// Wait blocks until the URL's domain may be requested, including jitter
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain, err := extractDomain(rawURL)
	if err != nil {
		return err
	}

	if err := l.getLimiter(domain).Wait(ctx); err != nil {
		return err
	}

	if l.maxJitter > 0 {
		return sleepCtx(ctx, rand.N(l.maxJitter))
	}
	return nil
}

func (l *Limiter) getLimiter(domain string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[domain]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[domain]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[domain] = limiter

	return limiter
}

// SetDomainDelay slows one domain down to at most one request per delay,
// as asked by a robots.txt crawl-delay. A delay no slower than the current
// spacing leaves the domain's bucket untouched.
func (l *Limiter) SetDomainDelay(domain string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	r := rate.Every(delay)
	domain = strings.ToLower(domain)

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.defaultRate
	if existing, ok := l.limiters[domain]; ok {
		current = existing.Limit()
	}
	if current <= r {
		return
	}
	l.limiters[domain] = rate.NewLimiter(r, l.defaultBurst)
}

// extractDomain returns the lowercased host without port
func extractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Hostname()), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
