package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relowatch/config"
	"relowatch/extractor"
	"relowatch/models"
)

const (
	maxBodyBytes     = 10 << 20
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Fetcher downloads the HTML of a tracked website. Failures are returned as
// *models.FetchError. Fetchers never retry.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type HTTPFetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

func NewHTTPFetcher(client *http.Client, timeout time.Duration, userAgent string) *HTTPFetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPFetcher{client: client, timeout: timeout, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &models.FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > maxBodyBytes {
		return nil, &models.FetchError{URL: rawURL, Err: errors.New("response body exceeds 10 MiB")}
	}
	return body, nil
}

// SourceFetcher picks a fetcher per listing source from the source configs
// and spaces out requests to the same source by its rate_limit_ms.
type SourceFetcher struct {
	fallback Fetcher
	fetchers map[extractor.Source]Fetcher

	mu       sync.Mutex
	limiters map[extractor.Source]*rate.Limiter
	delays   map[extractor.Source]time.Duration
}

// NewSourceFetcher builds one fetcher per configured source. browser may be
// nil, in which case sources configured for it use plain HTTP.
func NewSourceFetcher(cfg *config.Config, client *http.Client, browser Fetcher) *SourceFetcher {
	sf := &SourceFetcher{
		fallback: NewHTTPFetcher(client, cfg.Scraper.FetchTimeout, ""),
		fetchers: make(map[extractor.Source]Fetcher),
		limiters: make(map[extractor.Source]*rate.Limiter),
		delays:   make(map[extractor.Source]time.Duration),
	}

	for id, src := range cfg.Sources {
		source := extractor.Source(id)
		switch {
		case src.Fetcher == config.FetcherBrowser && browser != nil:
			sf.fetchers[source] = browser
		case src.Timeout > 0 || src.UserAgent != "":
			timeout := src.Timeout
			if timeout == 0 {
				timeout = cfg.Scraper.FetchTimeout
			}
			sf.fetchers[source] = NewHTTPFetcher(client, timeout, src.UserAgent)
		}
		if src.RateLimitMS > 0 {
			sf.delays[source] = time.Duration(src.RateLimitMS) * time.Millisecond
		}
	}
	return sf
}

func (f *SourceFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	source := extractor.SourceFromURL(rawURL)
	if l := f.limiter(source); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, &models.FetchError{URL: rawURL, Err: err}
		}
	}
	if fetcher, ok := f.fetchers[source]; ok {
		return fetcher.Fetch(ctx, rawURL)
	}
	return f.fallback.Fetch(ctx, rawURL)
}

func (f *SourceFetcher) limiter(source extractor.Source) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[source]; ok {
		return l
	}
	delay, ok := f.delays[source]
	if !ok {
		return nil
	}
	l := rate.NewLimiter(rate.Every(delay), 1)
	f.limiters[source] = l
	return l
}
