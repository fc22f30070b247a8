package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/playwright-community/playwright-go"

	"relowatch/models"
)

// BrowserFetcher renders pages in headless Chromium for sources that build
// their result lists client-side. The browser is started on first use and
// shared; pages are fetched one at a time.
type BrowserFetcher struct {
	timeout   time.Duration
	userAgent string

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewBrowserFetcher(timeout time.Duration, userAgent string) *BrowserFetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &BrowserFetcher{timeout: timeout, userAgent: userAgent}
}

func (f *BrowserFetcher) ensureBrowser() error {
	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	f.browser, err = f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		f.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	f.initialized = true
	return nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}
	if err := f.ensureBrowser(); err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}

	bctx, err := f.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(f.userAgent),
		Locale:    playwright.String("es-ES"),
	})
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: fmt.Errorf("create context: %w", err)}
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: fmt.Errorf("create page: %w", err)}
	}
	defer page.Close()

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout == 0 {
			timeout = remaining
		}
	}

	resp, err := page.Goto(rawURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: err}
	}
	if resp == nil {
		return nil, &models.FetchError{URL: rawURL, Err: errors.New("no response")}
	}
	if status := resp.Status(); status < 200 || status > 299 {
		return nil, &models.FetchError{URL: rawURL, StatusCode: status}
	}

	content, err := page.Content()
	if err != nil {
		return nil, &models.FetchError{URL: rawURL, Err: fmt.Errorf("read content: %w", err)}
	}
	log.Debug("Rendered page", "url", rawURL, "bytes", len(content))
	return []byte(content), nil
}

func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		f.browser.Close()
		f.browser = nil
	}
	if f.pw != nil {
		f.pw.Stop()
		f.pw = nil
	}
	f.initialized = false
}
