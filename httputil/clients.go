package httputil

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"relowatch/config"
)

const maxRedirects = 5

type Clients struct {
	Scraping *http.Client // proxied when PROXY_URL is set, for tracked websites
	API      *http.Client // direct, for Supabase
}

func NewClients(proxyCfg config.ProxyConfig, fetchTimeout time.Duration) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	scraping := &http.Client{
		Timeout:   fetchTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
