package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSource(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SOURCES_DIR", filepath.Join(t.TempDir(), "missing"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Scheduler.Cron != "*/5 * * * *" {
		t.Fatalf("unexpected cron %q", cfg.Scheduler.Cron)
	}
	if cfg.Scraper.FetchTimeout != 20*time.Second {
		t.Fatalf("unexpected fetch timeout %s", cfg.Scraper.FetchTimeout)
	}
	if !cfg.Scraper.GenericExtractor {
		t.Fatalf("expected generic extractor enabled by default")
	}
	if cfg.Supabase.Enabled() || cfg.S3.Enabled() {
		t.Fatalf("expected optional integrations disabled")
	}
	if len(cfg.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(cfg.Sources))
	}
}

func TestLoadFromEnvAndSources(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	writeSource(t, dir, "idealista.yaml", "id: idealista\nname: idealista\nfetcher: browser\ntimeout: 45s\n")
	writeSource(t, dir, "pisos.yml", "name: pisos.com\nrate_limit_ms: 1000\n")
	writeSource(t, dir, "README.md", "not a source")

	t.Setenv("SOURCES_DIR", dir)
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("SCRAPE_CONCURRENCY", "2")
	t.Setenv("GENERIC_EXTRACTOR", "false")
	t.Setenv("NOTIFICATION_TTL", "72h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Scraper.FetchTimeout != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.Scraper.FetchTimeout)
	}
	if cfg.Scheduler.Concurrency != 2 {
		t.Fatalf("expected concurrency 2, got %d", cfg.Scheduler.Concurrency)
	}
	if cfg.Scraper.GenericExtractor {
		t.Fatalf("expected generic extractor disabled")
	}
	if cfg.Retention.NotificationTTL != 72*time.Hour {
		t.Fatalf("expected 72h ttl, got %s", cfg.Retention.NotificationTTL)
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	idealista := cfg.Source("idealista")
	if idealista == nil || idealista.Fetcher != FetcherBrowser || idealista.Timeout != 45*time.Second {
		t.Fatalf("unexpected idealista config %+v", idealista)
	}
	pisos := cfg.Source("pisos")
	if pisos == nil || pisos.RateLimitMS != 1000 {
		t.Fatalf("expected pisos keyed by file name, got %+v", pisos)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{
		Scheduler: SchedulerConfig{Concurrency: 1},
		Scraper:   ScraperConfig{FetchTimeout: time.Second},
		Retention: RetentionConfig{NotificationTTL: time.Hour},
		Sources:   map[string]*SourceConfig{},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Scheduler.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
	cfg.Scheduler.Concurrency = 1

	cfg.Sources["x"] = &SourceConfig{ID: "x", Fetcher: "carrier-pigeon"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown fetcher")
	}
}
