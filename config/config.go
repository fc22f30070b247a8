package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Supabase  SupabaseConfig
	Proxy     ProxyConfig
	Redis     RedisConfig
	S3        S3Config
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Retention RetentionConfig

	DBPath      string // SQLite: operational data, and domain data when DatabaseURL is empty
	DatabaseURL string // Postgres domain store
	HTTPAddr    string
	LogLevel    string
	LogFile     string
	SourcesDir  string

	Sources map[string]*SourceConfig
}

type SupabaseConfig struct {
	URL        string
	ServiceKey string
}

func (c SupabaseConfig) Enabled() bool { return c.URL != "" && c.ServiceKey != "" }

type ProxyConfig struct {
	URL string
}

type RedisConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

type SchedulerConfig struct {
	Cron        string
	Concurrency int
}

type ScraperConfig struct {
	FetchTimeout     time.Duration
	GenericExtractor bool
}

type RetentionConfig struct {
	NotificationTTL time.Duration
	Interval        time.Duration
}

// SourceConfig tunes fetching for one listing source. Files live in
// SourcesDir, one per source, keyed by id.
type SourceConfig struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Fetcher     string        `yaml:"fetcher"` // http (default) or browser
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"user_agent"`
	RateLimitMS int           `yaml:"rate_limit_ms"`
}

const (
	FetcherHTTP    = "http"
	FetcherBrowser = "browser"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Supabase: SupabaseConfig{
			URL:        os.Getenv("SUPABASE_URL"),
			ServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "eu-west-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron:        getEnv("SCRAPE_CRON", "*/5 * * * *"),
			Concurrency: getEnvInt("SCRAPE_CONCURRENCY", 4),
		},
		Scraper: ScraperConfig{
			FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 20*time.Second),
			GenericExtractor: getEnvBool("GENERIC_EXTRACTOR", true),
		},
		Retention: RetentionConfig{
			NotificationTTL: getEnvDuration("NOTIFICATION_TTL", 30*24*time.Hour),
			Interval:        getEnvDuration("RETENTION_INTERVAL", time.Hour),
		},
		DBPath:      getEnv("DB_PATH", "relowatch.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", "relowatch.log"),
		SourcesDir:  getEnv("SOURCES_DIR", "config/sources"),
		Sources:     make(map[string]*SourceConfig),
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("SCRAPE_CONCURRENCY must be positive, got %d", c.Scheduler.Concurrency)
	}
	if c.Scraper.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.Scraper.FetchTimeout)
	}
	if c.Retention.NotificationTTL <= 0 {
		return fmt.Errorf("NOTIFICATION_TTL must be positive, got %s", c.Retention.NotificationTTL)
	}
	for id, src := range c.Sources {
		if src.Timeout < 0 {
			return fmt.Errorf("source %s: timeout must not be negative", id)
		}
		switch src.Fetcher {
		case "", FetcherHTTP, FetcherBrowser:
		default:
			return fmt.Errorf("source %s: unknown fetcher %q", id, src.Fetcher)
		}
	}
	return nil
}

// Source returns the config for a source id, or nil when there is none.
func (c *Config) Source(id string) *SourceConfig {
	return c.Sources[id]
}

func (c *Config) loadSourceConfigs() error {
	entries, err := os.ReadDir(c.SourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(c.SourcesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if src.ID == "" {
			src.ID = strings.TrimSuffix(entry.Name(), ext)
		}

		c.Sources[src.ID] = &src
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
