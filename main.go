package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"relowatch/api"
	"relowatch/config"
	"relowatch/extractor"
	"relowatch/httputil"
	"relowatch/lock"
	"relowatch/logging"
	"relowatch/models"
	"relowatch/scheduler"
	"relowatch/scraper"
	"relowatch/services"
	"relowatch/storage"
	"relowatch/workers"
)

var (
	scrapeID    = flag.String("scrape", "", "Scrape one tracked website by id and exit")
	scrapeOwner = flag.String("owner", "", "Owner of the website given to -scrape (looked up when empty)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	logFile, err := logging.Setup(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Warn("Could not set up file logging", "error", err)
	} else if logFile != nil {
		defer logFile.Close()
	}

	log.Info("Starting relowatch...")
	log.Info("Loaded source configs", "count", len(cfg.Sources))
	for id, src := range cfg.Sources {
		log.Info("  source", "id", id, "name", src.Name, "fetcher", src.Fetcher)
	}

	clients := httputil.NewClients(cfg.Proxy, cfg.Scraper.FetchTimeout)
	if cfg.Proxy.URL != "" {
		log.Info("Scraping through proxy", "proxy", maskConnectionString(cfg.Proxy.URL))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite always holds operational data (runs, logs, commands)
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal("Failed to open SQLite", "error", err)
	}
	defer sqliteStore.Close()
	log.Info("SQLite database", "path", cfg.DBPath)

	var domain storage.DomainStore = sqliteStore
	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", "error", err)
		}
		defer pgStore.Close()
		domain = pgStore
		log.Info("Connected to Postgres", "url", maskConnectionString(cfg.DatabaseURL))
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.URL != "" {
		redisLocker, err := lock.NewRedisLockerFromURL(ctx, cfg.Redis.URL, lock.RedisConfig{})
		if err != nil {
			log.Fatal("Failed to connect to Redis", "error", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		log.Info("Using Redis scrape locks")
	}

	browser := scraper.NewBrowserFetcher(cfg.Scraper.FetchTimeout, "")
	defer browser.Close()
	fetcher := scraper.NewSourceFetcher(cfg, clients.Scraping, browser)

	orchestrator := scraper.NewOrchestrator(domain, locker, fetcher, extractor.NewDispatcher(cfg.Scraper.GenericExtractor))
	orchestrator.SetConcurrency(cfg.Scheduler.Concurrency)

	var archiver scraper.Archiver
	if cfg.S3.Enabled() {
		s3Archiver, err := storage.NewS3Archiver(ctx, cfg.S3)
		if err != nil {
			log.Fatal("Failed to set up S3 archive", "error", err)
		}
		archiver = s3Archiver
		log.Info("Archiving snapshots", "bucket", cfg.S3.Bucket)
	}
	var mirror scraper.Mirror
	if cfg.Supabase.Enabled() {
		mirror = storage.NewSupabaseMirror(&cfg.Supabase, clients.API)
		log.Info("Mirroring scrapes to Supabase", "url", cfg.Supabase.URL)
	}
	orchestrator.SetSinks(sqliteStore, archiver, mirror)

	// Handle one-shot commands
	if *scrapeID != "" {
		if err := scrapeOnce(ctx, orchestrator, domain, *scrapeID, *scrapeOwner); err != nil {
			log.Fatal("Scrape failed", "kind", models.Kind(err), "error", err)
		}
		return
	}

	// Daemon mode
	retention := workers.NewRetentionWorker(domain, sqliteStore, cfg.Retention.NotificationTTL)
	retention.SetLogger(func(level models.LogLevel, message string) {
		sqliteStore.Log(nil, level, message, "")
	})
	go retention.Run(ctx, cfg.Retention.Interval)
	log.Info("Retention worker started", "ttl", cfg.Retention.NotificationTTL, "interval", cfg.Retention.Interval)

	sched := scheduler.New(cfg.Scheduler, orchestrator, sqliteStore)
	sched.SetWorkers(retention)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", "error", err)
	}

	svc := services.NewTrackingService(domain, orchestrator)
	svc.SetRunHistory(sqliteStore)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewHandler(svc).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("API listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("API server failed", "error", err)
		}
	}()

	log.Info("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("API shutdown", "error", err)
	}
	sched.Stop()
	cancel()
	log.Info("Goodbye!")
}

func scrapeOnce(ctx context.Context, o *scraper.Orchestrator, store storage.DomainStore, id, owner string) error {
	if owner == "" {
		w, err := store.GetWebsite(ctx, id)
		if err != nil {
			return err
		}
		if w == nil {
			return models.ErrNotFound
		}
		owner = w.Owner
	}

	log.Info("Running scrape...", "website", id)
	res, err := o.Scrape(ctx, owner, id)
	if err != nil {
		return err
	}
	log.Info("Scrape complete!", "found", res.ItemsFound, "new", res.NewItems)
	return nil
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
