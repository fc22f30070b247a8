package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"relowatch/extractor"
	"relowatch/lock"
	"relowatch/models"
)

// Store is the domain persistence a scrape reads from and commits to.
// GetWebsite returns nil, nil when the website does not exist.
type Store interface {
	GetWebsite(ctx context.Context, id string) (*models.TrackedWebsite, error)
	ListDueWebsites(ctx context.Context, now time.Time) ([]models.TrackedWebsite, error)
	ListItems(ctx context.Context, websiteID string, activeOnly bool) ([]models.ExtractedItem, error)
	ApplyScrape(ctx context.Context, cs *models.ChangeSet) error
}

// RunRecorder keeps the operational history of scrapes.
type RunRecorder interface {
	CreateRun(run *models.ScrapeRun) (int64, error)
	UpdateRun(run *models.ScrapeRun) error
	Log(runID *int64, level models.LogLevel, message, websiteID string) error
}

// Archiver stores the raw HTML of a fetched page.
type Archiver interface {
	Archive(ctx context.Context, websiteID string, fetchedAt time.Time, body []byte) (string, error)
}

// Mirror receives committed change sets for downstream consumers.
type Mirror interface {
	MirrorScrape(ctx context.Context, website *models.TrackedWebsite, cs *models.ChangeSet) error
}

type Orchestrator struct {
	store      Store
	locker     lock.Locker
	fetcher    Fetcher
	dispatcher *extractor.Dispatcher

	runs        RunRecorder
	archiver    Archiver
	mirror      Mirror
	concurrency int
	paused      atomic.Bool

	now func() time.Time
}

func NewOrchestrator(store Store, locker lock.Locker, fetcher Fetcher, dispatcher *extractor.Dispatcher) *Orchestrator {
	return &Orchestrator{
		store:       store,
		locker:      locker,
		fetcher:     fetcher,
		dispatcher:  dispatcher,
		concurrency: 4,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetSinks injects the optional run history, snapshot archive and mirror.
// Any of them may be nil.
func (o *Orchestrator) SetSinks(runs RunRecorder, archiver Archiver, mirror Mirror) {
	o.runs = runs
	o.archiver = archiver
	o.mirror = mirror
}

func (o *Orchestrator) SetConcurrency(n int) {
	if n > 0 {
		o.concurrency = n
	}
}

// Scrape fetches a tracked website, extracts its listings and commits the
// differences against what was stored before. Scrapes of the same website
// are serialized; the website must belong to owner.
func (o *Orchestrator) Scrape(ctx context.Context, owner, websiteID string) (models.ScrapeResult, error) {
	release, err := o.locker.Acquire(ctx, websiteID)
	if err != nil {
		return models.ScrapeResult{}, fmt.Errorf("acquire lock for %s: %w", websiteID, err)
	}
	defer release()

	website, err := o.store.GetWebsite(ctx, websiteID)
	if err != nil {
		return models.ScrapeResult{}, fmt.Errorf("load website: %w", err)
	}
	if website == nil || website.Owner != owner {
		return models.ScrapeResult{}, fmt.Errorf("website %s: %w", websiteID, models.ErrNotFound)
	}
	if !website.IsActive {
		return models.ScrapeResult{}, fmt.Errorf("website %s: %w", websiteID, models.ErrInactive)
	}

	source := extractor.SourceFromURL(website.URL)
	run := &models.ScrapeRun{
		TrackedWebsiteID: website.ID,
		Source:           string(source),
		StartedAt:        o.now(),
		Status:           models.RunStatusRunning,
	}
	o.startRun(run)

	result, err := o.scrape(ctx, run, website, source)

	finished := o.now()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorKind = models.Kind(err)
		run.ErrorMessage = err.Error()
		o.log(run, models.LogLevelError, fmt.Sprintf("Scrape failed: %v", err))
	} else {
		run.Status = models.RunStatusCompleted
	}
	o.finishRun(run)

	return result, err
}

func (o *Orchestrator) scrape(ctx context.Context, run *models.ScrapeRun, website *models.TrackedWebsite, source extractor.Source) (models.ScrapeResult, error) {
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Starting scrape of %s", website.URL))

	body, err := o.fetcher.Fetch(ctx, website.URL)
	if err != nil {
		if !errors.Is(err, models.ErrFetch) {
			err = &models.FetchError{URL: website.URL, Err: err}
		}
		return models.ScrapeResult{}, err
	}
	fetchedAt := o.now()

	if o.archiver != nil {
		if key, err := o.archiver.Archive(ctx, website.ID, fetchedAt, body); err != nil {
			o.log(run, models.LogLevelWarn, fmt.Sprintf("Snapshot archive failed: %v", err))
		} else {
			log.Debug("Archived snapshot", "website", website.ID, "key", key)
		}
	}

	doc, err := parseDocument(body)
	if err != nil {
		return models.ScrapeResult{}, err
	}

	base, _ := url.Parse(website.URL)
	candidates, err := o.dispatcher.Dispatch(source, doc, base)
	if err != nil {
		return models.ScrapeResult{}, err
	}

	existing, err := o.store.ListItems(ctx, website.ID, false)
	if err != nil {
		return models.ScrapeResult{}, fmt.Errorf("load items: %w", err)
	}

	cs, result := Plan(website, existing, candidates, fetchedAt)
	if err := o.store.ApplyScrape(ctx, cs); err != nil {
		return models.ScrapeResult{}, fmt.Errorf("apply scrape: %w", err)
	}

	run.ItemsFound = result.ItemsFound
	run.ItemsNew = result.NewItems
	run.ItemsRemoved = len(cs.Deactivate)
	run.PriceChanges = priceChanges(cs)
	o.log(run, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d found, %d new, %d removed, %d price changes",
			run.ItemsFound, run.ItemsNew, run.ItemsRemoved, run.PriceChanges))

	if o.mirror != nil {
		if err := o.mirror.MirrorScrape(ctx, website, cs); err != nil {
			o.log(run, models.LogLevelWarn, fmt.Sprintf("Mirror failed: %v", err))
		}
	}

	return result, nil
}

func parseDocument(body []byte) (*goquery.Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &models.ParseError{Err: errors.New("empty document")}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &models.ParseError{Err: err}
	}
	return doc, nil
}

// DueSummary reports one sweep over due websites.
type DueSummary struct {
	Due       int
	Succeeded int
	Failed    int
}

// ScrapeDue scrapes every active website whose check interval has elapsed,
// running up to the configured concurrency at once. A failing website does
// not stop the others.
func (o *Orchestrator) ScrapeDue(ctx context.Context, now time.Time) (DueSummary, error) {
	if o.paused.Load() {
		log.Info("Scraper is paused, skipping due sweep")
		return DueSummary{}, nil
	}

	due, err := o.store.ListDueWebsites(ctx, now)
	if err != nil {
		return DueSummary{}, fmt.Errorf("list due websites: %w", err)
	}

	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, w := range due {
		g.Go(func() error {
			res, err := o.Scrape(gctx, w.Owner, w.ID)
			if err != nil {
				failed.Add(1)
				log.Warn("Scheduled scrape failed", "website", w.ID, "kind", models.Kind(err), "error", err)
				return nil
			}
			succeeded.Add(1)
			log.Info("Scheduled scrape done", "website", w.ID, "found", res.ItemsFound, "new", res.NewItems)
			return nil
		})
	}
	g.Wait()

	return DueSummary{
		Due:       len(due),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}, ctx.Err()
}

// HandleCommand executes a queued operator command.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	var params models.CommandParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return fmt.Errorf("parse command params: %w", err)
		}
	}

	switch cmd.Command {
	case models.CmdScrapeDue:
		_, err := o.ScrapeDue(ctx, o.now())
		return err
	case models.CmdScrapeWebsite:
		if params.WebsiteID == "" {
			return &models.ValidationError{Field: "website_id", Reason: "required"}
		}
		owner := params.Owner
		if owner == "" {
			w, err := o.store.GetWebsite(ctx, params.WebsiteID)
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("website %s: %w", params.WebsiteID, models.ErrNotFound)
			}
			owner = w.Owner
		}
		_, err := o.Scrape(ctx, owner, params.WebsiteID)
		return err
	case models.CmdPause:
		o.paused.Store(true)
		log.Info("Scraper paused")
	case models.CmdResume:
		o.paused.Store(false)
		log.Info("Scraper resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) startRun(run *models.ScrapeRun) {
	if o.runs == nil {
		return
	}
	id, err := o.runs.CreateRun(run)
	if err != nil {
		log.Warn("Failed to record run", "website", run.TrackedWebsiteID, "error", err)
		return
	}
	run.ID = id
}

func (o *Orchestrator) finishRun(run *models.ScrapeRun) {
	if o.runs == nil || run.ID == 0 {
		return
	}
	if err := o.runs.UpdateRun(run); err != nil {
		log.Warn("Failed to update run", "run", run.ID, "error", err)
	}
}

func (o *Orchestrator) log(run *models.ScrapeRun, level models.LogLevel, message string) {
	switch level {
	case models.LogLevelError:
		log.Error(message, "website", run.TrackedWebsiteID, "source", run.Source)
	case models.LogLevelWarn:
		log.Warn(message, "website", run.TrackedWebsiteID, "source", run.Source)
	default:
		log.Info(message, "website", run.TrackedWebsiteID, "source", run.Source)
	}

	if o.runs == nil {
		return
	}
	var runID *int64
	if run.ID != 0 {
		runID = &run.ID
	}
	if err := o.runs.Log(runID, level, message, run.TrackedWebsiteID); err != nil {
		log.Debug("Failed to persist run log", "error", err)
	}
}
