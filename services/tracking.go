package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"relowatch/identity"
	"relowatch/models"
	"relowatch/storage"
)

const maxNameLength = 200

// Scraper runs a single scrape on behalf of owner.
type Scraper interface {
	Scrape(ctx context.Context, owner, websiteID string) (models.ScrapeResult, error)
}

// RunHistory is the operational record of past scrapes.
type RunHistory interface {
	ListRuns(websiteID string, limit int) ([]models.ScrapeRun, error)
	ListLogs(runID int64) ([]models.ScrapeLog, error)
}

// TrackingService is what callers use to manage tracked websites and read
// what the scrapes found. Every operation is scoped to an owner.
type TrackingService struct {
	store   storage.DomainStore
	scraper Scraper
	history RunHistory
	now     func() time.Time
}

func NewTrackingService(store storage.DomainStore, scraper Scraper) *TrackingService {
	return &TrackingService{
		store:   store,
		scraper: scraper,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *TrackingService) SetRunHistory(history RunHistory) {
	s.history = history
}

type NewWebsite struct {
	URL            string                `json:"url"`
	Name           string                `json:"name"`
	Category       models.Category       `json:"category"`
	CheckFrequency models.CheckFrequency `json:"check_frequency"`
}

// WebsiteUpdate carries the fields to change; nil fields are left as is.
type WebsiteUpdate struct {
	Name           *string                `json:"name"`
	Category       *models.Category       `json:"category"`
	CheckFrequency *models.CheckFrequency `json:"check_frequency"`
	IsActive       *bool                  `json:"is_active"`
}

func (s *TrackingService) AddWebsite(ctx context.Context, owner string, in NewWebsite) (*models.TrackedWebsite, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}

	normalized, host, err := validateURL(in.URL)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = host
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	category := in.Category
	if category == "" {
		category = models.CategoryProperties
	}
	if !category.Valid() {
		return nil, &models.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}

	frequency := in.CheckFrequency
	if frequency == "" {
		frequency = models.FrequencyDaily
	}
	if !frequency.Valid() {
		return nil, &models.ValidationError{Field: "check_frequency", Reason: fmt.Sprintf("unknown frequency %q", frequency)}
	}

	existing, err := s.store.FindWebsiteByURL(ctx, owner, normalized)
	if err != nil {
		return nil, fmt.Errorf("find website: %w", err)
	}
	if existing != nil {
		return nil, &models.ValidationError{Field: "url", Reason: "already tracked"}
	}

	now := s.now()
	w := &models.TrackedWebsite{
		ID:             uuid.New().String(),
		Owner:          owner,
		URL:            normalized,
		Name:           name,
		Category:       category,
		CheckFrequency: frequency,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateWebsite(ctx, w); err != nil {
		// lost a race with a concurrent add of the same URL
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, &models.ValidationError{Field: "url", Reason: "already tracked"}
		}
		return nil, fmt.Errorf("create website: %w", err)
	}

	log.Info("Tracking website", "owner", owner, "website", w.ID, "url", w.URL)
	return w, nil
}

func (s *TrackingService) ListWebsites(ctx context.Context, owner string) ([]models.TrackedWebsite, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	websites, err := s.store.ListWebsites(ctx, owner)
	if err != nil {
		return nil, err
	}
	if websites == nil {
		websites = []models.TrackedWebsite{}
	}
	return websites, nil
}

// GetWebsite returns ErrNotFound both for unknown ids and for websites of
// another owner.
func (s *TrackingService) GetWebsite(ctx context.Context, owner, id string) (*models.TrackedWebsite, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	w, err := s.store.GetWebsite(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil || w.Owner != owner {
		return nil, fmt.Errorf("website %s: %w", id, models.ErrNotFound)
	}
	return w, nil
}

func (s *TrackingService) UpdateWebsite(ctx context.Context, owner, id string, upd WebsiteUpdate) (*models.TrackedWebsite, error) {
	w, err := s.GetWebsite(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, &models.ValidationError{Field: "name", Reason: "must not be empty"}
		}
		if err := validateName(name); err != nil {
			return nil, err
		}
		w.Name = name
	}
	if upd.Category != nil {
		if !upd.Category.Valid() {
			return nil, &models.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", *upd.Category)}
		}
		w.Category = *upd.Category
	}
	if upd.CheckFrequency != nil {
		if !upd.CheckFrequency.Valid() {
			return nil, &models.ValidationError{Field: "check_frequency", Reason: fmt.Sprintf("unknown frequency %q", *upd.CheckFrequency)}
		}
		w.CheckFrequency = *upd.CheckFrequency
	}
	if upd.IsActive != nil {
		w.IsActive = *upd.IsActive
	}
	w.UpdatedAt = s.now()

	if err := s.store.UpdateWebsite(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// DeleteWebsite removes the website together with its items and
// notifications.
func (s *TrackingService) DeleteWebsite(ctx context.Context, owner, id string) error {
	if _, err := s.GetWebsite(ctx, owner, id); err != nil {
		return err
	}
	if err := s.store.DeleteWebsite(ctx, id); err != nil {
		return err
	}
	log.Info("Stopped tracking website", "owner", owner, "website", id)
	return nil
}

func (s *TrackingService) ScrapeWebsite(ctx context.Context, owner, id string) (models.ScrapeResult, error) {
	if err := requireOwner(owner); err != nil {
		return models.ScrapeResult{}, err
	}
	return s.scraper.Scrape(ctx, owner, id)
}

func (s *TrackingService) ListItems(ctx context.Context, owner, websiteID string, activeOnly bool) ([]models.ExtractedItem, error) {
	if _, err := s.GetWebsite(ctx, owner, websiteID); err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, websiteID, activeOnly)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.ExtractedItem{}
	}
	return items, nil
}

// ListRuns returns the most recent scrape runs of a website, newest first.
func (s *TrackingService) ListRuns(ctx context.Context, owner, websiteID string, limit int) ([]models.ScrapeRun, error) {
	if _, err := s.GetWebsite(ctx, owner, websiteID); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, &models.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if s.history == nil {
		return []models.ScrapeRun{}, nil
	}
	runs, err := s.history.ListRuns(websiteID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if runs == nil {
		runs = []models.ScrapeRun{}
	}
	return runs, nil
}

// ListRunLogs returns the log lines of one run. Lines written for another
// website are never returned, so a foreign run id yields ErrNotFound.
func (s *TrackingService) ListRunLogs(ctx context.Context, owner, websiteID string, runID int64) ([]models.ScrapeLog, error) {
	if _, err := s.GetWebsite(ctx, owner, websiteID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, fmt.Errorf("run %d: %w", runID, models.ErrNotFound)
	}
	logs, err := s.history.ListLogs(runID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	out := []models.ScrapeLog{}
	for _, l := range logs {
		if l.TrackedWebsiteID == websiteID {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("run %d: %w", runID, models.ErrNotFound)
	}
	return out, nil
}

// ListNotifications returns the owner's notifications, newest first. A
// limit of zero means no limit.
func (s *TrackingService) ListNotifications(ctx context.Context, owner string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, &models.ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	out, err := s.store.ListNotifications(ctx, owner, models.NotificationFilter{UnreadOnly: unreadOnly, Limit: limit})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Notification{}
	}
	return out, nil
}

// MarkNotificationsRead marks ids as read, or every notification of the
// owner when ids is empty. It returns how many changed.
func (s *TrackingService) MarkNotificationsRead(ctx context.Context, owner string, ids []string) (int64, error) {
	if err := requireOwner(owner); err != nil {
		return 0, err
	}
	return s.store.MarkNotificationsRead(ctx, owner, ids)
}

func (s *TrackingService) ClearNotifications(ctx context.Context, owner string) (int64, error) {
	if err := requireOwner(owner); err != nil {
		return 0, err
	}
	return s.store.ClearNotifications(ctx, owner)
}

func requireOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return models.ErrUnauthorized
	}
	return nil
}

func validateURL(raw string) (string, string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", "", &models.ValidationError{Field: "url", Reason: "required"}
	}
	normalized, err := identity.NormalizeURL(raw)
	if err != nil {
		return "", "", &models.ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", "", &models.ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", &models.ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	return normalized, u.Hostname(), nil
}

func validateName(name string) error {
	if utf8.RuneCountInString(name) > maxNameLength {
		return &models.ValidationError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", maxNameLength)}
	}
	return nil
}
