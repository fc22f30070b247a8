// Package storage persists tracked websites, extracted items and
// notifications, and keeps the operational scrape history.
package storage

import (
	"context"
	"errors"
	"time"

	"relowatch/models"
)

// ErrDuplicate is returned when a write violates a uniqueness constraint,
// such as the same owner tracking the same URL twice.
var ErrDuplicate = errors.New("duplicate record")

// DomainStore is implemented by SQLiteStore and PostgresStore. Getters
// return nil, nil when the record does not exist.
type DomainStore interface {
	CreateWebsite(ctx context.Context, w *models.TrackedWebsite) error
	GetWebsite(ctx context.Context, id string) (*models.TrackedWebsite, error)
	FindWebsiteByURL(ctx context.Context, owner, url string) (*models.TrackedWebsite, error)
	ListWebsites(ctx context.Context, owner string) ([]models.TrackedWebsite, error)
	ListDueWebsites(ctx context.Context, now time.Time) ([]models.TrackedWebsite, error)
	UpdateWebsite(ctx context.Context, w *models.TrackedWebsite) error
	DeleteWebsite(ctx context.Context, id string) error

	ListItems(ctx context.Context, websiteID string, activeOnly bool) ([]models.ExtractedItem, error)
	ApplyScrape(ctx context.Context, cs *models.ChangeSet) error

	ListNotifications(ctx context.Context, owner string, filter models.NotificationFilter) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, owner string, ids []string) (int64, error)
	ClearNotifications(ctx context.Context, owner string) (int64, error)
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

var (
	_ DomainStore = (*SQLiteStore)(nil)
	_ DomainStore = (*PostgresStore)(nil)
)

// filterDue keeps the websites whose check interval has elapsed at now.
func filterDue(websites []models.TrackedWebsite, now time.Time) []models.TrackedWebsite {
	due := websites[:0]
	for _, w := range websites {
		if w.IsDue(now) {
			due = append(due, w)
		}
	}
	return due
}
