package scraper

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"relowatch/identity"
	"relowatch/models"
)

// Plan matches freshly extracted candidates against the items stored for a
// website and returns the writes the scrape has to commit.
//
// Unseen external ids become new active items with a new_item notification.
// Seen ids whose content fingerprint is unchanged and that are still active
// only get their last_seen_at bumped (Touched). Changed or reactivated ones
// are refreshed and rewritten (Updates); a price change on a seen item
// yields a price_change notification. Stored
// active items missing from candidates are deactivated. Duplicate external
// ids in candidates keep the first occurrence.
func Plan(website *models.TrackedWebsite, existing []models.ExtractedItem, candidates []models.Candidate, now time.Time) (*models.ChangeSet, models.ScrapeResult) {
	cs := &models.ChangeSet{
		WebsiteID: website.ID,
		CheckedAt: now,
	}

	byExternalID := make(map[string]models.ExtractedItem, len(existing))
	for _, it := range existing {
		byExternalID[it.ExternalID] = it
	}

	seen := make(map[string]bool, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if c.ExternalID == "" || seen[c.ExternalID] {
			continue
		}
		seen[c.ExternalID] = true

		if it, ok := byExternalID[c.ExternalID]; ok {
			if it.IsActive && !changed(&it, c) {
				cs.Touched = append(cs.Touched, it.ID)
				continue
			}
			previous := it.Price
			it.Refresh(c)
			it.IsActive = true
			it.LastSeenAt = now
			cs.Updates = append(cs.Updates, it)

			if priceChanged(previous, it.Price) {
				cs.Notifications = append(cs.Notifications,
					newNotification(website, &it, models.NotificationPriceChange, previous, now))
			}
			continue
		}

		it := models.ExtractedItem{
			ID:               uuid.NewString(),
			TrackedWebsiteID: website.ID,
			ExternalID:       c.ExternalID,
			IsActive:         true,
			FirstSeenAt:      now,
			LastSeenAt:       now,
		}
		it.Refresh(c)
		cs.Inserts = append(cs.Inserts, it)
		cs.Notifications = append(cs.Notifications,
			newNotification(website, &it, models.NotificationNewItem, nil, now))
	}

	for _, it := range existing {
		if it.IsActive && !seen[it.ExternalID] {
			cs.Deactivate = append(cs.Deactivate, it.ID)
		}
	}

	return cs, models.ScrapeResult{
		ItemsFound: len(seen),
		NewItems:   len(cs.Inserts),
	}
}

// changed reports whether c differs from what is stored for it.
func changed(it *models.ExtractedItem, c *models.Candidate) bool {
	stored := models.Candidate{
		Title:       it.Title,
		Description: it.Description,
		URL:         it.URL,
		Price:       it.Price,
		Currency:    it.Currency,
		Location:    it.Location,
		Images:      it.Images,
	}
	if identity.Fingerprint(&stored) != identity.Fingerprint(c) {
		return true
	}
	return it.ItemType != c.ItemType || !reflect.DeepEqual(it.Metadata, c.Metadata)
}

func priceChanged(previous, current *float64) bool {
	return previous != nil && current != nil && *previous != *current
}

func newNotification(website *models.TrackedWebsite, it *models.ExtractedItem, kind models.NotificationKind, previous *float64, now time.Time) models.Notification {
	return models.Notification{
		ID:               uuid.NewString(),
		Owner:            website.Owner,
		TrackedWebsiteID: website.ID,
		Kind:             kind,
		Payload: models.NotificationPayload{
			ItemID:        it.ID,
			ExternalID:    it.ExternalID,
			Title:         it.Title,
			URL:           it.URL,
			Price:         it.Price,
			PreviousPrice: previous,
			Currency:      it.Currency,
			WebsiteName:   website.Name,
		},
		CreatedAt: now,
	}
}

// priceChanges counts the price_change notifications in cs.
func priceChanges(cs *models.ChangeSet) int {
	n := 0
	for _, notif := range cs.Notifications {
		if notif.Kind == models.NotificationPriceChange {
			n++
		}
	}
	return n
}
