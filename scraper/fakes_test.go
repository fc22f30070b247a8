package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"relowatch/models"
)

// memStore is an in-memory Store with the same uniqueness rules as the SQL
// stores.
type memStore struct {
	mu            sync.Mutex
	websites      map[string]*models.TrackedWebsite
	items         map[string][]models.ExtractedItem
	notifications []models.Notification
	applyCalls    int
}

func newMemStore(websites ...*models.TrackedWebsite) *memStore {
	s := &memStore{
		websites: make(map[string]*models.TrackedWebsite),
		items:    make(map[string][]models.ExtractedItem),
	}
	for _, w := range websites {
		s.websites[w.ID] = w
	}
	return s
}

func (s *memStore) GetWebsite(ctx context.Context, id string) (*models.TrackedWebsite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.websites[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) ListDueWebsites(ctx context.Context, now time.Time) ([]models.TrackedWebsite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.TrackedWebsite
	for _, w := range s.websites {
		if w.IsDue(now) {
			due = append(due, *w)
		}
	}
	return due, nil
}

func (s *memStore) ListItems(ctx context.Context, websiteID string, activeOnly bool) ([]models.ExtractedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExtractedItem
	for _, it := range s.items[websiteID] {
		if activeOnly && !it.IsActive {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *memStore) ApplyScrape(ctx context.Context, cs *models.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++

	items := s.items[cs.WebsiteID]
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ExternalID] = i
	}
	for _, it := range cs.Inserts {
		if _, dup := index[it.ExternalID]; dup {
			return fmt.Errorf("duplicate item %s/%s", cs.WebsiteID, it.ExternalID)
		}
		index[it.ExternalID] = len(items)
		items = append(items, it)
	}
	for _, it := range cs.Updates {
		i, ok := index[it.ExternalID]
		if !ok {
			return fmt.Errorf("update of unknown item %s", it.ExternalID)
		}
		items[i] = it
	}
	for _, id := range cs.Touched {
		for i := range items {
			if items[i].ID == id {
				items[i].LastSeenAt = cs.CheckedAt
			}
		}
	}
	for _, id := range cs.Deactivate {
		for i := range items {
			if items[i].ID == id {
				items[i].IsActive = false
			}
		}
	}
	s.items[cs.WebsiteID] = items
	s.notifications = append(s.notifications, cs.Notifications...)

	checked := cs.CheckedAt
	s.websites[cs.WebsiteID].LastCheckedAt = &checked
	return nil
}

func (s *memStore) item(websiteID, externalID string) (models.ExtractedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items[websiteID] {
		if it.ExternalID == externalID {
			return it, true
		}
	}
	return models.ExtractedItem{}, false
}

func (s *memStore) notificationsOf(kind models.NotificationKind) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type listing struct {
	id    string
	title string
	price string
}

// listingPage renders a search page the generic extractor understands.
func listingPage(listings ...listing) string {
	var b strings.Builder
	b.WriteString("<html><body><main>\n")
	for _, l := range listings {
		fmt.Fprintf(&b, `<article data-id="%s"><h2><a href="/listing/%s">%s</a></h2><span class="price">%s</span></article>`+"\n",
			l.id, l.id, l.title, l.price)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}
