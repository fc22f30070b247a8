package models

import (
	"time"
)

// Metadata is the per-source detail bag of a listing. Source names the
// variant; the remaining fields are optional and only set when the
// extractor for that source found them.
type Metadata struct {
	Source       string   `json:"source"`
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Bathrooms    *int     `json:"bathrooms,omitempty"`
	SizeM2       *float64 `json:"size_m2,omitempty"`
	RawPriceText string   `json:"raw_price_text,omitempty"`
	Features     []string `json:"features,omitempty"`
	Floor        string   `json:"floor,omitempty"`  // idealista
	Agency       string   `json:"agency,omitempty"` // fotocasa, pisos
}

// Candidate is a listing as produced by a site extractor, before it is
// matched against stored items.
type Candidate struct {
	ExternalID  string   `json:"external_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Location    string   `json:"location,omitempty"`
	Images      []string `json:"images,omitempty"`
	ItemType    string   `json:"item_type,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// ExtractedItem is a listing previously seen on a tracked website.
// (TrackedWebsiteID, ExternalID) is unique.
type ExtractedItem struct {
	ID               string    `json:"id" db:"id"`
	TrackedWebsiteID string    `json:"tracked_website_id" db:"tracked_website_id"`
	ExternalID       string    `json:"external_id" db:"external_id"`
	Title            string    `json:"title" db:"title"`
	Description      string    `json:"description" db:"description"`
	URL              string    `json:"url" db:"url"`
	Price            *float64  `json:"price" db:"price"`
	Currency         string    `json:"currency" db:"currency"`
	Location         string    `json:"location" db:"location"`
	Images           []string  `json:"images" db:"images"`
	ItemType         string    `json:"item_type" db:"item_type"`
	Metadata         Metadata  `json:"metadata" db:"metadata"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	FirstSeenAt      time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt       time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// Refresh copies the mutable listing fields of c onto the item.
func (it *ExtractedItem) Refresh(c *Candidate) {
	it.Title = c.Title
	it.Description = c.Description
	it.URL = c.URL
	it.Price = c.Price
	it.Currency = c.Currency
	it.Location = c.Location
	it.Images = c.Images
	it.ItemType = c.ItemType
	it.Metadata = c.Metadata
}

// ChangeSet is everything a single scrape writes. Stores apply it in one
// transaction.
type ChangeSet struct {
	WebsiteID     string
	CheckedAt     time.Time
	Inserts       []ExtractedItem
	Updates       []ExtractedItem
	Touched       []string // ids of unchanged items; only last_seen_at moves to CheckedAt
	Deactivate    []string // item ids
	Notifications []Notification
}

func (cs *ChangeSet) Empty() bool {
	return len(cs.Inserts) == 0 && len(cs.Updates) == 0 && len(cs.Touched) == 0 &&
		len(cs.Deactivate) == 0 && len(cs.Notifications) == 0
}

// ScrapeResult is returned to callers of a scrape.
type ScrapeResult struct {
	ItemsFound int `json:"items_found"`
	NewItems   int `json:"new_items"`
}
