package models

import "time"

type NotificationKind string

const (
	NotificationNewItem     NotificationKind = "new_item"
	NotificationPriceChange NotificationKind = "price_change"
)

type NotificationPayload struct {
	ItemID        string   `json:"item_id"`
	ExternalID    string   `json:"external_id"`
	Title         string   `json:"title"`
	URL           string   `json:"url,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	PreviousPrice *float64 `json:"previous_price,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	WebsiteName   string   `json:"website_name,omitempty"`
}

type Notification struct {
	ID               string              `json:"id" db:"id"`
	Owner            string              `json:"owner" db:"owner"`
	TrackedWebsiteID string              `json:"tracked_website_id" db:"tracked_website_id"`
	Kind             NotificationKind    `json:"kind" db:"kind"`
	Payload          NotificationPayload `json:"payload" db:"payload"`
	IsRead           bool                `json:"is_read" db:"is_read"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
}

type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}
