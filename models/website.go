package models

import (
	"time"
)

type Category string

const (
	CategoryProperties Category = "properties"
	CategoryLegal      Category = "legal"
	CategoryUtilities  Category = "utilities"
	CategoryMovers     Category = "movers"
	CategorySchools    Category = "schools"
	CategoryHealthcare Category = "healthcare"
	CategoryOther      Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryProperties, CategoryLegal, CategoryUtilities, CategoryMovers,
		CategorySchools, CategoryHealthcare, CategoryOther:
		return true
	}
	return false
}

type CheckFrequency string

const (
	FrequencyHourly CheckFrequency = "hourly"
	FrequencyDaily  CheckFrequency = "daily"
	FrequencyWeekly CheckFrequency = "weekly"
)

func (f CheckFrequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// Interval is the minimum time between two scheduled checks.
func (f CheckFrequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// TrackedWebsite is a user-configured page that gets scraped for listings
type TrackedWebsite struct {
	ID             string         `json:"id" db:"id"`
	Owner          string         `json:"owner" db:"owner"`
	URL            string         `json:"url" db:"url"`
	Name           string         `json:"name" db:"name"`
	Category       Category       `json:"category" db:"category"`
	CheckFrequency CheckFrequency `json:"check_frequency" db:"check_frequency"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	LastCheckedAt  *time.Time     `json:"last_checked_at" db:"last_checked_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// IsDue reports whether a scheduled check should run at now.
func (w *TrackedWebsite) IsDue(now time.Time) bool {
	if !w.IsActive {
		return false
	}
	if w.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*w.LastCheckedAt) >= w.CheckFrequency.Interval()
}

// WebsiteUpdate carries the user-editable fields; nil means unchanged.
type WebsiteUpdate struct {
	Name           *string         `json:"name,omitempty"`
	Category       *Category       `json:"category,omitempty"`
	CheckFrequency *CheckFrequency `json:"check_frequency,omitempty"`
	IsActive       *bool           `json:"is_active,omitempty"`
}

func (u *WebsiteUpdate) Apply(w *TrackedWebsite) {
	if u.Name != nil {
		w.Name = *u.Name
	}
	if u.Category != nil {
		w.Category = *u.Category
	}
	if u.CheckFrequency != nil {
		w.CheckFrequency = *u.CheckFrequency
	}
	if u.IsActive != nil {
		w.IsActive = *u.IsActive
	}
}
