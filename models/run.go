package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScrapeRun records one execution of the orchestrator for a website
type ScrapeRun struct {
	ID               int64      `json:"id" db:"id"`
	TrackedWebsiteID string     `json:"tracked_website_id" db:"tracked_website_id"`
	Source           string     `json:"source" db:"source"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time `json:"finished_at" db:"finished_at"`
	Status           RunStatus  `json:"status" db:"status"`
	ItemsFound       int        `json:"items_found" db:"items_found"`
	ItemsNew         int        `json:"items_new" db:"items_new"`
	ItemsRemoved     int        `json:"items_removed" db:"items_removed"`
	PriceChanges     int        `json:"price_changes" db:"price_changes"`
	ErrorKind        string     `json:"error_kind" db:"error_kind"`
	ErrorMessage     string     `json:"error_message" db:"error_message"`
}
