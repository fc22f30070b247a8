package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScrapeWebsite CommandType = "scrape_website"
	CmdScrapeDue     CommandType = "scrape_due"
	CmdPause         CommandType = "pause"
	CmdResume        CommandType = "resume"
	CmdRunRetention  CommandType = "run_retention"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	WebsiteID string `json:"website_id,omitempty"`
	Owner     string `json:"owner,omitempty"`
}
