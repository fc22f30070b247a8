package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relowatch/config"
	"relowatch/models"
)

// SupabaseMirror pushes committed scrapes to a Supabase project through
// PostgREST so that client apps can subscribe to them.
type SupabaseMirror struct {
	url        string
	serviceKey string
	client     *http.Client
}

func NewSupabaseMirror(cfg *config.SupabaseConfig, client *http.Client) *SupabaseMirror {
	return &SupabaseMirror{
		url:        cfg.URL,
		serviceKey: cfg.ServiceKey,
		client:     client,
	}
}

type supabaseItem struct {
	ID               string          `json:"id"`
	TrackedWebsiteID string          `json:"tracked_website_id"`
	ExternalID       string          `json:"external_id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	URL              string          `json:"url"`
	Price            *float64        `json:"price"`
	Currency         string          `json:"currency"`
	Location         string          `json:"location"`
	Images           []string        `json:"images"`
	ItemType         string          `json:"item_type"`
	Metadata         models.Metadata `json:"metadata"`
	IsActive         bool            `json:"is_active"`
	FirstSeenAt      string          `json:"first_seen_at"`
	LastSeenAt       string          `json:"last_seen_at"`
}

const supabaseTime = "2006-01-02T15:04:05Z"

// MirrorScrape upserts the items and notifications of cs, bumps last_seen_at
// on touched items and flags the deactivated ones.
func (m *SupabaseMirror) MirrorScrape(ctx context.Context, website *models.TrackedWebsite, cs *models.ChangeSet) error {
	var rows []supabaseItem
	for _, batch := range [][]models.ExtractedItem{cs.Inserts, cs.Updates} {
		for _, it := range batch {
			rows = append(rows, supabaseItem{
				ID:               it.ID,
				TrackedWebsiteID: website.ID,
				ExternalID:       it.ExternalID,
				Title:            it.Title,
				Description:      it.Description,
				URL:              it.URL,
				Price:            it.Price,
				Currency:         it.Currency,
				Location:         it.Location,
				Images:           it.Images,
				ItemType:         it.ItemType,
				Metadata:         it.Metadata,
				IsActive:         it.IsActive,
				FirstSeenAt:      it.FirstSeenAt.UTC().Format(supabaseTime),
				LastSeenAt:       it.LastSeenAt.UTC().Format(supabaseTime),
			})
		}
	}
	if len(rows) > 0 {
		if err := m.send(ctx, "POST", "extracted_items?on_conflict=tracked_website_id,external_id", rows); err != nil {
			return fmt.Errorf("mirror items: %w", err)
		}
	}

	if len(cs.Touched) > 0 {
		filter := "extracted_items?id=in.(" + strings.Join(cs.Touched, ",") + ")"
		seen := map[string]string{"last_seen_at": cs.CheckedAt.UTC().Format(supabaseTime)}
		if err := m.send(ctx, "PATCH", filter, seen); err != nil {
			return fmt.Errorf("mirror last seen: %w", err)
		}
	}

	if len(cs.Deactivate) > 0 {
		filter := "extracted_items?id=in.(" + strings.Join(cs.Deactivate, ",") + ")"
		if err := m.send(ctx, "PATCH", filter, map[string]bool{"is_active": false}); err != nil {
			return fmt.Errorf("mirror deactivations: %w", err)
		}
	}

	if len(cs.Notifications) > 0 {
		if err := m.send(ctx, "POST", "notifications", cs.Notifications); err != nil {
			return fmt.Errorf("mirror notifications: %w", err)
		}
	}

	return nil
}

func (m *SupabaseMirror) send(ctx context.Context, method, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, m.url+"/rest/v1/"+path, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", m.serviceKey)
	req.Header.Set("Authorization", "Bearer "+m.serviceKey)
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("supabase error %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
