package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"relowatch/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracked_websites (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		url TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		check_frequency TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_checked_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(owner, url)
	);

	CREATE TABLE IF NOT EXISTS extracted_items (
		id TEXT PRIMARY KEY,
		tracked_website_id TEXT NOT NULL REFERENCES tracked_websites(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		url TEXT,
		price REAL,
		currency TEXT,
		location TEXT,
		images JSON,
		item_type TEXT,
		metadata JSON,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		first_seen_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL,
		UNIQUE(tracked_website_id, external_id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		tracked_website_id TEXT NOT NULL REFERENCES tracked_websites(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		payload JSON,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		tracked_website_id TEXT,
		source TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		items_found INTEGER DEFAULT 0,
		items_new INTEGER DEFAULT 0,
		items_removed INTEGER DEFAULT 0,
		price_changes INTEGER DEFAULT 0,
		error_kind TEXT,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		tracked_website_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_websites_owner ON tracked_websites(owner, created_at);
	CREATE INDEX IF NOT EXISTS idx_items_website ON extracted_items(tracked_website_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner, is_read, created_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_website ON scrape_runs(tracked_website_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Tracked websites
// =============================================================================

const websiteColumns = `id, owner, url, name, category, check_frequency, is_active,
	last_checked_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebsite(row rowScanner) (*models.TrackedWebsite, error) {
	var w models.TrackedWebsite
	var lastChecked sql.NullTime
	err := row.Scan(&w.ID, &w.Owner, &w.URL, &w.Name, &w.Category, &w.CheckFrequency, &w.IsActive,
		&lastChecked, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		w.LastCheckedAt = &t
	}
	return &w, nil
}

func (s *SQLiteStore) CreateWebsite(ctx context.Context, w *models.TrackedWebsite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_websites (`+websiteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Owner, w.URL, w.Name, w.Category, w.CheckFrequency, w.IsActive,
		utcPtr(w.LastCheckedAt), w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("website %s: %w", w.URL, ErrDuplicate)
	}
	return err
}

func (s *SQLiteStore) GetWebsite(ctx context.Context, id string) (*models.TrackedWebsite, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+websiteColumns+` FROM tracked_websites WHERE id = ?`, id)
	w, err := scanWebsite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (s *SQLiteStore) FindWebsiteByURL(ctx context.Context, owner, url string) (*models.TrackedWebsite, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+websiteColumns+` FROM tracked_websites WHERE owner = ? AND url = ?`, owner, url)
	w, err := scanWebsite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (s *SQLiteStore) ListWebsites(ctx context.Context, owner string) ([]models.TrackedWebsite, error) {
	return s.queryWebsites(ctx, `SELECT `+websiteColumns+` FROM tracked_websites WHERE owner = ? ORDER BY created_at, id`, owner)
}

func (s *SQLiteStore) ListDueWebsites(ctx context.Context, now time.Time) ([]models.TrackedWebsite, error) {
	active, err := s.queryWebsites(ctx, `SELECT `+websiteColumns+` FROM tracked_websites WHERE is_active = TRUE ORDER BY last_checked_at`)
	if err != nil {
		return nil, err
	}
	return filterDue(active, now), nil
}

func (s *SQLiteStore) queryWebsites(ctx context.Context, query string, args ...any) ([]models.TrackedWebsite, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var websites []models.TrackedWebsite
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, err
		}
		websites = append(websites, *w)
	}
	return websites, rows.Err()
}

func (s *SQLiteStore) UpdateWebsite(ctx context.Context, w *models.TrackedWebsite) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracked_websites SET name = ?, category = ?, check_frequency = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		w.Name, w.Category, w.CheckFrequency, w.IsActive, w.UpdatedAt.UTC(), w.ID)
	if err != nil {
		return err
	}
	return expectAffected(res, w.ID)
}

// DeleteWebsite removes a website with its items and notifications.
func (s *SQLiteStore) DeleteWebsite(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM notifications WHERE tracked_website_id = ?`,
		`DELETE FROM extracted_items WHERE tracked_website_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tracked_websites WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// Extracted items
// =============================================================================

const itemColumns = `id, tracked_website_id, external_id, title, description, url, price, currency,
	location, images, item_type, metadata, is_active, first_seen_at, last_seen_at`

func scanItem(row rowScanner) (*models.ExtractedItem, error) {
	var it models.ExtractedItem
	var desc, url, currency, location, itemType, images, metadata sql.NullString
	var price sql.NullFloat64
	err := row.Scan(&it.ID, &it.TrackedWebsiteID, &it.ExternalID, &it.Title, &desc, &url, &price, &currency,
		&location, &images, &itemType, &metadata, &it.IsActive, &it.FirstSeenAt, &it.LastSeenAt)
	if err != nil {
		return nil, err
	}
	it.Description = desc.String
	it.URL = url.String
	it.Currency = currency.String
	it.Location = location.String
	it.ItemType = itemType.String
	if price.Valid {
		p := price.Float64
		it.Price = &p
	}
	if images.Valid && images.String != "" {
		if err := json.Unmarshal([]byte(images.String), &it.Images); err != nil {
			return nil, fmt.Errorf("decode images of %s: %w", it.ID, err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &it.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", it.ID, err)
		}
	}
	return &it, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, websiteID string, activeOnly bool) ([]models.ExtractedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM extracted_items WHERE tracked_website_id = ?`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY first_seen_at, external_id`

	rows, err := s.db.QueryContext(ctx, query, websiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ExtractedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// ApplyScrape commits a scrape's item writes, notifications and
// last_checked_at in one transaction.
func (s *SQLiteStore) ApplyScrape(ctx context.Context, cs *models.ChangeSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range cs.Inserts {
		it := &cs.Inserts[i]
		images, metadata, err := encodeItemJSON(it)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO extracted_items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tracked_website_id, external_id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				url = excluded.url,
				price = excluded.price,
				currency = excluded.currency,
				location = excluded.location,
				images = excluded.images,
				item_type = excluded.item_type,
				metadata = excluded.metadata,
				is_active = TRUE,
				last_seen_at = excluded.last_seen_at`,
			it.ID, it.TrackedWebsiteID, it.ExternalID, it.Title, it.Description, it.URL, it.Price, it.Currency,
			it.Location, images, it.ItemType, metadata, it.IsActive, it.FirstSeenAt.UTC(), it.LastSeenAt.UTC())
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ExternalID, err)
		}
	}

	for i := range cs.Updates {
		it := &cs.Updates[i]
		images, metadata, err := encodeItemJSON(it)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE extracted_items SET title = ?, description = ?, url = ?, price = ?, currency = ?,
				location = ?, images = ?, item_type = ?, metadata = ?, is_active = ?, last_seen_at = ?
			WHERE id = ?`,
			it.Title, it.Description, it.URL, it.Price, it.Currency,
			it.Location, images, it.ItemType, metadata, it.IsActive, it.LastSeenAt.UTC(), it.ID)
		if err != nil {
			return fmt.Errorf("update item %s: %w", it.ExternalID, err)
		}
	}

	for _, id := range cs.Touched {
		if _, err := tx.ExecContext(ctx, `UPDATE extracted_items SET last_seen_at = ? WHERE id = ?`,
			cs.CheckedAt.UTC(), id); err != nil {
			return fmt.Errorf("touch item %s: %w", id, err)
		}
	}

	for _, id := range cs.Deactivate {
		if _, err := tx.ExecContext(ctx, `UPDATE extracted_items SET is_active = FALSE WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deactivate item %s: %w", id, err)
		}
	}

	for i := range cs.Notifications {
		n := &cs.Notifications[i]
		payload, err := json.Marshal(n.Payload)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notifications (id, owner, tracked_website_id, kind, payload, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.Owner, n.TrackedWebsiteID, n.Kind, string(payload), n.IsRead, n.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE tracked_websites SET last_checked_at = ? WHERE id = ?`,
		cs.CheckedAt.UTC(), cs.WebsiteID)
	if err != nil {
		return err
	}
	if err := expectAffected(res, cs.WebsiteID); err != nil {
		return err
	}

	return tx.Commit()
}

func encodeItemJSON(it *models.ExtractedItem) (string, string, error) {
	images := it.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return "", "", err
	}
	metadataJSON, err := json.Marshal(it.Metadata)
	if err != nil {
		return "", "", err
	}
	return string(imagesJSON), string(metadataJSON), nil
}

// =============================================================================
// Notifications
// =============================================================================

func (s *SQLiteStore) ListNotifications(ctx context.Context, owner string, filter models.NotificationFilter) ([]models.Notification, error) {
	query := `SELECT id, owner, tracked_website_id, kind, payload, is_read, created_at
		FROM notifications WHERE owner = ?`
	if filter.UnreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC, id`
	args := []any{owner}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var payload sql.NullString
		if err := rows.Scan(&n.ID, &n.Owner, &n.TrackedWebsiteID, &n.Kind, &payload, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &n.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of %s: %w", n.ID, err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead marks the given notifications of owner as read;
// with no ids, all of them.
func (s *SQLiteStore) MarkNotificationsRead(ctx context.Context, owner string, ids []string) (int64, error) {
	query := `UPDATE notifications SET is_read = TRUE WHERE owner = ? AND is_read = FALSE`
	args := []any{owner}
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ClearNotifications(ctx context.Context, owner string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE owner = ?`, owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// Scrape runs, logs and commands
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (tracked_website_id, source, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.TrackedWebsiteID, run.Source, run.StartedAt.UTC(), run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET finished_at = ?, status = ?, items_found = ?, items_new = ?,
			items_removed = ?, price_changes = ?, error_kind = ?, error_message = ?
		WHERE id = ?`,
		utcPtr(run.FinishedAt), run.Status, run.ItemsFound, run.ItemsNew,
		run.ItemsRemoved, run.PriceChanges, run.ErrorKind, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) ListRuns(websiteID string, limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, tracked_website_id, source, started_at, finished_at, status, items_found, items_new,
			items_removed, price_changes, COALESCE(error_kind, ''), COALESCE(error_message, '')
		FROM scrape_runs WHERE tracked_website_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		websiteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.TrackedWebsiteID, &r.Source, &r.StartedAt, &finished, &r.Status,
			&r.ItemsFound, &r.ItemsNew, &r.ItemsRemoved, &r.PriceChanges, &r.ErrorKind, &r.ErrorMessage); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, websiteID string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, tracked_website_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, message, websiteID)
	return err
}

func (s *SQLiteStore) ListLogs(runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, tracked_website_id
		FROM scrape_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var rid sql.NullInt64
		if err := rows.Scan(&l.ID, &rid, &l.Timestamp, &l.Level, &l.Message, &l.TrackedWebsiteID); err != nil {
			return nil, err
		}
		if rid.Valid {
			v := rid.Int64
			l.RunID = &v
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) DeleteLogsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM scrape_logs WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return 0, err
		}
	}
	res, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, nullableString(raw), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		var processed sql.NullTime
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &processed); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func expectAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("website %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
