package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"relowatch/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tracked_websites (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	url TEXT NOT NULL,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	check_frequency TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_checked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (owner, url)
);

CREATE TABLE IF NOT EXISTS extracted_items (
	id TEXT PRIMARY KEY,
	tracked_website_id TEXT NOT NULL REFERENCES tracked_websites(id) ON DELETE CASCADE,
	external_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	price DOUBLE PRECISION,
	currency TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	images JSONB NOT NULL DEFAULT '[]',
	item_type TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL,
	UNIQUE (tracked_website_id, external_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	tracked_website_id TEXT NOT NULL REFERENCES tracked_websites(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}',
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_websites_owner ON tracked_websites(owner, created_at);
CREATE INDEX IF NOT EXISTS idx_items_website ON extracted_items(tracked_website_id, is_active);
CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner, is_read, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// =============================================================================
// Tracked websites
// =============================================================================

func (s *PostgresStore) CreateWebsite(ctx context.Context, w *models.TrackedWebsite) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracked_websites (`+websiteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.Owner, w.URL, w.Name, w.Category, w.CheckFrequency, w.IsActive,
		w.LastCheckedAt, w.CreatedAt, w.UpdatedAt)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("website %s: %w", w.URL, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) scanWebsite(row pgx.Row) (*models.TrackedWebsite, error) {
	var w models.TrackedWebsite
	err := row.Scan(&w.ID, &w.Owner, &w.URL, &w.Name, &w.Category, &w.CheckFrequency, &w.IsActive,
		&w.LastCheckedAt, &w.CreatedAt, &w.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) GetWebsite(ctx context.Context, id string) (*models.TrackedWebsite, error) {
	return s.scanWebsite(s.pool.QueryRow(ctx,
		`SELECT `+websiteColumns+` FROM tracked_websites WHERE id = $1`, id))
}

func (s *PostgresStore) FindWebsiteByURL(ctx context.Context, owner, url string) (*models.TrackedWebsite, error) {
	return s.scanWebsite(s.pool.QueryRow(ctx,
		`SELECT `+websiteColumns+` FROM tracked_websites WHERE owner = $1 AND url = $2`, owner, url))
}

func (s *PostgresStore) ListWebsites(ctx context.Context, owner string) ([]models.TrackedWebsite, error) {
	return s.queryWebsites(ctx,
		`SELECT `+websiteColumns+` FROM tracked_websites WHERE owner = $1 ORDER BY created_at, id`, owner)
}

func (s *PostgresStore) ListDueWebsites(ctx context.Context, now time.Time) ([]models.TrackedWebsite, error) {
	active, err := s.queryWebsites(ctx,
		`SELECT `+websiteColumns+` FROM tracked_websites WHERE is_active ORDER BY last_checked_at NULLS FIRST`)
	if err != nil {
		return nil, err
	}
	return filterDue(active, now), nil
}

func (s *PostgresStore) queryWebsites(ctx context.Context, query string, args ...any) ([]models.TrackedWebsite, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var websites []models.TrackedWebsite
	for rows.Next() {
		w, err := s.scanWebsite(rows)
		if err != nil {
			return nil, err
		}
		websites = append(websites, *w)
	}
	return websites, rows.Err()
}

func (s *PostgresStore) UpdateWebsite(ctx context.Context, w *models.TrackedWebsite) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tracked_websites SET name = $1, category = $2, check_frequency = $3, is_active = $4, updated_at = $5
		WHERE id = $6`,
		w.Name, w.Category, w.CheckFrequency, w.IsActive, w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("website %s: %w", w.ID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteWebsite(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM notifications WHERE tracked_website_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM extracted_items WHERE tracked_website_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM tracked_websites WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("website %s: %w", id, models.ErrNotFound)
		}
		return nil
	})
}

// =============================================================================
// Extracted items
// =============================================================================

func (s *PostgresStore) ListItems(ctx context.Context, websiteID string, activeOnly bool) ([]models.ExtractedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM extracted_items WHERE tracked_website_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY first_seen_at, external_id`

	rows, err := s.pool.Query(ctx, query, websiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ExtractedItem
	for rows.Next() {
		var it models.ExtractedItem
		if err := rows.Scan(&it.ID, &it.TrackedWebsiteID, &it.ExternalID, &it.Title, &it.Description, &it.URL,
			&it.Price, &it.Currency, &it.Location, &it.Images, &it.ItemType, &it.Metadata, &it.IsActive,
			&it.FirstSeenAt, &it.LastSeenAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ApplyScrape(ctx context.Context, cs *models.ChangeSet) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := range cs.Inserts {
			it := &cs.Inserts[i]
			_, err := tx.Exec(ctx, `
				INSERT INTO extracted_items (`+itemColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
				ON CONFLICT (tracked_website_id, external_id) DO UPDATE SET
					title = EXCLUDED.title,
					description = EXCLUDED.description,
					url = EXCLUDED.url,
					price = EXCLUDED.price,
					currency = EXCLUDED.currency,
					location = EXCLUDED.location,
					images = EXCLUDED.images,
					item_type = EXCLUDED.item_type,
					metadata = EXCLUDED.metadata,
					is_active = TRUE,
					last_seen_at = EXCLUDED.last_seen_at`,
				it.ID, it.TrackedWebsiteID, it.ExternalID, it.Title, it.Description, it.URL, it.Price, it.Currency,
				it.Location, nonNilImages(it.Images), it.ItemType, it.Metadata, it.IsActive, it.FirstSeenAt, it.LastSeenAt)
			if err != nil {
				return fmt.Errorf("insert item %s: %w", it.ExternalID, err)
			}
		}

		for i := range cs.Updates {
			it := &cs.Updates[i]
			_, err := tx.Exec(ctx, `
				UPDATE extracted_items SET title = $1, description = $2, url = $3, price = $4, currency = $5,
					location = $6, images = $7, item_type = $8, metadata = $9, is_active = $10, last_seen_at = $11
				WHERE id = $12`,
				it.Title, it.Description, it.URL, it.Price, it.Currency,
				it.Location, nonNilImages(it.Images), it.ItemType, it.Metadata, it.IsActive, it.LastSeenAt, it.ID)
			if err != nil {
				return fmt.Errorf("update item %s: %w", it.ExternalID, err)
			}
		}

		if len(cs.Touched) > 0 {
			if _, err := tx.Exec(ctx, `UPDATE extracted_items SET last_seen_at = $1 WHERE id = ANY($2)`,
				cs.CheckedAt, cs.Touched); err != nil {
				return fmt.Errorf("touch items: %w", err)
			}
		}

		if len(cs.Deactivate) > 0 {
			if _, err := tx.Exec(ctx, `UPDATE extracted_items SET is_active = FALSE WHERE id = ANY($1)`, cs.Deactivate); err != nil {
				return fmt.Errorf("deactivate items: %w", err)
			}
		}

		for i := range cs.Notifications {
			n := &cs.Notifications[i]
			_, err := tx.Exec(ctx, `
				INSERT INTO notifications (id, owner, tracked_website_id, kind, payload, is_read, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				n.ID, n.Owner, n.TrackedWebsiteID, n.Kind, n.Payload, n.IsRead, n.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
		}

		tag, err := tx.Exec(ctx, `UPDATE tracked_websites SET last_checked_at = $1 WHERE id = $2`, cs.CheckedAt, cs.WebsiteID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("website %s: %w", cs.WebsiteID, models.ErrNotFound)
		}
		return nil
	})
}

func nonNilImages(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}

// =============================================================================
// Notifications
// =============================================================================

func (s *PostgresStore) ListNotifications(ctx context.Context, owner string, filter models.NotificationFilter) ([]models.Notification, error) {
	query := `SELECT id, owner, tracked_website_id, kind, payload, is_read, created_at
		FROM notifications WHERE owner = $1`
	if filter.UnreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC, id`
	args := []any{owner}
	if filter.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Owner, &n.TrackedWebsiteID, &n.Kind, &n.Payload, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, owner string, ids []string) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	if len(ids) == 0 {
		tag, err = s.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE owner = $1 AND NOT is_read`, owner)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE notifications SET is_read = TRUE WHERE owner = $1 AND NOT is_read AND id = ANY($2)`, owner, ids)
	}
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ClearNotifications(ctx context.Context, owner string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE owner = $1`, owner)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
