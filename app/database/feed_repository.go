package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultCategoryID = 1

	feedColumns = `id, category_id, url, title, description, site_url, etag, last_modified,
		last_fetched_at, last_parsed_at, last_fetch_error, feed_updated_at, created_at, updated_at`
)

// FeedRepo handles database operations for feeds. Only the sync engine and
// feed seeding write through it.
type FeedRepo struct {
	db *DB
}

func NewFeedRepository(db *DB) *FeedRepo {
	return &FeedRepo{db: db}
}

// UpsertFeed registers a feed under the named category, creating the category
// when needed, and returns the feed id. An empty title keeps the stored one.
func (r *FeedRepo) UpsertFeed(feedURL, category, title string) (int64, error) {
	now := time.Now().UTC()

	categoryID, err := r.ensureCategory(category, now)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.db.QueryRow(`
		INSERT INTO feeds (category_id, url, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (category_id, url) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE feeds.title END,
			updated_at = excluded.updated_at
		RETURNING id
	`, categoryID, feedURL, title, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert feed: %w", err)
	}

	return id, nil
}

func (r *FeedRepo) ensureCategory(name string, now time.Time) (int64, error) {
	if name == "" {
		return defaultCategoryID, nil
	}

	if _, err := r.db.Exec(`
		INSERT INTO categories (name, created_at) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING
	`, name, now); err != nil {
		return 0, fmt.Errorf("failed to insert category: %w", err)
	}

	var id int64
	if err := r.db.Get(&id, `SELECT id FROM categories WHERE name = ?`, name); err != nil {
		return 0, fmt.Errorf("failed to get category: %w", err)
	}
	return id, nil
}

// GetFeed returns nil without error when the feed does not exist.
func (r *FeedRepo) GetFeed(id int64) (*Feed, error) {
	var feed Feed
	err := r.db.Get(&feed, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return &feed, nil
}

func (r *FeedRepo) ListFeeds() ([]Feed, error) {
	var feeds []Feed
	if err := r.db.Select(&feeds, `SELECT `+feedColumns+` FROM feeds ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return feeds, nil
}

func (r *FeedRepo) GetFeedCount() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM feeds`); err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

// RecordNotModified touches only last_fetched_at.
func (r *FeedRepo) RecordNotModified(id int64, fetchedAt time.Time) error {
	_, err := r.db.Exec(`UPDATE feeds SET last_fetched_at = ? WHERE id = ?`, fetchedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record not modified feed: %w", err)
	}
	return nil
}

// RecordFetchFailure keeps the stored validators so the next attempt is still conditional.
func (r *FeedRepo) RecordFetchFailure(id int64, fetchedAt time.Time, fetchErr string) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET last_fetched_at = ?, last_fetch_error = ?, updated_at = ?
		WHERE id = ?
	`, fetchedAt.UTC(), fetchErr, fetchedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record feed fetch failure: %w", err)
	}
	return nil
}

func (r *FeedRepo) RecordFetchSuccess(id int64, result FetchResult) error {
	fetchedAt := result.FetchedAt.UTC()

	_, err := r.db.Exec(`
		UPDATE feeds
		SET last_fetched_at = ?,
			last_parsed_at = ?,
			last_fetch_error = '',
			etag = ?,
			last_modified = ?,
			title = CASE WHEN ? != '' THEN ? ELSE title END,
			description = CASE WHEN ? != '' THEN ? ELSE description END,
			site_url = CASE WHEN ? != '' THEN ? ELSE site_url END,
			feed_updated_at = CASE WHEN ? THEN ? ELSE feed_updated_at END,
			updated_at = ?
		WHERE id = ?
	`,
		fetchedAt, fetchedAt,
		result.ETag, result.LastModified,
		result.Title, result.Title,
		result.Description, result.Description,
		result.SiteURL, result.SiteURL,
		result.HasNewEntries, fetchedAt,
		fetchedAt, id)
	if err != nil {
		return fmt.Errorf("failed to record feed fetch success: %w", err)
	}
	return nil
}
