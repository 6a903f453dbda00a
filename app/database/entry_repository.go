package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

const (
	entryColumns = `id, feed_id, url, guid, title, author, content, summary,
		published_at, fetched_at, created_at, updated_at`

	// keeps IN lists well below SQLite's bound parameter limit
	knownURLsChunkSize = 500
)

type EntryRepo struct {
	db *DB
}

func NewEntryRepository(db *DB) *EntryRepo {
	return &EntryRepo{db: db}
}

// GetEntry returns nil without error when the entry does not exist.
func (r *EntryRepo) GetEntry(id int64) (*Entry, error) {
	var entry Entry
	err := r.db.Get(&entry, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return &entry, nil
}

func (r *EntryRepo) GetEntryCount(feedID int64) (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM entries WHERE feed_id = ?`, feedID); err != nil {
		return 0, fmt.Errorf("failed to get entry count: %w", err)
	}
	return count, nil
}

// KnownURLs returns the subset of urls already stored for the feed.
func (r *EntryRepo) KnownURLs(feedID int64, urls []string) (map[string]bool, error) {
	known := make(map[string]bool)

	for _, chunk := range lo.Chunk(lo.Uniq(urls), knownURLsChunkSize) {
		query, args, err := sqlx.In(`SELECT url FROM entries WHERE feed_id = ? AND url IN (?)`, feedID, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to build known urls query: %w", err)
		}

		var found []string
		if err := r.db.Select(&found, r.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to query known urls: %w", err)
		}
		for _, u := range found {
			known[u] = true
		}
	}

	return known, nil
}

// InsertEntry stores a new entry and reports whether a row was created.
// An existing (feed_id, url) pair is left untouched.
func (r *EntryRepo) InsertEntry(feedID int64, entry NewEntry) (bool, error) {
	now := time.Now().UTC()

	res, err := r.db.Exec(`
		INSERT INTO entries (feed_id, url, guid, title, author, content, summary,
			published_at, fetched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, url) DO NOTHING
	`, feedID, entry.URL, entry.GUID, entry.Title, entry.Author, entry.Content, entry.Summary,
		entry.PublishedAt.UTC(), entry.FetchedAt.UTC(), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert entry: %w", err)
	}

	return affected(res)
}

// UpdateEntryContent overwrites an existing entry during an explicit re-sync.
func (r *EntryRepo) UpdateEntryContent(feedID int64, entry NewEntry) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE entries
		SET guid = ?, title = ?, author = ?, content = ?, summary = ?,
			published_at = ?, fetched_at = ?, updated_at = ?
		WHERE feed_id = ? AND url = ?
	`, entry.GUID, entry.Title, entry.Author, entry.Content, entry.Summary,
		entry.PublishedAt.UTC(), entry.FetchedAt.UTC(), time.Now().UTC(),
		feedID, entry.URL)
	if err != nil {
		return false, fmt.Errorf("failed to update entry content: %w", err)
	}

	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
