package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type ImageRepo struct {
	db *DB
}

func NewImageRepository(db *DB) *ImageRepo {
	return &ImageRepo{db: db}
}

// FindImage returns nil without error on a cache miss.
func (r *ImageRepo) FindImage(kind ObjectKind, objectID int64) (*Image, error) {
	var image Image
	err := r.db.Get(&image, `
		SELECT id, object_type, object_id, data, content_type, source_url, etag, last_modified,
			fetched_at, created_at
		FROM images
		WHERE object_type = ? AND object_id = ?
	`, kind, objectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find image: %w", err)
	}
	return &image, nil
}

func (r *ImageRepo) UpsertImage(image Image) error {
	fetchedAt := image.FetchedAt.UTC()

	_, err := r.db.Exec(`
		INSERT INTO images (object_type, object_id, data, content_type, source_url, etag, last_modified,
			fetched_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (object_type, object_id) DO UPDATE SET
			data = excluded.data,
			content_type = excluded.content_type,
			source_url = excluded.source_url,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			fetched_at = excluded.fetched_at
	`, image.ObjectType, image.ObjectID, image.Data, image.ContentType, image.SourceURL,
		image.ETag, image.LastModified, fetchedAt, fetchedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert image: %w", err)
	}
	return nil
}

// TouchImage marks a cached image as revalidated.
func (r *ImageRepo) TouchImage(kind ObjectKind, objectID int64, fetchedAt time.Time) error {
	_, err := r.db.Exec(`UPDATE images SET fetched_at = ? WHERE object_type = ? AND object_id = ?`,
		fetchedAt.UTC(), kind, objectID)
	if err != nil {
		return fmt.Errorf("failed to touch image: %w", err)
	}
	return nil
}
