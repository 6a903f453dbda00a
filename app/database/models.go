package database

import (
	"database/sql/driver"
	"fmt"
	"time"
)

type Feed struct {
	ID             int64      `db:"id"`
	CategoryID     int64      `db:"category_id"`
	URL            string     `db:"url"`
	Title          string     `db:"title"`
	Description    string     `db:"description"`
	SiteURL        string     `db:"site_url"`
	ETag           string     `db:"etag"`          // opaque cache token
	LastModified   string     `db:"last_modified"` // opaque cache token
	LastFetchedAt  *time.Time `db:"last_fetched_at"`
	LastParsedAt   *time.Time `db:"last_parsed_at"`
	LastFetchError string     `db:"last_fetch_error"`
	FeedUpdatedAt  *time.Time `db:"feed_updated_at"` // last time a sync inserted new entries
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

type Entry struct {
	ID          int64     `db:"id"`
	FeedID      int64     `db:"feed_id"`
	URL         string    `db:"url"`
	GUID        string    `db:"guid"`
	Title       string    `db:"title"`
	Author      string    `db:"author"`
	Content     string    `db:"content"` // sanitized HTML
	Summary     string    `db:"summary"` // sanitized HTML
	PublishedAt time.Time `db:"published_at"`
	FetchedAt   time.Time `db:"fetched_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// ObjectKind discriminates the owners of cached images. The set is closed:
// only the package-level values exist and invalid names fail on scan.
type ObjectKind struct {
	name string
}

var (
	ObjectKindFeedIcon     = ObjectKind{name: "feed_icon"}
	ObjectKindProxiedImage = ObjectKind{name: "proxied_image"}
)

func ParseObjectKind(name string) (ObjectKind, error) {
	switch name {
	case ObjectKindFeedIcon.name:
		return ObjectKindFeedIcon, nil
	case ObjectKindProxiedImage.name:
		return ObjectKindProxiedImage, nil
	}
	return ObjectKind{}, fmt.Errorf("unknown image object kind %q", name)
}

func (k ObjectKind) String() string {
	return k.name
}

func (k ObjectKind) Value() (driver.Value, error) {
	if k.name == "" {
		return nil, fmt.Errorf("image object kind is not set")
	}
	return k.name, nil
}

func (k *ObjectKind) Scan(src any) error {
	var name string
	switch v := src.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ObjectKind", src)
	}

	kind, err := ParseObjectKind(name)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

type Image struct {
	ID           int64      `db:"id"`
	ObjectType   ObjectKind `db:"object_type"`
	ObjectID     int64      `db:"object_id"`
	Data         []byte     `db:"data"`
	ContentType  string     `db:"content_type"`
	SourceURL    string     `db:"source_url"`
	ETag         string     `db:"etag"`
	LastModified string     `db:"last_modified"`
	FetchedAt    time.Time  `db:"fetched_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

type SummaryStatus string

const (
	SummaryStatusPending    SummaryStatus = "pending"
	SummaryStatusProcessing SummaryStatus = "processing"
	SummaryStatusCompleted  SummaryStatus = "completed"
	SummaryStatusFailed     SummaryStatus = "failed"
)

// IsTerminal reports whether no automatic transition leaves this status.
func (s SummaryStatus) IsTerminal() bool {
	return s == SummaryStatusCompleted || s == SummaryStatusFailed
}

type EntrySummary struct {
	ID             int64         `db:"id"`
	EntryID        int64         `db:"entry_id"`
	Status         SummaryStatus `db:"status"`
	SummaryText    string        `db:"summary_text"`
	ErrorMessage   string        `db:"error_message"`
	Attempts       int           `db:"attempts"`
	LeaseExpiresAt *time.Time    `db:"lease_expires_at"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}
