package database

import (
	"time"
)

type FeedRepository interface {
	GetFeed(id int64) (*Feed, error)
	ListFeeds() ([]Feed, error)
	GetFeedCount() (int, error)

	UpsertFeed(feedURL, category, title string) (int64, error)
	RecordNotModified(id int64, fetchedAt time.Time) error
	RecordFetchFailure(id int64, fetchedAt time.Time, fetchErr string) error
	RecordFetchSuccess(id int64, result FetchResult) error
}

type EntryRepository interface {
	GetEntry(id int64) (*Entry, error)
	GetEntryCount(feedID int64) (int, error)
	KnownURLs(feedID int64, urls []string) (map[string]bool, error)

	InsertEntry(feedID int64, entry NewEntry) (bool, error)
	UpdateEntryContent(feedID int64, entry NewEntry) (bool, error)
}

type ImageRepository interface {
	FindImage(kind ObjectKind, objectID int64) (*Image, error)
	UpsertImage(image Image) error
	TouchImage(kind ObjectKind, objectID int64, fetchedAt time.Time) error
}

type SummaryRepository interface {
	GetSummary(entryID int64) (*EntrySummary, error)
	ListCompleted(limit int) ([]EntrySummary, error)
	ListClaimable(now time.Time, limit int) ([]int64, error)

	UpsertPending(entryID int64, reset bool, now time.Time) (*EntrySummary, bool, error)
	Claim(entryID int64, now, leaseUntil time.Time) (bool, error)
	Complete(entryID int64, text string, now time.Time) (bool, error)
	Fail(entryID int64, message string, now time.Time) (bool, error)
	Release(entryID int64, message string, maxAttempts int, now time.Time) (SummaryStatus, error)

	DeleteFailedBefore(cutoff time.Time) (int64, error)
	DeleteOrphanedCompleted() ([]int64, error)
}

var (
	_ FeedRepository    = (*FeedRepo)(nil)
	_ EntryRepository   = (*EntryRepo)(nil)
	_ ImageRepository   = (*ImageRepo)(nil)
	_ SummaryRepository = (*SummaryRepo)(nil)
)
