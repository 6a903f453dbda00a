package tasks

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/feed"
	"github.com/lysyi3m/rss-reader/app/fetcher"
)

// ErrFeedNotFound is returned when the feed was removed before or during a sync.
var ErrFeedNotFound = errors.New("feed not found")

const feedAccept = "application/rss+xml, application/atom+xml, application/feed+json, " +
	"application/json;q=0.9, application/xml;q=0.8, text/xml;q=0.8, */*;q=0.5"

type FeedFetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Response, error)
}

type HTMLSanitizer interface {
	Sanitize(raw, baseURL string) string
}

type SyncResult struct {
	FeedID      int64 `json:"feed_id"`
	NotModified bool  `json:"not_modified"`
	Items       int   `json:"items"`
	Inserted    int   `json:"inserted"`
	Updated     int   `json:"updated"`
	Known       int   `json:"known"`
	Skipped     int   `json:"skipped"`
	Failed      int   `json:"failed"`
}

// SyncEngine turns a fetched feed document into stored entries.
type SyncEngine struct {
	feedRepo  database.FeedRepository
	entryRepo database.EntryRepository
	fetcher   FeedFetcher
	parser    *feed.Parser
	sanitizer HTMLSanitizer
	now       func() time.Time
}

func NewSyncEngine(feedRepo database.FeedRepository, entryRepo database.EntryRepository, f FeedFetcher,
	parser *feed.Parser, sanitizer HTMLSanitizer) *SyncEngine {
	return &SyncEngine{
		feedRepo:  feedRepo,
		entryRepo: entryRepo,
		fetcher:   f,
		parser:    parser,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Sync fetches and stores one feed. Scheduled syncs are conditional and
// first-write-wins; with resync the fetch is unconditional and the content of
// existing entries is overwritten. Fetch and parse failures are recorded on
// the feed and returned.
func (e *SyncEngine) Sync(ctx context.Context, feedID int64, resync bool) (*SyncResult, error) {
	f, err := e.feedRepo.GetFeed(feedID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %d", ErrFeedNotFound, feedID)
	}

	result := &SyncResult{FeedID: feedID}
	fetchedAt := e.now()

	req := fetcher.Request{URL: f.URL, Accept: feedAccept}
	if !resync {
		req.ETag = f.ETag
		req.LastModified = f.LastModified
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, e.recordFailure(feedID, fetchedAt, fmt.Errorf("failed to fetch feed: %w", err))
	}

	if resp.NotModified {
		if err := e.feedRepo.RecordNotModified(feedID, fetchedAt); err != nil {
			return nil, err
		}
		result.NotModified = true
		return result, nil
	}

	metadata, items, err := e.parser.Run(resp.Body)
	if err != nil {
		return nil, e.recordFailure(feedID, fetchedAt, err)
	}

	siteURL := cmp.Or(metadata.Link, f.SiteURL)
	result.Items = len(items)

	candidates := make([]candidate, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		entryURL := item.CanonicalURL(cmp.Or(siteURL, resp.FinalURL))
		if entryURL == "" {
			slog.Debug("Skipping item without usable URL", "feed_id", feedID, "guid", item.GUID, "title", item.Title)
			result.Skipped++
			continue
		}
		if seen[entryURL] {
			result.Skipped++
			continue
		}
		seen[entryURL] = true
		candidates = append(candidates, candidate{url: entryURL, item: item})
	}

	urls := make([]string, len(candidates))
	for i, c := range candidates {
		urls[i] = c.url
	}
	known, err := e.entryRepo.KnownURLs(feedID, urls)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if known[c.url] && !resync {
			result.Known++
			continue
		}

		entry := e.buildEntry(c, siteURL, resp.FinalURL, fetchedAt)

		if known[c.url] {
			updated, err := e.entryRepo.UpdateEntryContent(feedID, entry)
			if err != nil {
				slog.Warn("Failed to update entry", "feed_id", feedID, "url", c.url, "error", err)
				result.Failed++
				continue
			}
			if updated {
				result.Updated++
			}
			continue
		}

		inserted, err := e.entryRepo.InsertEntry(feedID, entry)
		if err != nil {
			slog.Warn("Failed to insert entry", "feed_id", feedID, "url", c.url, "error", err)
			result.Failed++
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Known++
		}
	}

	if result.Failed > 0 {
		if current, err := e.feedRepo.GetFeed(feedID); err == nil && current == nil {
			return nil, fmt.Errorf("%w: %d removed during sync", ErrFeedNotFound, feedID)
		}
	}

	err = e.feedRepo.RecordFetchSuccess(feedID, database.FetchResult{
		FetchedAt:     fetchedAt,
		ETag:          resp.ETag,
		LastModified:  resp.LastModified,
		Title:         metadata.Title,
		Description:   metadata.Description,
		SiteURL:       metadata.Link,
		HasNewEntries: result.Inserted > 0,
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

type candidate struct {
	url  string
	item feed.Item
}

func (e *SyncEngine) buildEntry(c candidate, siteURL, finalURL string, fetchedAt time.Time) database.NewEntry {
	base := cmp.Or(c.url, siteURL, finalURL)

	publishedAt := fetchedAt
	if c.item.PublishedAt != nil {
		publishedAt = *c.item.PublishedAt
	} else if c.item.UpdatedAt != nil {
		publishedAt = *c.item.UpdatedAt
	}

	var summary string
	if c.item.Content != "" && c.item.Description != "" {
		summary = e.sanitizer.Sanitize(c.item.Description, base)
	}

	return database.NewEntry{
		URL:         c.url,
		GUID:        c.item.GUID,
		Title:       c.item.Title,
		Author:      strings.Join(c.item.Authors, ", "),
		Content:     e.sanitizer.Sanitize(cmp.Or(c.item.Content, c.item.Description), base),
		Summary:     summary,
		PublishedAt: publishedAt,
		FetchedAt:   fetchedAt,
	}
}

func (e *SyncEngine) recordFailure(feedID int64, fetchedAt time.Time, cause error) error {
	if err := e.feedRepo.RecordFetchFailure(feedID, fetchedAt, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// SyncFeedTask runs the sync engine for one feed on behalf of the scheduler.
type SyncFeedTask struct {
	Task
	FeedID int64
	engine *SyncEngine
}

func NewSyncFeedTask(feedID int64, engine *SyncEngine) *SyncFeedTask {
	return &SyncFeedTask{
		Task:   NewTask(TaskTypeSyncFeed, strconv.FormatInt(feedID, 10)),
		FeedID: feedID,
		engine: engine,
	}
}

func (t *SyncFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.engine.Sync(ctx, t.FeedID, false)
	if errors.Is(err, ErrFeedNotFound) {
		slog.Debug("Feed disappeared before sync, skipping", "feed_id", t.FeedID)
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("Task completed",
		"type", "SyncFeed",
		"feed_id", t.FeedID,
		"duration", t.GetDuration(),
		"not_modified", result.NotModified,
		"total", result.Items,
		"known", result.Known,
		"skipped", result.Skipped,
		"new", result.Inserted)

	return nil
}
