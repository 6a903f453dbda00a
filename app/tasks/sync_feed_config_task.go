package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/feed"
)

// SyncFeedConfigTask registers a feed seed from the feeds directory.
type SyncFeedConfigTask struct {
	Task
	FeedConfig *feed.Config
	feedRepo   database.FeedRepository
}

func NewSyncFeedConfigTask(feedConfig *feed.Config, feedRepo database.FeedRepository) *SyncFeedConfigTask {
	return &SyncFeedConfigTask{
		Task:       NewTask(TaskTypeSyncFeedConfig, feedConfig.Name),
		FeedConfig: feedConfig,
		feedRepo:   feedRepo,
	}
}

func (t *SyncFeedConfigTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	feedID, err := t.feedRepo.UpsertFeed(t.FeedConfig.URL, t.FeedConfig.Category, t.FeedConfig.Title)
	if err != nil {
		return fmt.Errorf("failed to sync feed config to database: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncFeedConfig",
		"feed", t.FeedConfig.Name,
		"feed_id", feedID,
		"bucket", Bucket(t.FeedConfig.URL),
		"duration", t.GetDuration())

	return nil
}
