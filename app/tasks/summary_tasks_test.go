package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/feed"
	"github.com/lysyi3m/rss-reader/app/summary"
)

type sweeperFunc func(ctx context.Context) (int, error)

func (f sweeperFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

type cleanerFunc func() (summary.CleanupResult, error)

func (f cleanerFunc) Run() (summary.CleanupResult, error) { return f() }

func TestSweepSummariesTask(t *testing.T) {
	calls := 0
	task := NewSweepSummariesTask(sweeperFunc(func(context.Context) (int, error) {
		calls++
		return 3, nil
	}))

	if err := task.Execute(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 sweep, got %d", calls)
	}

	failing := NewSweepSummariesTask(sweeperFunc(func(context.Context) (int, error) {
		return 0, errors.New("database is locked")
	}))
	if err := failing.Execute(context.Background()); err == nil {
		t.Error("Expected sweep error to be returned")
	}
}

func TestCleanupSummariesTask(t *testing.T) {
	task := NewCleanupSummariesTask(cleanerFunc(func() (summary.CleanupResult, error) {
		return summary.CleanupResult{FailedDeleted: 2, OrphansDeleted: 1, CacheEvicted: 1}, nil
	}))
	if err := task.Execute(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := task.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSyncFeedConfigTask(t *testing.T) {
	db, err := database.OpenMigrated(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	feedRepo := database.NewFeedRepository(db)
	config := &feed.Config{Name: "example", URL: "https://example.com/feed.xml", Category: "Tech", Title: "Example"}

	for i := 0; i < 2; i++ {
		task := NewSyncFeedConfigTask(config, feedRepo)
		task.Start()
		if err := task.Execute(context.Background()); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	count, err := feedRepo.GetFeedCount()
	if err != nil {
		t.Fatalf("Failed to count feeds: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 feed after repeated registration, got %d", count)
	}

	feeds, err := feedRepo.ListFeeds()
	if err != nil {
		t.Fatalf("Failed to list feeds: %v", err)
	}
	if feeds[0].Title != "Example" {
		t.Errorf("Expected title %q, got %q", "Example", feeds[0].Title)
	}
}
