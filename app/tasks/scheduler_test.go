package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/rss-reader/app/database"
)

type funcTask struct {
	Task
	run func(ctx context.Context) error
}

func newFuncTask(run func(ctx context.Context) error) *funcTask {
	return &funcTask{Task: NewTask(TaskTypeSweepSummaries, "test"), run: run}
}

func (t *funcTask) Execute(ctx context.Context) error {
	return t.run(ctx)
}

func newTestScheduler(t *testing.T, opts SchedulerOptions) (*Scheduler, *database.FeedRepo) {
	t.Helper()

	db, err := database.OpenMigrated(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	feedRepo := database.NewFeedRepository(db)
	return NewScheduler(feedRepo, nil, nil, opts), feedRepo
}

func TestScheduler_TickQueuesDueFeeds(t *testing.T) {
	scheduler, feedRepo := newTestScheduler(t, SchedulerOptions{WorkerCount: 1})

	// bucket 11
	due, err := feedRepo.UpsertFeed("https://example.com/feed.xml", "", "")
	if err != nil {
		t.Fatalf("Failed to create feed: %v", err)
	}
	// bucket 40
	if _, err := feedRepo.UpsertFeed("a", "", ""); err != nil {
		t.Fatalf("Failed to create feed: %v", err)
	}

	if queued := scheduler.Tick(time.Date(2024, 5, 1, 10, 11, 0, 0, time.UTC)); queued != 1 {
		t.Fatalf("Expected 1 queued feed, got %d", queued)
	}

	task := <-scheduler.taskQueue
	syncTask, ok := task.(*SyncFeedTask)
	if !ok {
		t.Fatalf("Expected *SyncFeedTask, got %T", task)
	}
	if syncTask.FeedID != due {
		t.Errorf("Expected feed %d, got %d", due, syncTask.FeedID)
	}

	if queued := scheduler.Tick(time.Date(2024, 5, 1, 10, 12, 0, 0, time.UTC)); queued != 0 {
		t.Errorf("Expected nothing queued for an empty bucket, got %d", queued)
	}
}

func TestScheduler_EnqueueTask(t *testing.T) {
	scheduler, _ := newTestScheduler(t, SchedulerOptions{WorkerCount: 1, QueueSize: 1})

	noop := func(context.Context) error { return nil }
	if err := scheduler.EnqueueTask(newFuncTask(noop)); err != nil {
		t.Fatalf("Expected first enqueue to succeed, got %v", err)
	}
	if err := scheduler.EnqueueTask(newFuncTask(noop)); err == nil {
		t.Error("Expected enqueue on a full queue to fail")
	}

	scheduler.Stop()
	<-scheduler.taskQueue
	if err := scheduler.EnqueueTask(newFuncTask(noop)); err == nil {
		t.Error("Expected enqueue after Stop to fail")
	}
}

func TestScheduler_RunsPeriodicJobsAtStartup(t *testing.T) {
	scheduler, _ := newTestScheduler(t, SchedulerOptions{WorkerCount: 2})

	ran := make(chan struct{}, 1)
	scheduler.Every(time.Hour, func() TaskInterface {
		return newFuncTask(func(context.Context) error {
			ran <- struct{}{}
			return nil
		})
	})

	scheduler.Start()
	defer scheduler.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the periodic job to run at startup")
	}
}

func TestScheduler_WorkerSurvivesPanickingTask(t *testing.T) {
	scheduler, _ := newTestScheduler(t, SchedulerOptions{WorkerCount: 1})
	scheduler.Start()
	defer scheduler.Stop()

	var panicked atomic.Bool
	ran := make(chan struct{})

	err := scheduler.EnqueueTask(newFuncTask(func(context.Context) error {
		panicked.Store(true)
		panic("boom")
	}))
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	err = scheduler.EnqueueTask(newFuncTask(func(context.Context) error {
		close(ran)
		return nil
	}))
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the worker to keep running after a panic")
	}
	if !panicked.Load() {
		t.Error("Expected the panicking task to have run first")
	}
}

func TestScheduler_TaskTimeout(t *testing.T) {
	scheduler, _ := newTestScheduler(t, SchedulerOptions{WorkerCount: 1, TaskTimeout: 20 * time.Millisecond})

	result := make(chan error, 1)
	scheduler.executeTask(0, newFuncTask(func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}))

	if err := <-result; err != context.DeadlineExceeded {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestUntilNextMinute(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 11, 45, 0, time.UTC)
	if got := untilNextMinute(now); got != 15*time.Second {
		t.Errorf("Expected 15s, got %s", got)
	}
}
