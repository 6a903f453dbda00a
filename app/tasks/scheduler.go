package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/feed"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type SchedulerOptions struct {
	WorkerCount int
	QueueSize   int
	TaskTimeout time.Duration
}

type periodicJob struct {
	interval time.Duration
	newTask  func() TaskInterface
}

// Scheduler runs a bounded worker pool. Every wall-clock minute it dispatches
// a sync for the feeds hashed into that minute's bucket; periodic jobs
// registered with Every run on their own tickers.
type Scheduler struct {
	feedRepo    database.FeedRepository
	engine      *SyncEngine
	configCache *feed.ConfigCache
	workerCount int
	taskTimeout time.Duration
	periodic    []periodicJob
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
}

func NewScheduler(feedRepo database.FeedRepository, engine *SyncEngine, configCache *feed.ConfigCache,
	opts SchedulerOptions) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.QueueSize <= 0 {
		opts.QueueSize = 300
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Minute
	}

	return &Scheduler{
		feedRepo:    feedRepo,
		engine:      engine,
		configCache: configCache,
		workerCount: max(opts.WorkerCount, 1),
		taskQueue:   make(chan TaskInterface, opts.QueueSize),
		taskTimeout: opts.TaskTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Every registers a job enqueued at startup and then once per interval.
// It must be called before Start.
func (s *Scheduler) Every(interval time.Duration, newTask func() TaskInterface) {
	s.periodic = append(s.periodic, periodicJob{interval: interval, newTask: newTask})
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.enqueueStartupTasks()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(untilNextMinute(time.Now()))
		defer timer.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case now := <-timer.C:
				s.Tick(now)
				timer.Reset(untilNextMinute(time.Now()))
			}
		}
	}()

	for _, job := range s.periodic {
		s.wg.Add(1)
		go func(job periodicJob) {
			defer s.wg.Done()

			s.enqueue(job.newTask())

			ticker := time.NewTicker(job.interval)
			defer ticker.Stop()

			for {
				select {
				case <-s.ctx.Done():
					return
				case <-ticker.C:
					s.enqueue(job.newTask())
				}
			}
		}(job)
	}
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// Tick dispatches syncs for the feeds in the bucket of now and returns how
// many were queued. A missed minute is not made up.
func (s *Scheduler) Tick(now time.Time) int {
	feeds, err := s.feedRepo.ListFeeds()
	if err != nil {
		slog.Error("Failed to list feeds for scheduling", "error", err)
		return 0
	}

	bucket := CurrentBucket(now)
	due := FeedsInBucket(feeds, bucket)
	if len(due) == 0 {
		slog.Debug("No feeds due", "bucket", bucket, "feeds", len(feeds))
		return 0
	}

	queued := 0
	for _, f := range due {
		if err := s.EnqueueTask(NewSyncFeedTask(f.ID, s.engine)); err != nil {
			slog.Warn("Failed to enqueue SyncFeedTask", "feed_id", f.ID, "url", f.URL, "error", err)
			continue
		}
		queued++
	}

	slog.Debug("Feeds scheduled", "bucket", bucket, "due", len(due), "queued", queued)
	return queued
}

func (s *Scheduler) enqueueStartupTasks() {
	if s.configCache == nil {
		return
	}

	feedConfigs := s.configCache.GetConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No feed configurations found")
		return
	}

	slog.Debug("Processing feed configurations", "count", len(feedConfigs))

	for _, name := range s.configCache.GetConfigNames() {
		s.enqueue(NewSyncFeedConfigTask(feedConfigs[name], s.feedRepo))
	}
}

func (s *Scheduler) enqueue(task TaskInterface) {
	if err := s.EnqueueTask(task); err != nil {
		slog.Warn("Failed to enqueue task", "type", string(task.GetType()), "subject", task.GetSubject(), "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)
		case <-s.ctx.Done():
			return
		}
	}
}

// executeTask runs a task once. Failures and panics are logged and the task
// waits for its next scheduled turn.
func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker task panicked", "worker_id", workerID, "type", string(task.GetType()),
				"id", task.GetID(), "subject", task.GetSubject(), "panic", r, "stack", string(debug.Stack()))
		}
	}()

	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	if err := task.Execute(taskCtx); err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()),
			"id", task.GetID(), "subject", task.GetSubject(), "duration", task.GetDuration(), "error", err)
	}
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}
