package tasks

import (
	"context"
	"log/slog"

	"github.com/lysyi3m/rss-reader/app/summary"
)

type SummarySweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type SummaryCleaner interface {
	Run() (summary.CleanupResult, error)
}

// SweepSummariesTask hands pending and lease-expired summaries to the worker.
type SweepSummariesTask struct {
	Task
	sweeper SummarySweeper
}

func NewSweepSummariesTask(sweeper SummarySweeper) *SweepSummariesTask {
	return &SweepSummariesTask{
		Task:    NewTask(TaskTypeSweepSummaries, "summaries"),
		sweeper: sweeper,
	}
}

func (t *SweepSummariesTask) Execute(ctx context.Context) error {
	queued, err := t.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}

	if queued > 0 {
		slog.Debug("Task completed", "type", "SweepSummaries", "queued", queued, "duration", t.GetDuration())
	}
	return nil
}

// CleanupSummariesTask reaps expired failed and orphaned summary records.
type CleanupSummariesTask struct {
	Task
	cleaner SummaryCleaner
}

func NewCleanupSummariesTask(cleaner SummaryCleaner) *CleanupSummariesTask {
	return &CleanupSummariesTask{
		Task:    NewTask(TaskTypeCleanupSummaries, "summaries"),
		cleaner: cleaner,
	}
}

func (t *CleanupSummariesTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.cleaner.Run()
	if err != nil {
		return err
	}

	slog.Info("Task completed",
		"type", "CleanupSummaries",
		"failed_deleted", result.FailedDeleted,
		"orphans_deleted", result.OrphansDeleted,
		"cache_evicted", result.CacheEvicted,
		"duration", t.GetDuration())

	return nil
}
