package summary

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lysyi3m/rss-reader/app/database"
)

const sweepBatchSize = 100

type WorkerOptions struct {
	Workers     int
	Lease       time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

// Worker claims queued records, calls the provider and stores the outcome.
type Worker struct {
	entries   database.EntryRepository
	summaries database.SummaryRepository
	provider  Provider
	cache     *Cache
	queue     *Queue
	opts      WorkerOptions
	now       func() time.Time
}

func NewWorker(entries database.EntryRepository, summaries database.SummaryRepository, provider Provider,
	cache *Cache, queue *Queue, opts WorkerOptions) *Worker {
	opts.Workers = max(opts.Workers, 1)
	opts.MaxAttempts = max(opts.MaxAttempts, 1)
	if opts.Lease <= opts.Timeout {
		opts.Lease = opts.Timeout + time.Minute
	}

	return &Worker{
		entries:   entries,
		summaries: summaries,
		provider:  provider,
		cache:     cache,
		queue:     queue,
		opts:      opts,
		now:       time.Now,
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Summary worker started", "provider", w.provider.Name(), "workers", w.opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case entryID := <-w.queue.Jobs():
					w.Process(ctx, entryID)
					w.queue.Done(entryID)
				}
			}
		}()
	}

	wg.Wait()
	slog.Info("Summary worker stopped")
}

// Sweep offers pending records and lease-expired processing records to the queue.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	ids, err := w.summaries.ListClaimable(w.now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if w.queue.Enqueue(id) {
			queued++
		}
	}
	return queued, nil
}

// Process runs one claim-summarize-store cycle. Panics are recovered; the
// record then stays processing until its lease expires and a sweep reclaims it.
func (w *Worker) Process(ctx context.Context, entryID int64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Summary job panicked", "entry_id", entryID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	start := w.now()
	claimed, err := w.summaries.Claim(entryID, start, start.Add(w.opts.Lease))
	if err != nil {
		slog.Error("Failed to claim summary", "entry_id", entryID, "error", err)
		return
	}
	if !claimed {
		slog.Debug("Summary not claimable, skipping", "entry_id", entryID)
		return
	}

	entry, err := w.entries.GetEntry(entryID)
	if err != nil {
		w.release(entryID, err)
		return
	}
	if entry == nil {
		w.fail(entryID, fmt.Errorf("%w: %d", ErrEntryNotFound, entryID))
		return
	}

	providerCtx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	text, err := w.provider.Summarize(providerCtx, Request{
		EntryID: entry.ID,
		URL:     entry.URL,
		Title:   entry.Title,
		Content: entry.Content,
	})
	cancel()

	if ctx.Err() != nil {
		// shutting down; the lease hands the record to the next process
		return
	}

	if err != nil {
		if IsTransient(err) {
			w.release(entryID, err)
		} else {
			w.fail(entryID, err)
		}
		return
	}

	ok, err := w.summaries.Complete(entryID, text, w.now())
	if err != nil {
		slog.Error("Failed to store summary", "entry_id", entryID, "error", err)
		return
	}
	if !ok {
		slog.Warn("Summary lease lost before completion", "entry_id", entryID)
		return
	}

	w.cache.Set(entryID, text)
	slog.Info("Summary completed", "entry_id", entryID, "provider", w.provider.Name(),
		"chars", len(text), "duration", w.now().Sub(start))
}

func (w *Worker) release(entryID int64, cause error) {
	status, err := w.summaries.Release(entryID, cause.Error(), w.opts.MaxAttempts, w.now())
	if err != nil {
		slog.Error("Failed to release summary", "entry_id", entryID, "error", err)
		return
	}
	slog.Warn("Summary attempt failed", "entry_id", entryID, "status", status, "error", cause)
}

func (w *Worker) fail(entryID int64, cause error) {
	if _, err := w.summaries.Fail(entryID, cause.Error(), w.now()); err != nil {
		slog.Error("Failed to mark summary failed", "entry_id", entryID, "error", err)
		return
	}
	slog.Warn("Summary failed", "entry_id", entryID, "error", cause)
}
