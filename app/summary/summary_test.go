package summary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-reader/app/database"
)

type providerFunc func(ctx context.Context, req Request) (string, error)

func (f providerFunc) Name() string { return "test" }

func (f providerFunc) Summarize(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type fixture struct {
	db        *database.DB
	entries   *database.EntryRepo
	summaries *database.SummaryRepo
	cache     *Cache
	queue     *Queue
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.OpenMigrated(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entries := database.NewEntryRepository(db)
	summaries := database.NewSummaryRepository(db)
	cache := NewCache(time.Hour)
	queue := NewQueue(16)

	return &fixture{
		db:        db,
		entries:   entries,
		summaries: summaries,
		cache:     cache,
		queue:     queue,
		service:   NewService(entries, summaries, cache, queue),
	}
}

func (f *fixture) worker(provider Provider, maxAttempts int) *Worker {
	return NewWorker(f.entries, f.summaries, provider, f.cache, f.queue, WorkerOptions{
		Workers:     1,
		Lease:       time.Minute,
		Timeout:     5 * time.Second,
		MaxAttempts: maxAttempts,
	})
}

func (f *fixture) addEntry(t *testing.T, url string) int64 {
	t.Helper()

	feedID, err := database.NewFeedRepository(f.db).UpsertFeed("https://example.com/feed.xml", "", "")
	require.NoError(t, err)

	now := time.Now()
	inserted, err := f.entries.InsertEntry(feedID, database.NewEntry{
		URL:         url,
		Title:       "Entry",
		Content:     "<p>Body text of the entry.</p>",
		PublishedAt: now,
		FetchedAt:   now,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	var id int64
	require.NoError(t, f.db.Get(&id, `SELECT id FROM entries WHERE url = ?`, url))
	return id
}

// drain processes every queued job the way a worker goroutine would.
func (f *fixture) drain(w *Worker) {
	for {
		select {
		case id := <-f.queue.Jobs():
			w.Process(context.Background(), id)
			f.queue.Done(id)
		default:
			return
		}
	}
}

func TestService_ConcurrentRequestsShareOneRecord(t *testing.T) {
	f := newFixture(t)
	entryID := f.addEntry(t, "https://example.com/a")

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.service.Get(entryID)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, database.SummaryStatusPending, results[i].Status)
	}

	var count int
	require.NoError(t, f.db.Get(&count, `SELECT COUNT(*) FROM entry_summaries WHERE entry_id = ?`, entryID))
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, f.queue.Len(), "one queued job per entry")

	calls := 0
	f.drain(f.worker(providerFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		assert.Equal(t, "https://example.com/a", req.URL)
		return "A short summary.", nil
	}), 3))
	assert.Equal(t, 1, calls)

	first, err := f.service.Get(entryID)
	require.NoError(t, err)
	second, err := f.service.Get(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusCompleted, first.Status)
	assert.Equal(t, "A short summary.", first.Text)
	assert.Equal(t, first.Text, second.Text)
}

func TestService_UnknownEntry(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Get(404)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	_, err = f.service.Request(404)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestWorker_ProviderErrorFailsRecord(t *testing.T) {
	f := newFixture(t)
	entryID := f.addEntry(t, "https://example.com/a")

	_, err := f.service.Get(entryID)
	require.NoError(t, err)

	f.drain(f.worker(providerFunc(func(ctx context.Context, req Request) (string, error) {
		return "", errors.New("article is paywalled")
	}), 3))

	result, err := f.service.Get(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusFailed, result.Status)
	assert.Equal(t, "article is paywalled", result.Error)

	_, cached := f.cache.Get(entryID)
	assert.False(t, cached)
}

func TestWorker_TransientErrorsRetryUntilMaxAttempts(t *testing.T) {
	f := newFixture(t)
	entryID := f.addEntry(t, "https://example.com/a")
	w := f.worker(providerFunc(func(ctx context.Context, req Request) (string, error) {
		return "", Transient(errors.New("provider unavailable"))
	}), 2)

	_, err := f.service.Get(entryID)
	require.NoError(t, err)
	f.drain(w)

	record, err := f.summaries.GetSummary(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusPending, record.Status)
	assert.Equal(t, 1, record.Attempts)

	queued, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	f.drain(w)

	record, err = f.summaries.GetSummary(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusFailed, record.Status)
	assert.Equal(t, "provider unavailable", record.ErrorMessage)
}

func TestWorker_ProviderTimeoutIsTransient(t *testing.T) {
	f := newFixture(t)
	entryID := f.addEntry(t, "https://example.com/a")
	w := NewWorker(f.entries, f.summaries, providerFunc(func(ctx context.Context, req Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), f.cache, f.queue, WorkerOptions{Timeout: 10 * time.Millisecond, Lease: time.Minute, MaxAttempts: 3})

	_, err := f.service.Get(entryID)
	require.NoError(t, err)
	f.drain(w)

	record, err := f.summaries.GetSummary(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusPending, record.Status)
	assert.Nil(t, record.LeaseExpiresAt)
}

func TestWorker_ExpiredLeaseIsReclaimedOncePerSweep(t *testing.T) {
	f := newFixture(t)
	entryID := f.addEntry(t, "https://example.com/a")

	past := time.Now().Add(-time.Hour)
	_, _, err := f.summaries.UpsertPending(entryID, false, past)
	require.NoError(t, err)
	claimed, err := f.summaries.Claim(entryID, past, past.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	calls := 0
	w := f.worker(providerFunc(func(ctx context.Context, req Request) (string, error) {
		calls++
		return "Recovered summary.", nil
	}), 3)

	queued, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	queued, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued, "a queued key is not offered twice")

	f.drain(w)
	assert.Equal(t, 1, calls)

	record, err := f.summaries.GetSummary(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusCompleted, record.Status)
}

func TestWorker_PanicLeavesRecordForLeaseReclaim(t *testing.T) {
	f := newFixture(t)
	entryID := f.addEntry(t, "https://example.com/a")

	_, err := f.service.Get(entryID)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		f.drain(f.worker(providerFunc(func(ctx context.Context, req Request) (string, error) {
			panic("provider bug")
		}), 3))
	})

	record, err := f.summaries.GetSummary(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusProcessing, record.Status)
	require.NotNil(t, record.LeaseExpiresAt)
	assert.Zero(t, f.queue.Len())
}

func TestService_RequestResetsTerminalRecord(t *testing.T) {
	f := newFixture(t)
	entryID := f.addEntry(t, "https://example.com/a")

	_, err := f.service.Get(entryID)
	require.NoError(t, err)
	f.drain(f.worker(providerFunc(func(ctx context.Context, req Request) (string, error) {
		return "First summary.", nil
	}), 3))

	text, ok := f.cache.Get(entryID)
	require.True(t, ok)
	assert.Equal(t, "First summary.", text)

	result, err := f.service.Request(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusPending, result.Status)
	_, ok = f.cache.Get(entryID)
	assert.False(t, ok)

	again, err := f.service.Request(entryID)
	require.NoError(t, err)
	assert.Equal(t, database.SummaryStatusPending, again.Status, "a pending record is attached to, not reset")

	f.drain(f.worker(providerFunc(func(ctx context.Context, req Request) (string, error) {
		return "Second summary.", nil
	}), 3))

	result, err = f.service.Get(entryID)
	require.NoError(t, err)
	assert.Equal(t, "Second summary.", result.Text)
}

func TestService_WarmCache(t *testing.T) {
	f := newFixture(t)
	entryID := f.addEntry(t, "https://example.com/a")

	now := time.Now()
	_, _, err := f.summaries.UpsertPending(entryID, false, now)
	require.NoError(t, err)
	_, err = f.summaries.Claim(entryID, now, now.Add(time.Minute))
	require.NoError(t, err)
	_, err = f.summaries.Complete(entryID, "Stored summary.", now)
	require.NoError(t, err)

	loaded, err := f.service.WarmCache(100)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	text, ok := f.cache.Get(entryID)
	assert.True(t, ok)
	assert.Equal(t, "Stored summary.", text)
}

func TestCleanup_Run(t *testing.T) {
	f := newFixture(t)
	failedID := f.addEntry(t, "https://example.com/failed")
	orphanID := f.addEntry(t, "https://example.com/orphan")

	now := time.Now()
	for _, id := range []int64{failedID, orphanID} {
		_, _, err := f.summaries.UpsertPending(id, false, now)
		require.NoError(t, err)
		_, err = f.summaries.Claim(id, now, now.Add(time.Minute))
		require.NoError(t, err)
	}
	_, err := f.summaries.Fail(failedID, "boom", now)
	require.NoError(t, err)
	_, err = f.summaries.Complete(orphanID, "Orphan summary.", now)
	require.NoError(t, err)
	f.cache.Set(orphanID, "Orphan summary.")

	_, err = f.db.Exec(`DELETE FROM entries WHERE id = ?`, orphanID)
	require.NoError(t, err)

	cleanup := NewCleanup(f.summaries, f.cache, 72*time.Hour)

	result, err := cleanup.Run()
	require.NoError(t, err)
	assert.Zero(t, result.FailedDeleted, "failed record is still within retention")
	assert.Equal(t, 1, result.OrphansDeleted)
	_, ok := f.cache.Get(orphanID)
	assert.False(t, ok)

	cleanup.now = func() time.Time { return now.Add(73 * time.Hour) }
	result, err = cleanup.Run()
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.FailedDeleted)

	record, err := f.summaries.GetSummary(failedID)
	require.NoError(t, err)
	assert.Nil(t, record)
}
