package summary

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-reader/app/database"
)

// Result is the view of a summary returned to readers.
type Result struct {
	EntryID   int64                  `json:"entry_id"`
	Status    database.SummaryStatus `json:"status"`
	Text      string                 `json:"summary,omitempty"`
	Error     string                 `json:"error,omitempty"`
	UpdatedAt *time.Time             `json:"updated_at,omitempty"`
}

// Service is the request path of the summarization subsystem. It never calls
// the provider; work is handed to the Worker through the queue.
type Service struct {
	entries   database.EntryRepository
	summaries database.SummaryRepository
	cache     *Cache
	queue     *Queue
	now       func() time.Time
}

func NewService(entries database.EntryRepository, summaries database.SummaryRepository, cache *Cache, queue *Queue) *Service {
	return &Service{
		entries:   entries,
		summaries: summaries,
		cache:     cache,
		queue:     queue,
		now:       time.Now,
	}
}

// Get returns the summary state of an entry, creating a pending record when
// none exists. Concurrent callers for the same entry share one record.
func (s *Service) Get(entryID int64) (*Result, error) {
	if text, ok := s.cache.Get(entryID); ok {
		return &Result{EntryID: entryID, Status: database.SummaryStatusCompleted, Text: text}, nil
	}

	record, err := s.summaries.GetSummary(entryID)
	if err != nil {
		return nil, err
	}

	if record == nil {
		if err := s.ensureEntry(entryID); err != nil {
			return nil, err
		}
		record, _, err = s.summaries.UpsertPending(entryID, false, s.now())
		if err != nil {
			return nil, err
		}
		slog.Debug("Summary requested", "entry_id", entryID, "status", record.Status)
	}

	return s.resolve(record), nil
}

// Request is an explicit re-request: a completed or failed record is reset to
// pending, a pending or processing one is returned as is.
func (s *Service) Request(entryID int64) (*Result, error) {
	if err := s.ensureEntry(entryID); err != nil {
		return nil, err
	}

	record, reset, err := s.summaries.UpsertPending(entryID, true, s.now())
	if err != nil {
		return nil, err
	}
	if reset {
		s.cache.Delete(entryID)
		slog.Info("Summary re-requested", "entry_id", entryID)
	}

	return s.resolve(record), nil
}

// WarmCache loads recently completed summaries into the cache.
func (s *Service) WarmCache(limit int) (int, error) {
	records, err := s.summaries.ListCompleted(limit)
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		s.cache.Set(record.EntryID, record.SummaryText)
	}
	return len(records), nil
}

func (s *Service) resolve(record *database.EntrySummary) *Result {
	switch record.Status {
	case database.SummaryStatusCompleted:
		s.cache.Set(record.EntryID, record.SummaryText)
	case database.SummaryStatusPending:
		s.queue.Enqueue(record.EntryID)
	}
	return toResult(record)
}

func (s *Service) ensureEntry(entryID int64) error {
	entry, err := s.entries.GetEntry(entryID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %d", ErrEntryNotFound, entryID)
	}
	return nil
}

func toResult(record *database.EntrySummary) *Result {
	updatedAt := record.UpdatedAt
	result := &Result{
		EntryID:   record.EntryID,
		Status:    record.Status,
		UpdatedAt: &updatedAt,
	}
	switch record.Status {
	case database.SummaryStatusCompleted:
		result.Text = record.SummaryText
	case database.SummaryStatusFailed:
		result.Error = record.ErrorMessage
	}
	return result
}
