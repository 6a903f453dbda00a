package summary

import (
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-reader/app/database"
)

type CleanupResult struct {
	FailedDeleted  int64
	OrphansDeleted int
	CacheEvicted   int
}

// Cleanup reaps failed records past retention and completed records whose
// entry no longer exists.
type Cleanup struct {
	summaries database.SummaryRepository
	cache     *Cache
	retention time.Duration
	now       func() time.Time
}

func NewCleanup(summaries database.SummaryRepository, cache *Cache, retention time.Duration) *Cleanup {
	return &Cleanup{
		summaries: summaries,
		cache:     cache,
		retention: retention,
		now:       time.Now,
	}
}

func (c *Cleanup) Run() (CleanupResult, error) {
	var result CleanupResult

	failed, err := c.summaries.DeleteFailedBefore(c.now().Add(-c.retention))
	if err != nil {
		return result, err
	}
	result.FailedDeleted = failed

	orphans, err := c.summaries.DeleteOrphanedCompleted()
	if err != nil {
		return result, err
	}
	result.OrphansDeleted = len(orphans)

	c.cache.Delete(orphans...)
	result.CacheEvicted = c.cache.Prune()

	if result.FailedDeleted > 0 || result.OrphansDeleted > 0 {
		slog.Info("Summary cleanup removed records",
			"failed", result.FailedDeleted,
			"orphaned", result.OrphansDeleted)
	}

	return result, nil
}
