package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const summaryColumns = `id, entry_id, status, summary_text, error_message, attempts,
	lease_expires_at, created_at, updated_at`

// SummaryRepo persists the summarization state machine. The unique entry_id
// column guarantees at most one record, and therefore at most one non-terminal
// record, per entry. Every transition is a single guarded UPDATE.
type SummaryRepo struct {
	db *DB
}

func NewSummaryRepository(db *DB) *SummaryRepo {
	return &SummaryRepo{db: db}
}

// GetSummary returns nil without error when no record exists.
func (r *SummaryRepo) GetSummary(entryID int64) (*EntrySummary, error) {
	var summary EntrySummary
	err := r.db.Get(&summary, `SELECT `+summaryColumns+` FROM entry_summaries WHERE entry_id = ?`, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return &summary, nil
}

func (r *SummaryRepo) ListCompleted(limit int) ([]EntrySummary, error) {
	var summaries []EntrySummary
	err := r.db.Select(&summaries, `
		SELECT `+summaryColumns+` FROM entry_summaries
		WHERE status = 'completed'
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed summaries: %w", err)
	}
	return summaries, nil
}

// ListClaimable returns pending records and processing records whose lease expired.
func (r *SummaryRepo) ListClaimable(now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.Select(&ids, `
		SELECT entry_id FROM entry_summaries
		WHERE status = 'pending'
		   OR (status = 'processing' AND lease_expires_at < ?)
		ORDER BY updated_at
		LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable summaries: %w", err)
	}
	return ids, nil
}

// UpsertPending creates a pending record for the entry. With reset, a terminal
// record is cleared back to pending; a non-terminal record is never touched.
// The boolean reports whether a record was created or reset.
func (r *SummaryRepo) UpsertPending(entryID int64, reset bool, now time.Time) (*EntrySummary, bool, error) {
	now = now.UTC()

	res, err := r.db.Exec(`
		INSERT INTO entry_summaries (entry_id, status, created_at, updated_at)
		VALUES (?, 'pending', ?, ?)
		ON CONFLICT (entry_id) DO UPDATE SET
			status = 'pending',
			summary_text = '',
			error_message = '',
			attempts = 0,
			lease_expires_at = NULL,
			updated_at = excluded.updated_at
		WHERE ? AND entry_summaries.status IN ('completed', 'failed')
	`, entryID, now, now, reset)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert pending summary: %w", err)
	}

	changed, err := affected(res)
	if err != nil {
		return nil, false, err
	}

	summary, err := r.GetSummary(entryID)
	if err != nil {
		return nil, false, err
	}
	if summary == nil {
		return nil, false, fmt.Errorf("summary for entry %d vanished after upsert", entryID)
	}

	return summary, changed, nil
}

// Claim moves a pending or lease-expired record to processing.
func (r *SummaryRepo) Claim(entryID int64, now, leaseUntil time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE entry_summaries
		SET status = 'processing', lease_expires_at = ?, updated_at = ?
		WHERE entry_id = ?
		  AND (status = 'pending' OR (status = 'processing' AND lease_expires_at < ?))
	`, leaseUntil.UTC(), now.UTC(), entryID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim summary: %w", err)
	}
	return affected(res)
}

func (r *SummaryRepo) Complete(entryID int64, text string, now time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE entry_summaries
		SET status = 'completed', summary_text = ?, error_message = '', lease_expires_at = NULL, updated_at = ?
		WHERE entry_id = ? AND status = 'processing'
	`, text, now.UTC(), entryID)
	if err != nil {
		return false, fmt.Errorf("failed to complete summary: %w", err)
	}
	return affected(res)
}

func (r *SummaryRepo) Fail(entryID int64, message string, now time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE entry_summaries
		SET status = 'failed', error_message = ?, lease_expires_at = NULL, updated_at = ?
		WHERE entry_id = ? AND status = 'processing'
	`, message, now.UTC(), entryID)
	if err != nil {
		return false, fmt.Errorf("failed to fail summary: %w", err)
	}
	return affected(res)
}

// Release returns a processing record to pending after a transient failure, or
// fails it once maxAttempts is reached. It returns the resulting status, or an
// empty status when the record was no longer processing.
func (r *SummaryRepo) Release(entryID int64, message string, maxAttempts int, now time.Time) (SummaryStatus, error) {
	var status SummaryStatus
	err := r.db.QueryRow(`
		UPDATE entry_summaries
		SET attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END,
			error_message = ?,
			lease_expires_at = NULL,
			updated_at = ?
		WHERE entry_id = ? AND status = 'processing'
		RETURNING status
	`, maxAttempts, message, now.UTC(), entryID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to release summary: %w", err)
	}
	return status, nil
}

func (r *SummaryRepo) DeleteFailedBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM entry_summaries WHERE status = 'failed' AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired failed summaries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// DeleteOrphanedCompleted removes completed summaries whose entry is gone and
// returns their entry ids.
func (r *SummaryRepo) DeleteOrphanedCompleted() ([]int64, error) {
	var ids []int64
	err := r.db.Select(&ids, `
		DELETE FROM entry_summaries
		WHERE status = 'completed'
		  AND NOT EXISTS (SELECT 1 FROM entries e WHERE e.id = entry_summaries.entry_id)
		RETURNING entry_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to delete orphaned summaries: %w", err)
	}
	return ids, nil
}
