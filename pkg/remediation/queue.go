// pkg/remediation/queue.go
package remediation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// ErrEntryNotFound indicates a queue entry id no longer resolves.
var ErrEntryNotFound = errors.New("queue entry not found")

const entryColumns = `
	entry_id, table_name, violation_count, category, source_table,
	detected_at, status, episode_id, processed_at, error_message,
	retry_count, script_name, notes, created_at, updated_at, updated_by`

// QueueStore persists the purge-fix queue in the audit store. Insert
// deduplicates against recent open entries for the same table and
// category; everything else is straightforward row manipulation.
type QueueStore struct {
	db         *sqlx.DB
	logger     *zap.Logger
	dedupEvery time.Duration
	updatedBy  string
}

// NewQueueStore wraps an audit store connection. dedupWindow bounds how
// far back Insert looks for an open duplicate.
func NewQueueStore(db *sql.DB, dedupWindow time.Duration, updatedBy string, logger *zap.Logger) *QueueStore {
	return &QueueStore{
		db:         sqlx.NewDb(db, "postgres"),
		logger:     logger,
		dedupEvery: dedupWindow,
		updatedBy:  updatedBy,
	}
}

// Insert records a detected violation. When an open (Pending or
// Processing) entry for the same table and category exists inside the
// dedup window, no second row goes in: a Pending entry gets its
// violation count and detection time refreshed, a Processing entry is
// left entirely alone because a fix is mid-flight and will re-detect on
// its own. The select-or-insert runs in one transaction so concurrent
// detectors cannot double-insert.
func (q *QueueStore) Insert(ctx context.Context, entry *model.RemediationQueueEntry) (int64, bool, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin queue transaction: %w", err)
	}
	defer tx.Rollback()

	var existing struct {
		ID     int64             `db:"entry_id"`
		Status model.QueueStatus `db:"status"`
	}
	err = tx.GetContext(ctx, &existing, `
		SELECT entry_id, status FROM purge_fix_queue
		WHERE UPPER(table_name) = UPPER($1)
		  AND category = $2
		  AND status IN ('PENDING', 'PROCESSING')
		  AND detected_at > $3
		ORDER BY entry_id
		LIMIT 1
		FOR UPDATE`,
		entry.TableName, entry.Category, time.Now().Add(-q.dedupEvery))

	switch {
	case err == nil:
		if existing.Status == model.QueueProcessing {
			q.logger.Info("Violation already being remediated, leaving entry untouched",
				zap.Int64("entryId", existing.ID),
				zap.String("table", entry.TableName),
				zap.Int64("violationCount", entry.ViolationCount))
			return existing.ID, false, nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE purge_fix_queue
			SET violation_count = $1, detected_at = $2, updated_at = NOW(), updated_by = $3
			WHERE entry_id = $4`,
			entry.ViolationCount, time.Now(), q.updatedBy, existing.ID)
		if err != nil {
			return 0, false, fmt.Errorf("failed to refresh queue entry %d: %w", existing.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("failed to commit queue refresh: %w", err)
		}
		q.logger.Info("Refreshed existing queue entry",
			zap.Int64("entryId", existing.ID),
			zap.String("table", entry.TableName),
			zap.Int64("violationCount", entry.ViolationCount))
		return existing.ID, false, nil

	case errors.Is(err, sql.ErrNoRows):
		var newID int64
		err = tx.GetContext(ctx, &newID, `
			INSERT INTO purge_fix_queue (
				table_name, violation_count, category, source_table,
				detected_at, status, retry_count, created_at, updated_at, updated_by
			) VALUES ($1, $2, $3, $4, $5, 'PENDING', 0, NOW(), NOW(), $6)
			RETURNING entry_id`,
			entry.TableName, entry.ViolationCount, entry.Category,
			entry.SourceTable, time.Now(), q.updatedBy)
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert queue entry for %s: %w", entry.TableName, err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("failed to commit queue insert: %w", err)
		}
		q.logger.Info("Queued new purge violation",
			zap.Int64("entryId", newID),
			zap.String("table", entry.TableName),
			zap.String("category", string(entry.Category)),
			zap.Int64("violationCount", entry.ViolationCount))
		return newID, true, nil

	default:
		return 0, false, fmt.Errorf("failed to check for duplicate queue entry: %w", err)
	}
}

// Entry fetches one queue entry by id.
func (q *QueueStore) Entry(ctx context.Context, id int64) (*model.RemediationQueueEntry, error) {
	var entry model.RemediationQueueEntry
	query := fmt.Sprintf("SELECT %s FROM purge_fix_queue WHERE entry_id = $1", entryColumns)
	if err := q.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrEntryNotFound, id)
		}
		return nil, fmt.Errorf("failed to load queue entry %d: %w", id, err)
	}
	return &entry, nil
}

// Pending returns all Pending entries, oldest first.
func (q *QueueStore) Pending(ctx context.Context) ([]model.RemediationQueueEntry, error) {
	var entries []model.RemediationQueueEntry
	query := fmt.Sprintf(`
		SELECT %s FROM purge_fix_queue
		WHERE status = 'PENDING'
		ORDER BY detected_at, entry_id`, entryColumns)
	if err := q.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to load pending queue entries: %w", err)
	}
	return entries, nil
}

// Claim transitions one Pending entry to Processing. Returns
// ErrEntryNotFound when another worker got there first.
func (q *QueueStore) Claim(ctx context.Context, id int64) (*model.RemediationQueueEntry, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE purge_fix_queue
		SET status = 'PROCESSING', updated_at = NOW(), updated_by = $1
		WHERE entry_id = $2 AND status = 'PENDING'`,
		q.updatedBy, id)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to confirm claim of queue entry %d: %w", id, err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: entry %d is not pending", ErrEntryNotFound, id)
	}
	return q.Entry(ctx, id)
}

// UpdateStatus applies a status change with an optional error message.
// Terminal statuses also stamp processed_at.
func (q *QueueStore) UpdateStatus(ctx context.Context, id int64, status model.QueueStatus, errorMessage *string) error {
	var query string
	if status.Terminal() {
		query = `
			UPDATE purge_fix_queue
			SET status = $1, error_message = $2, processed_at = NOW(),
			    updated_at = NOW(), updated_by = $3
			WHERE entry_id = $4`
	} else {
		query = `
			UPDATE purge_fix_queue
			SET status = $1, error_message = $2,
			    updated_at = NOW(), updated_by = $3
			WHERE entry_id = $4`
	}

	res, err := q.db.ExecContext(ctx, query, status, errorMessage, q.updatedBy, id)
	if err != nil {
		return fmt.Errorf("failed to update queue entry %d to %s: %w", id, status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm update of queue entry %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrEntryNotFound, id)
	}

	q.logger.Info("Queue entry status updated",
		zap.Int64("entryId", id),
		zap.String("status", string(status)))
	return nil
}

// SetEpisode records the tablespace episode handling an entry.
func (q *QueueStore) SetEpisode(ctx context.Context, id int64, episodeID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE purge_fix_queue
		SET episode_id = $1, updated_at = NOW(), updated_by = $2
		WHERE entry_id = $3`,
		episodeID, q.updatedBy, id)
	if err != nil {
		return fmt.Errorf("failed to set episode on queue entry %d: %w", id, err)
	}
	return nil
}

// SetScript records the marker script associated with an entry's fix.
func (q *QueueStore) SetScript(ctx context.Context, id int64, scriptName string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE purge_fix_queue
		SET script_name = $1, updated_at = NOW(), updated_by = $2
		WHERE entry_id = $3`,
		scriptName, q.updatedBy, id)
	if err != nil {
		return fmt.Errorf("failed to set script on queue entry %d: %w", id, err)
	}
	return nil
}

// IncrementRetry bumps the retry counter.
func (q *QueueStore) IncrementRetry(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE purge_fix_queue
		SET retry_count = retry_count + 1, updated_at = NOW(), updated_by = $1
		WHERE entry_id = $2`,
		q.updatedBy, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count on queue entry %d: %w", id, err)
	}
	return nil
}

// AppendNote adds a timestamped line to the entry's notes.
func (q *QueueStore) AppendNote(ctx context.Context, id int64, note string) error {
	stamped := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05"), note)
	_, err := q.db.ExecContext(ctx, `
		UPDATE purge_fix_queue
		SET notes = CASE WHEN notes IS NULL OR notes = '' THEN $1
		                 ELSE notes || E'\n' || $1 END,
		    updated_at = NOW(), updated_by = $2
		WHERE entry_id = $3`,
		stamped, q.updatedBy, id)
	if err != nil {
		return fmt.Errorf("failed to append note to queue entry %d: %w", id, err)
	}
	return nil
}

// StuckProcessing returns Processing entries untouched for longer than
// the given duration.
func (q *QueueStore) StuckProcessing(ctx context.Context, olderThan time.Duration) ([]model.RemediationQueueEntry, error) {
	var entries []model.RemediationQueueEntry
	query := fmt.Sprintf(`
		SELECT %s FROM purge_fix_queue
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at, entry_id`, entryColumns)
	if err := q.db.SelectContext(ctx, &entries, query, time.Now().Add(-olderThan)); err != nil {
		return nil, fmt.Errorf("failed to load stuck queue entries: %w", err)
	}
	return entries, nil
}

// PruneOlderThan removes terminal entries older than the cutoff and
// returns how many were removed.
func (q *QueueStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM purge_fix_queue
		WHERE status IN ('COMPLETED', 'FAILED', 'SKIPPED', 'MANUAL')
		  AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune queue entries: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned queue entries: %w", err)
	}
	if pruned > 0 {
		q.logger.Info("Pruned terminal queue entries",
			zap.Int64("pruned", pruned),
			zap.Time("cutoff", cutoff))
	}
	return pruned, nil
}
