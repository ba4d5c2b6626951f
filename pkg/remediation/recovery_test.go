// pkg/remediation/recovery_test.go
package remediation

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

var entryRowColumns = []string{
	"entry_id", "table_name", "violation_count", "category", "source_table",
	"detected_at", "status", "episode_id", "processed_at", "error_message",
	"retry_count", "script_name", "notes", "created_at", "updated_at", "updated_by",
}

func stuckRow(id int64, episodeID, errorMessage driver.Value, updatedAt time.Time) []driver.Value {
	return []driver.Value{
		id, "CASE_FACT", int64(3), "CASE", "PURGE_CASE_DEF",
		updatedAt.Add(-time.Hour), "PROCESSING", episodeID, nil, errorMessage,
		0, nil, nil, updatedAt.Add(-time.Hour), updatedAt, "old-run",
	}
}

// argContains matches any string argument containing the substring.
type argContains string

func (a argContains) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && strings.Contains(s, string(a))
}

func TestRecoveryResetsStuckEntries(t *testing.T) {
	auditDB, queueMock, err := sqlmock.New()
	require.NoError(t, err)
	defer auditDB.Close()

	logger := zap.NewNop()
	queue := NewQueueStore(auditDB, 24*time.Hour, "test-run", logger)
	tablespace := &scriptedTablespace{statuses: []EpisodeStatus{EpisodeOpen}}
	recovery := NewRecovery(queue, tablespace, logger)

	stale := time.Now().Add(-6 * time.Hour)
	queueMock.ExpectQuery("FROM purge_fix_queue").
		WillReturnRows(sqlmock.NewRows(entryRowColumns).
			AddRow(stuckRow(42, "ep-1", "purge: connection lost", stale)...))

	queueMock.ExpectExec("UPDATE purge_fix_queue").
		WithArgs("PENDING", sqlmock.AnyArg(), "test-run", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The note keeps the error the stuck entry was carrying; the status
	// update above replaced error_message with the staleness text.
	queueMock.ExpectExec("SET notes").
		WithArgs(argContains("prior error: purge: connection lost"), "test-run", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reset, entries, err := recovery.Reset(context.Background(), 4*time.Hour, model.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)
	require.Len(t, entries, 1)
	assert.Equal(t, "CASE_FACT", entries[0].TableName)
	require.NoError(t, queueMock.ExpectationsWereMet())
}

// The sweep only parks entries somewhere retryable or reviewable.
func TestRecoveryRejectsTerminalTargets(t *testing.T) {
	recovery := NewRecovery(nil, nil, zap.NewNop())

	_, _, err := recovery.Reset(context.Background(), time.Hour, model.QueueCompleted)
	require.Error(t, err)

	_, _, err = recovery.Reset(context.Background(), time.Hour, model.QueueProcessing)
	require.Error(t, err)
}

// A second sweep right after the first finds nothing in Processing and
// resets nothing.
func TestRecoveryIdempotent(t *testing.T) {
	auditDB, queueMock, err := sqlmock.New()
	require.NoError(t, err)
	defer auditDB.Close()

	queue := NewQueueStore(auditDB, 24*time.Hour, "test-run", zap.NewNop())
	recovery := NewRecovery(queue, &scriptedTablespace{statuses: []EpisodeStatus{EpisodeClosed}}, zap.NewNop())

	queueMock.ExpectQuery("FROM purge_fix_queue").
		WillReturnRows(sqlmock.NewRows(entryRowColumns))

	reset, entries, err := recovery.Reset(context.Background(), 4*time.Hour, model.QueuePending)
	require.NoError(t, err)
	assert.Zero(t, reset)
	assert.Empty(t, entries)
	require.NoError(t, queueMock.ExpectationsWereMet())
}
