// pkg/remediation/remediator_test.go
package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

type fakePurger struct {
	purged []string
	err    error
}

func (f *fakePurger) Purge(_ context.Context, _, destination, _ string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.purged = append(f.purged, destination)
	return 5, nil
}

type remediatorFixture struct {
	remediator    *SingleTableRemediator
	queueMock     sqlmock.Sqlmock
	warehouseMock sqlmock.Sqlmock
	tablespace    *scriptedTablespace
	purger        *fakePurger
}

func newRemediatorFixture(t *testing.T, registry *config.Registry) *remediatorFixture {
	t.Helper()

	auditDB, queueMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { auditDB.Close() })

	warehouseDB, warehouseMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { warehouseDB.Close() })

	logger := zap.NewNop()
	queue := NewQueueStore(auditDB, 24*time.Hour, "test-run", logger)
	checker := NewPurgeChecker(&stubWarehouse{db: warehouseDB}, queue, registry, logger)
	tablespace := &scriptedTablespace{
		statuses: []EpisodeStatus{EpisodeClosed},
		latest:   &Episode{ID: "ep-1", TableName: "CASE_FACT", Status: EpisodeOpen},
	}
	purger := &fakePurger{}
	poller := NewApprovalPoller(tablespace, time.Millisecond, 10*time.Millisecond, logger)

	remediator := NewRemediator(
		queue, checker, tablespace, purger, poller, registry, "MDC", "", logger).
		WithAutoTablespace(true)

	return &remediatorFixture{
		remediator:    remediator,
		queueMock:     queueMock,
		warehouseMock: warehouseMock,
		tablespace:    tablespace,
		purger:        purger,
	}
}

func caseRegistry(prerequisite string) *config.Registry {
	pairs := []config.PurgePair{{
		Definition:   "PURGE_CASE_DEF",
		Destination:  "CASE_FACT",
		Category:     model.CategoryCase,
		Prerequisite: prerequisite,
	}}
	if prerequisite != "" {
		pairs = append(pairs, config.PurgePair{
			Definition:  "PURGE_CASE_DEF",
			Destination: prerequisite,
			Category:    model.CategoryCase,
		})
	}
	return &config.Registry{PurgePairs: pairs}
}

func processingEntry() *model.RemediationQueueEntry {
	return &model.RemediationQueueEntry{
		ID:             42,
		TableName:      "CASE_FACT",
		ViolationCount: 3,
		Category:       model.CategoryCase,
		SourceTable:    "PURGE_CASE_DEF",
		Status:         model.QueueProcessing,
	}
}

func TestFixHappyPath(t *testing.T) {
	f := newRemediatorFixture(t, caseRegistry(""))

	f.queueMock.ExpectExec("SET episode_id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Post-fix verification finds nothing left.
	f.warehouseMock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(0))

	f.queueMock.ExpectExec("SET notes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("processed_at = NOW").
		WithArgs("COMPLETED", nil, "test-run", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.remediator.Fix(context.Background(), processingEntry())
	require.NoError(t, err)

	assert.Equal(t, []string{"CASE_FACT"}, f.purger.purged)
	assert.True(t, f.tablespace.openRequested)
	assert.True(t, f.tablespace.closeRequested)
	require.NoError(t, f.queueMock.ExpectationsWereMet())
	require.NoError(t, f.warehouseMock.ExpectationsWereMet())
}

func TestFixPurgesPrerequisiteFirst(t *testing.T) {
	f := newRemediatorFixture(t, caseRegistry("CASE_SUMMARY"))

	f.queueMock.ExpectExec("SET episode_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.warehouseMock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(0))
	f.queueMock.ExpectExec("SET notes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("processed_at = NOW").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.remediator.Fix(context.Background(), processingEntry())
	require.NoError(t, err)

	assert.Equal(t, []string{"CASE_SUMMARY", "CASE_FACT"}, f.purger.purged)
}

// An approval poll that runs out its wait marks the entry Failed, not
// Manual: a later pass can retry it. Only an explicit denial needs an
// operator.
func TestFixApprovalTimeoutFailsEntry(t *testing.T) {
	f := newRemediatorFixture(t, caseRegistry(""))
	f.remediator.WithAutoTablespace(false)
	f.tablespace.statuses = []EpisodeStatus{EpisodePendingApproval}

	f.queueMock.ExpectExec("SET episode_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("processed_at = NOW").
		WithArgs("FAILED", argContains("not approved within"), "test-run", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("retry_count = retry_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.remediator.Fix(context.Background(), processingEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tablespace approval")

	assert.Empty(t, f.purger.purged, "nothing may be purged without an approved episode")
	require.NoError(t, f.queueMock.ExpectationsWereMet())
}

// A denied approval still parks the entry for operator review.
func TestFixApprovalDeniedGoesManual(t *testing.T) {
	f := newRemediatorFixture(t, caseRegistry(""))
	f.remediator.WithAutoTablespace(false)
	f.tablespace.statuses = []EpisodeStatus{EpisodeDenied}

	f.queueMock.ExpectExec("SET episode_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("processed_at = NOW").
		WithArgs("MANUAL", argContains("denied"), "test-run", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.remediator.Fix(context.Background(), processingEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual intervention")
	require.NoError(t, f.queueMock.ExpectationsWereMet())
}

// A purge that ran but left violations behind marks the entry Failed
// and deliberately keeps the tablespace open for investigation.
func TestFixFailedVerificationLeavesTablespaceOpen(t *testing.T) {
	f := newRemediatorFixture(t, caseRegistry(""))

	f.queueMock.ExpectExec("SET episode_id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	f.warehouseMock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT"}).AddRow(2))

	f.queueMock.ExpectExec("processed_at = NOW").
		WithArgs("FAILED", sqlmock.AnyArg(), "test-run", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("retry_count = retry_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.remediator.Fix(context.Background(), processingEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification")
	assert.Contains(t, err.Error(), "2 violations remain")

	assert.False(t, f.tablespace.closeRequested,
		"tablespace must stay open after a failed verification")
	require.NoError(t, f.queueMock.ExpectationsWereMet())
}

// A failed purge closes the tablespace before marking the entry Failed.
func TestFixPurgeFailureClosesTablespace(t *testing.T) {
	f := newRemediatorFixture(t, caseRegistry(""))
	f.purger.err = errors.New("insufficient privileges")

	f.queueMock.ExpectExec("SET episode_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("processed_at = NOW").
		WithArgs("FAILED", sqlmock.AnyArg(), "test-run", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("retry_count = retry_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.remediator.Fix(context.Background(), processingEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge")
	assert.True(t, f.tablespace.closeRequested)
}

func TestFixUnregisteredTable(t *testing.T) {
	f := newRemediatorFixture(t, caseRegistry(""))

	f.queueMock.ExpectExec("processed_at = NOW").
		WithArgs("FAILED", sqlmock.AnyArg(), "test-run", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.queueMock.ExpectExec("retry_count = retry_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &model.RemediationQueueEntry{
		ID:        7,
		TableName: "UNKNOWN_TABLE",
		Category:  model.CategoryCase,
		Status:    model.QueueProcessing,
	}
	err := f.remediator.Fix(context.Background(), entry)
	require.Error(t, err)
	assert.False(t, f.tablespace.openRequested)
}
