// pkg/remediation/orchestrator.go
package remediation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

// Options controls one remediation pass.
type Options struct {
	// AutoFix runs the fix workflow; without it, the pass only detects
	// and reports.
	AutoFix bool

	// AutoTablespace marks the deployment's approvals as automatic, so
	// the long approval poll is skipped.
	AutoTablespace bool

	// Rescan re-runs violation detection before working the queue.
	Rescan bool

	// DryRun reports what would be fixed and marks entries Skipped.
	DryRun bool

	// StuckAfter bounds the recovery sweep at the start of the pass.
	StuckAfter time.Duration
}

// Summary reports one remediation pass.
type Summary struct {
	Recovered       int
	RecoveredTables []string
	Scanned         int
	Queued          int
	Fixed           int
	Failed          int
	Skipped         int
	StartTime       time.Time
	Duration        time.Duration
}

// Orchestrator drives a remediation pass end to end: recover stuck
// entries, optionally rescan, then work the pending queue in dependency
// order. One failed entry never stops the pass.
type Orchestrator struct {
	queue      *QueueStore
	checker    *PurgeChecker
	remediator *SingleTableRemediator
	recovery   *StuckEntryRecovery
	registry   *config.Registry
	owner      string
	logger     *zap.Logger
}

// NewOrchestrator wires a remediation pass.
func NewOrchestrator(
	queue *QueueStore,
	checker *PurgeChecker,
	remediator *SingleTableRemediator,
	recovery *StuckEntryRecovery,
	registry *config.Registry,
	owner string,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		queue:      queue,
		checker:    checker,
		remediator: remediator,
		recovery:   recovery,
		registry:   registry,
		owner:      owner,
		logger:     logger,
	}
}

// Run executes one pass.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Summary, error) {
	summary := &Summary{StartTime: time.Now()}
	o.remediator.WithAutoTablespace(opts.AutoTablespace)

	recovered, recoveredEntries, err := o.recovery.Reset(ctx, opts.StuckAfter, model.QueuePending)
	if err != nil {
		// A broken recovery sweep poisons the whole pass: stuck entries
		// would be claimed again and wedge twice.
		return nil, err
	}
	summary.Recovered = recovered
	for i := range recoveredEntries {
		summary.RecoveredTables = append(summary.RecoveredTables, recoveredEntries[i].TableName)
	}

	if opts.Rescan {
		scan, err := o.checker.ScanAll(ctx, o.owner)
		if err != nil {
			return nil, err
		}
		summary.Scanned = scan.TablesScanned
		summary.Queued = scan.NewEntries
	}

	pending, err := o.queue.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		o.logger.Info("No pending remediation entries")
		summary.Duration = time.Since(summary.StartTime)
		return summary, nil
	}

	byTable := make(map[string]*model.RemediationQueueEntry, len(pending))
	tables := make([]string, 0, len(pending))
	for i := range pending {
		byTable[pending[i].TableName] = &pending[i]
		tables = append(tables, pending[i].TableName)
	}

	for _, table := range o.registry.FixOrder(tables) {
		entry := byTable[table]
		o.workEntry(ctx, entry, opts, summary)
	}

	summary.Duration = time.Since(summary.StartTime)
	o.logger.Info("Remediation pass completed",
		zap.Int("recovered", summary.Recovered),
		zap.Int("fixed", summary.Fixed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (o *Orchestrator) workEntry(ctx context.Context, entry *model.RemediationQueueEntry, opts Options, summary *Summary) {
	if !opts.AutoFix || opts.DryRun {
		reason := "dry run"
		if !opts.AutoFix {
			reason = "auto-fix disabled"
		}
		o.logger.Info("Skipping queue entry",
			zap.Int64("entryId", entry.ID),
			zap.String("table", entry.TableName),
			zap.Int64("violationCount", entry.ViolationCount),
			zap.String("reason", reason))
		if opts.DryRun {
			if err := o.queue.UpdateStatus(ctx, entry.ID, model.QueueSkipped, &reason); err != nil {
				o.logger.Error("Failed to mark entry skipped",
					zap.Int64("entryId", entry.ID),
					zap.Error(err))
			}
		}
		summary.Skipped++
		return
	}

	claimed, err := o.queue.Claim(ctx, entry.ID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			// Another run claimed it between listing and here.
			o.logger.Info("Queue entry already claimed",
				zap.Int64("entryId", entry.ID))
			summary.Skipped++
			return
		}
		o.logger.Error("Failed to claim queue entry",
			zap.Int64("entryId", entry.ID),
			zap.Error(err))
		summary.Failed++
		return
	}

	if err := o.remediator.Fix(ctx, claimed); err != nil {
		summary.Failed++
		o.logger.Error("Remediation failed for entry",
			zap.Int64("entryId", claimed.ID),
			zap.String("table", claimed.TableName),
			zap.Error(err))
		return
	}
	summary.Fixed++
}
