// internal/cli/remediate.go
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/connector"
	"github.com/dataforgetx/ds-portfolio/pkg/remediation"
	"github.com/dataforgetx/ds-portfolio/pkg/report"
)

func newRemediateCmd() *cobra.Command {
	var (
		autoFix        bool
		autoTablespace bool
		rescan         bool
		dryRun         bool
		pollInterval   time.Duration
		maxWait        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Detect and fix purge retention violations",
		Long: `Run one remediation pass: recover stuck queue entries, optionally
rescan the registered purge pairs for new violations, then work the
pending queue in prerequisite order. Without --auto-fix the pass only
reports what it would do.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if pollInterval > 0 {
				cfg.PollInterval = pollInterval
			}
			if maxWait > 0 {
				cfg.MaxWait = maxWait
			}

			ctx := cmd.Context()
			wiring, cleanup, err := buildRemediation(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := wiring.orchestrator.Run(ctx, remediation.Options{
				AutoFix:        autoFix,
				AutoTablespace: autoTablespace,
				Rescan:         rescan,
				DryRun:         dryRun,
				StuckAfter:     cfg.StuckAfter,
			})
			if err != nil {
				return err
			}

			reporter := report.NewReporter(nil, &report.LogDispatcher{Logger: logger}, logger)
			if err := reporter.DispatchRemediation(ctx, summary); err != nil {
				logger.Error("Failed to dispatch remediation report", zap.Error(err))
			}

			if summary.Failed > 0 {
				return fmt.Errorf("%d entries failed remediation", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoFix, "auto-fix", false, "run the fix workflow on pending entries")
	cmd.Flags().BoolVar(&autoTablespace, "auto-tablespace", false, "skip the approval poll (auto-approving deployments)")
	cmd.Flags().BoolVar(&rescan, "rescan", false, "rescan the purge pairs before working the queue")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "mark pending entries skipped instead of fixing")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "override the approval poll interval")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "override the approval wait budget")

	return cmd
}

type remediationWiring struct {
	queue        *remediation.QueueStore
	orchestrator *remediation.Orchestrator
	recovery     *remediation.StuckEntryRecovery
}

// buildRemediation assembles the remediation services. The returned
// cleanup closes both database connections.
func buildRemediation(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*remediationWiring, func(), error) {
	registry, err := config.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, nil, err
	}

	if cfg.ScriptDir != "" {
		if err := os.MkdirAll(cfg.ScriptDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create script directory %s: %w", cfg.ScriptDir, err)
		}
	}

	factory := connector.NewConnectorFactory(cfg, logger)
	warehouse, auditStore, err := factory.CreateAllConnectors(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		warehouse.Close()
		auditStore.Close()
	}

	updatedBy := "mdcaudit/" + cfg.Environment
	owner := cfg.Warehouse.Schema

	queue := remediation.NewQueueStore(auditStore.DB(), cfg.DedupWindow, updatedBy, logger)
	checker := remediation.NewPurgeChecker(warehouse, queue, registry, logger)
	tablespace := remediation.NewTablespaceService(warehouse, updatedBy, logger)
	purger := remediation.NewProcedurePurger(warehouse, logger)
	poller := remediation.NewApprovalPoller(tablespace, cfg.PollInterval, cfg.MaxWait, logger)
	remediator := remediation.NewRemediator(
		queue, checker, tablespace, purger, poller, registry, owner, cfg.ScriptDir, logger)
	recovery := remediation.NewRecovery(queue, tablespace, logger)
	orchestrator := remediation.NewOrchestrator(
		queue, checker, remediator, recovery, registry, owner, logger)

	return &remediationWiring{
		queue:        queue,
		orchestrator: orchestrator,
		recovery:     recovery,
	}, cleanup, nil
}
