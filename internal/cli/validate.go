// internal/cli/validate.go
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/catalog"
	"github.com/dataforgetx/ds-portfolio/pkg/config"
	"github.com/dataforgetx/ds-portfolio/pkg/connector"
	"github.com/dataforgetx/ds-portfolio/pkg/period"
	"github.com/dataforgetx/ds-portfolio/pkg/report"
	"github.com/dataforgetx/ds-portfolio/pkg/validation"
)

func newValidateCmd() *cobra.Command {
	var (
		table       string
		startPeriod int
		endPeriod   int
		sendReport  bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the configured validation checks",
		Long: `Run every active validation config entry, or only the entries for one
table with --table. The window defaults to the current reporting window;
--start and --end override it with explicit period ids.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (startPeriod == 0) != (endPeriod == 0) {
				return fmt.Errorf("--start and --end must be given together")
			}
			if startPeriod != 0 && startPeriod > endPeriod {
				return fmt.Errorf("--start %d is after --end %d", startPeriod, endPeriod)
			}

			cfg, logger, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			engine, store, cleanup, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := validation.RunOptions{GenerateReport: sendReport}
			if startPeriod != 0 {
				opts.Window = &period.Window{Start: startPeriod, End: endPeriod}
			}

			var summary *validation.RunSummary
			if table != "" {
				summary, err = engine.RunTable(ctx, table, opts)
			} else {
				summary, err = engine.RunAll(ctx, opts)
			}
			if err != nil {
				return err
			}

			if summary.GenerateReport {
				reporter := report.NewReporter(store, &report.LogDispatcher{Logger: logger}, logger)
				if err := reporter.DispatchValidation(ctx, summary); err != nil {
					logger.Error("Failed to dispatch validation report", zap.Error(err))
				}
			}

			if len(summary.Failed) > 0 {
				return fmt.Errorf("%d of %d config entries failed", len(summary.Failed), summary.Entries)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "validate only this table")
	cmd.Flags().IntVar(&startPeriod, "start", 0, "first period id of an explicit window")
	cmd.Flags().IntVar(&endPeriod, "end", 0, "last period id of an explicit window")
	cmd.Flags().BoolVar(&sendReport, "report", false, "dispatch the run report")

	return cmd
}

// buildEngine assembles the validation engine and its stores. The
// returned cleanup closes both database connections.
func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*validation.Engine, *validation.Store, func(), error) {
	registry, err := config.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, nil, nil, err
	}

	factory := connector.NewConnectorFactory(cfg, logger)
	warehouse, auditStore, err := factory.CreateAllConnectors(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		warehouse.Close()
		auditStore.Close()
	}

	store := validation.NewStore(auditStore.DB(), logger)
	lookup := period.NewCalendarLookup(warehouse, cfg.Warehouse.QueryTimeout)
	resolver := period.NewResolver(lookup, cfg.YearEndMonth, cfg.HistoricalSuffixes, logger)
	catalogSvc := catalog.NewSQLCatalog(warehouse, logger)

	engine := validation.NewEngine(store, warehouse, resolver, catalogSvc, registry, logger).
		WithQueryTimeout(cfg.Warehouse.QueryTimeout).
		WithMaxCheckQueryBytes(cfg.MaxCheckQueryBytes)

	return engine, store, cleanup, nil
}
