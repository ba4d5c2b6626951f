// internal/cli/recover.go
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dataforgetx/ds-portfolio/pkg/model"
)

func newRecoverCmd() *cobra.Command {
	var (
		hours   int
		resetTo string
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reset queue entries stuck in PROCESSING",
		Long: `Reset purge-fix queue entries that have sat in PROCESSING longer than
--hours. Entries may be reset to PENDING (retry next pass), FAILED, or
MANUAL (operator review). Running the sweep again is harmless.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := model.QueueStatus(resetTo)
			if !target.ResettableTo() {
				return fmt.Errorf("cannot reset stuck entries to %q (allowed: PENDING, FAILED, MANUAL)", resetTo)
			}

			cfg, logger, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			wiring, cleanup, err := buildRemediation(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			reset, entries, err := wiring.recovery.Reset(ctx, time.Duration(hours)*time.Hour, target)
			if err != nil {
				return err
			}

			tables := make([]string, 0, len(entries))
			for i := range entries {
				tables = append(tables, entries[i].TableName)
			}
			logger.Info("Recovery sweep finished",
				zap.Int("entriesReset", reset),
				zap.Strings("tables", tables),
				zap.String("resetTo", string(target)))
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 4, "reset entries stuck longer than this many hours")
	cmd.Flags().StringVar(&resetTo, "to", string(model.QueuePending), "status to reset entries to")

	return cmd
}
