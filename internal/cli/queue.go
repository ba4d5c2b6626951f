// internal/cli/queue.go
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the purge-fix queue",
	}
	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueuePruneCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			pending, err := wiring.queue.Pending(ctx)
			if err != nil {
				return err
			}

			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending entries")
				return nil
			}
			for _, entry := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%d violations\tdetected %s\n",
					entry.ID, entry.TableName, entry.Category,
					entry.ViolationCount, entry.DetectedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newQueuePruneCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete terminal queue entries older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
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

			cutoff := time.Now().AddDate(0, 0, -days)
			pruned, err := wiring.queue.PruneOlderThan(ctx, cutoff)
			if err != nil {
				return err
			}

			logger.Info("Queue prune finished",
				zap.Int64("entriesPruned", pruned),
				zap.Time("cutoff", cutoff))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 90, "age threshold in days")
	return cmd
}
