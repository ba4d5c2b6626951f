// internal/cli/root.go

// Package cli wires the mdcaudit command tree. Each subcommand builds
// only the services it needs and closes its connections on exit.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dataforgetx/ds-portfolio/pkg/config"
)

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mdcaudit",
		Short: "ETL load validation and purge remediation for the MDC warehouse",
		Long: `mdcaudit audits the monthly ETL loads of the MDC warehouse schema.

The validate command runs the configured count and rule checks over the
current reporting window and records classified results. The remediate
command detects purge retention violations and works the fix queue.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newValidateCmd())
	root.AddCommand(newRemediateCmd())
	root.AddCommand(newRecoverCmd())
	root.AddCommand(newQueueCmd())

	return root
}

// loadEnvironment loads .env (when present), the application config and
// the logger. Shared by every subcommand's RunE.
func loadEnvironment() (*config.Config, *zap.Logger, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := buildLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("yearEndMonth", cfg.YearEndMonth.String()))
	return cfg, logger, nil
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	return zapCfg.Build()
}
