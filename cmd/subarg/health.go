package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/subarg/internal/tools"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check configuration, tools, results directory and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logrus.Info("Performing health checks...")

			registry := tools.NewRegistry(cfg.Scan.ToolSearchPaths)
			registry.Detect()
			if len(registry.EnumerationTools()) == 0 {
				logrus.Warn("No enumeration tools installed, scans will rely on passive sources only")
			}

			if err := os.MkdirAll(cfg.Scan.ResultsDir, 0o755); err != nil {
				return fmt.Errorf("results directory check failed: %w", err)
			}

			if cfg.Database.Enabled {
				repo, closeDB, err := openRepository(ctx, nil)
				if err != nil {
					return fmt.Errorf("database health check failed: %w", err)
				}
				defer closeDB()

				if err := repo.Ping(ctx); err != nil {
					return fmt.Errorf("database health check failed: %w", err)
				}
			}

			logrus.Info("All health checks passed")
			return nil
		},
	}
}
