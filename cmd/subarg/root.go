package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/subarg/internal/config"
	"github.com/subarg/internal/utils"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "subarg",
	Short: "SubARG subdomain enumeration orchestrator",
	Long: `SubARG runs the subdomain discovery tools installed on this host, filters
noise out of their output, resolves and probes what is left and writes a report.

Examples:
  subarg serve
  subarg scan -d example.com -f json
  subarg tools
  subarg history --scan <id> --new`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if logLevel != "" {
			loaded.App.LogLevel = logLevel
		}

		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		if err := utils.ConfigureLogging(loaded.App); err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}

		cfg = loaded
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides LOG_LEVEL")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newToolsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newHealthCmd())
}
