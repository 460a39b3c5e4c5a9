package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/subarg/internal/database"
)

const timeLayout = "2006-01-02 15:04:05"

func newHistoryCmd() *cobra.Command {
	var (
		limit   int
		target  string
		scanID  string
		newOnly bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded scans (requires DB_ENABLED=true)",
		Long: `Show recorded scans, or the subdomains of one scan.

Examples:
  subarg history
  subarg history -t example.com
  subarg history --scan <id> --new`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			repo, closeDB, err := requireRepository(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			if scanID != "" {
				return showScan(ctx, repo, scanID, newOnly)
			}
			return listScans(ctx, repo, target, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of scans to list")
	cmd.Flags().StringVarP(&target, "target", "t", "", "only list scans of this target")
	cmd.Flags().StringVar(&scanID, "scan", "", "show the subdomains of one scan")
	cmd.Flags().BoolVar(&newOnly, "new", false, "with --scan, show only subdomains no earlier scan of the target found")

	return cmd
}

func listScans(ctx context.Context, repo *database.Repository, target string, limit int) error {
	var (
		scans []*database.Scan
		err   error
	)
	if target != "" {
		scans, err = repo.GetScansByTarget(ctx, target, limit)
	} else {
		scans, err = repo.GetRecentScans(ctx, limit)
	}
	if err != nil {
		return fmt.Errorf("failed to get scans: %w", err)
	}

	fmt.Printf("\n%s\n", bold("=== Scan History ==="))
	if len(scans) == 0 {
		fmt.Println("No scans recorded")
		return nil
	}

	for _, s := range scans {
		status := green(s.Status)
		if s.Status == database.ScanStatusFailed {
			status = red(s.Status)
		} else if s.Status == database.ScanStatusRunning {
			status = yellow(s.Status)
		}

		fmt.Printf("  - %s  %s  %-30s %s  subdomains=%d resolved=%d live=%d\n",
			s.StartedAt.Format(timeLayout), s.ID, cyan(s.Target), status,
			s.TotalSubdomains, s.ResolvedCount, s.LiveCount)
		if s.Error != "" {
			fmt.Printf("      error: %s\n", s.Error)
		}
	}
	return nil
}

func showScan(ctx context.Context, repo *database.Repository, scanID string, newOnly bool) error {
	s, err := repo.GetScanByID(ctx, scanID)
	if err != nil {
		return fmt.Errorf("failed to get scan: %w", err)
	}
	if s == nil {
		return database.ErrScanNotFound
	}

	fmt.Printf("\n%s %s (%s)\n", bold("Scan"), s.ID, cyan(s.Target))
	fmt.Printf("Status:   %s\n", s.Status)
	fmt.Printf("Started:  %s\n", s.StartedAt.Format(timeLayout))
	if s.CompletedAt != nil {
		fmt.Printf("Duration: %s\n", s.CompletedAt.Sub(s.StartedAt).Round(time.Second))
	}
	if s.OutputFile != "" {
		fmt.Printf("Report:   %s\n", s.OutputFile)
	}
	fmt.Println()

	if newOnly {
		names, err := repo.GetNewSubdomains(ctx, scanID)
		if err != nil {
			return fmt.Errorf("failed to get new subdomains: %w", err)
		}
		fmt.Printf("%s\n", bold(fmt.Sprintf("New subdomains: %d", len(names))))
		for _, name := range names {
			fmt.Printf("  %s %s\n", green("[new]"), name)
		}
		return nil
	}

	subdomains, err := repo.GetSubdomainsByScanID(ctx, scanID)
	if err != nil {
		return fmt.Errorf("failed to get subdomains: %w", err)
	}
	fmt.Printf("%s\n", bold(fmt.Sprintf("Subdomains: %d", len(subdomains))))
	for _, sub := range subdomains {
		flags := ""
		if sub.Resolved {
			flags += " resolved"
		}
		if sub.Live {
			flags += " " + green("live")
		}
		fmt.Printf("  %s %s%s\n", sub.Name, color.HiBlackString("(%s)", sub.Tool), flags)
	}
	return nil
}
