package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/subarg/internal/config"
	"github.com/subarg/internal/jobs"
	"github.com/subarg/internal/metrics"
	"github.com/subarg/internal/report"
	"github.com/subarg/internal/scan"
	"github.com/subarg/internal/utils"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type scanFlags struct {
	domain    string
	format    string
	output    string
	noProbe   bool
	quiet     bool
	noHistory bool
}

func newScanCmd() *cobra.Command {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan in the foreground",
		Long: `Run one scan against a domain and print subdomains as they are found.

Examples:
  subarg scan -d example.com
  subarg scan -d example.com -f html -o example_report --no-probe`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.domain, "domain", "d", "", "target domain (required)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "", "report format: txt, csv, json or html (default DEFAULT_OUTPUT_FORMAT)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "report filename without extension")
	cmd.Flags().BoolVar(&flags.noProbe, "no-probe", false, "skip DNS resolution and HTTP probing")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "print only subdomains")
	cmd.Flags().BoolVar(&flags.noHistory, "no-history", false, "do not record this scan when history is enabled")
	cmd.MarkFlagRequired("domain")

	return cmd
}

func runScan(parent context.Context, flags scanFlags) error {
	format := flags.format
	if format == "" {
		format = cfg.Scan.DefaultFormat
	}
	if !config.IsValidFormat(format) {
		return jobs.ErrInvalidFormat
	}
	format = report.NormalizeFormat(format)

	target := utils.NormalizeHost(flags.domain)
	if !utils.IsValidHostname(target) {
		return fmt.Errorf("%w: %q", scan.ErrInvalidTarget, flags.domain)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	registry := detectTools()

	scanner, cleanup, err := scan.Build(cfg, registry, m)
	if err != nil {
		return fmt.Errorf("failed to build scanner: %w", err)
	}
	defer cleanup()

	var recorder *jobs.HistoryRecorder
	if !flags.noHistory {
		repo, closeDB, err := openRepository(ctx, m)
		if err != nil {
			return err
		}
		defer closeDB()
		if repo != nil {
			recorder = jobs.NewHistoryRecorder(repo)
		}
	}

	job := jobs.Job{
		ID:           uuid.New().String(),
		Target:       target,
		Status:       jobs.StatusRunning,
		OutputFormat: format,
		StartTime:    time.Now(),
	}
	if recorder != nil {
		recorder.ScanStarted(ctx, job)
	}

	if !flags.quiet {
		fmt.Printf("%s %s\n", bold("[*] Scanning"), cyan(job.Target))
	}

	hooks := scan.Hooks{
		OnProgress: func(stage string, percent int) {
			if !flags.quiet {
				fmt.Printf("%s %3d%% %s\n", yellow("[~]"), percent, stage)
			}
		},
		OnResult: func(subdomain, tool string) {
			if flags.quiet {
				fmt.Println(subdomain)
				return
			}
			fmt.Printf("%s %s %s\n", green("[+]"), subdomain, color.HiBlackString("(%s)", tool))
		},
	}

	ctx = utils.WithScanID(ctx, job.ID)
	result, err := scanner.Run(ctx, scan.Options{
		Target:    flags.domain,
		Format:    format,
		Filename:  flags.output,
		SkipProbe: flags.noProbe,
	}, hooks)

	end := time.Now()
	job.EndTime = &end
	if err != nil {
		job.Status = jobs.StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = jobs.StatusCompleted
		job.Progress = 100
		job.OutputFile = &result.OutputFile
		job.TotalSubdomains = result.Total
		job.Results = result.Records
	}
	if recorder != nil {
		recorder.ScanFinished(ctx, job, result)
	}

	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if !flags.quiet {
		printSummary(job.ID, result)
	}
	return nil
}

func printSummary(scanID string, result *scan.Result) {
	fmt.Printf("\n%s\n", bold("=== Scan Summary ==="))
	fmt.Printf("Scan ID:     %s\n", scanID)
	fmt.Printf("Target:      %s\n", cyan(result.Target))
	fmt.Printf("Subdomains:  %s\n", green(result.Total))
	fmt.Printf("Resolved:    %d\n", len(result.Resolved))
	fmt.Printf("Live:        %d\n", len(result.Live))
	if result.HttprobeUsed {
		fmt.Printf("Prober:      httprobe (fallback)\n")
	}
	fmt.Printf("Duration:    %s\n", result.Duration.Round(time.Second))
	fmt.Printf("Report:      %s\n", result.OutputFile)

	if len(result.ToolErrors) > 0 {
		fmt.Printf("\n%s\n", yellow("Tool errors:"))
		for tool, msg := range result.ToolErrors {
			fmt.Printf("  %s %s: %s\n", red("[!]"), tool, firstLine(msg))
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
