package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/subarg/internal/jobs"
	"github.com/subarg/internal/metrics"
	"github.com/subarg/internal/report"
	"github.com/subarg/internal/scan"
	"github.com/subarg/internal/server"
)

const metricsInterval = 15 * time.Second

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and web interface",
		Long: `Run the HTTP API with its event stream. When CRON_SCHEDULE is set the
SCHEDULED_TARGETS are also scanned on that schedule (six fields, seconds first).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address, overrides SERVER_ADDR")
	return cmd
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.WithField("environment", cfg.App.Environment).Info("Starting SubARG server")

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	go m.StartMetricsCollection(ctx, metricsInterval)

	registry := detectTools()

	scanner, cleanup, err := scan.Build(cfg, registry, m)
	if err != nil {
		return fmt.Errorf("failed to build scanner: %w", err)
	}
	defer cleanup()

	writer, err := report.NewWriter(cfg.Scan.ResultsDir)
	if err != nil {
		return err
	}

	repo, closeDB, err := openRepository(ctx, m)
	if err != nil {
		return err
	}
	defer closeDB()

	managerCfg := jobs.ManagerConfig{
		Runner:        scanner,
		Metrics:       m,
		DefaultFormat: cfg.Scan.DefaultFormat,
	}
	var healthCheck func(context.Context) error
	if repo != nil {
		managerCfg.Recorder = jobs.NewHistoryRecorder(repo)
		healthCheck = repo.Ping
	}

	manager := jobs.NewManager(managerCfg)
	defer manager.Close()

	if cfg.Scan.CronSchedule != "" {
		scheduler, err := startScheduler(manager, cfg.Scan.CronSchedule, cfg.Scan.ScheduledTargets)
		if err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	srv := server.New(server.Dependencies{
		Config:      cfg.Server,
		Manager:     manager,
		Writer:      writer,
		Tools:       registry,
		Metrics:     m,
		HealthCheck: healthCheck,
	})

	err = srv.ListenAndServe(ctx)
	logrus.Info("SubARG server stopped")
	return err
}

// startScheduler submits a scan of every scheduled target on each cron tick
func startScheduler(manager *jobs.Manager, schedule string, targets []string) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())

	entryID, err := c.AddFunc(schedule, func() {
		logrus.WithField("targets", targets).Info("Starting scheduled scans")

		submitted, err := manager.Submit(jobs.ScanRequest{TargetList: targets})
		if err != nil {
			logrus.WithError(err).Error("Scheduled scan failed to start")
			return
		}

		for _, job := range submitted {
			logrus.WithFields(logrus.Fields{
				"scan_id": job.ID,
				"target":  job.Target,
			}).Info("Scheduled scan started")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule scans: %w", err)
	}

	logrus.Infof("Scheduled scan job with ID %d using schedule: %s", entryID, schedule)

	c.Start()
	return c, nil
}
