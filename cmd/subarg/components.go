package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/database"
	"github.com/subarg/internal/metrics"
	"github.com/subarg/internal/tools"
)

// detectTools builds the tool registry and probes the host once
func detectTools() *tools.Registry {
	registry := tools.NewRegistry(cfg.Scan.ToolSearchPaths)
	installed := registry.Detect()

	var found []string
	for _, name := range tools.KnownTools {
		if installed[name] {
			found = append(found, name)
		}
	}
	logrus.WithField("tools", found).Info("Detected installed tools")

	return registry
}

// openRepository connects to the history database. It returns a nil
// repository when history is disabled.
func openRepository(ctx context.Context, m *metrics.Metrics) (*database.Repository, func(), error) {
	if !cfg.Database.Enabled {
		logrus.Debug("Scan history disabled")
		return nil, func() {}, nil
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	repo := database.NewRepository(db, m)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}
	return repo, closeDB, nil
}

// requireRepository is openRepository for commands that cannot run without history
func requireRepository(ctx context.Context) (*database.Repository, func(), error) {
	if !cfg.Database.Enabled {
		return nil, nil, fmt.Errorf("scan history is disabled, set DB_ENABLED=true")
	}
	return openRepository(ctx, nil)
}
