package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/database"
	"github.com/subarg/internal/probe"
	"github.com/subarg/internal/scan"
)

// HistoryStore persists scans and their subdomains
type HistoryStore interface {
	CreateScan(ctx context.Context, scan *database.Scan) error
	UpdateScan(ctx context.Context, scan *database.Scan) error
	CreateSubdomains(ctx context.Context, subdomains []*database.Subdomain) error
}

// HistoryRecorder writes job lifecycle transitions to a HistoryStore.
// Store failures are logged and never fail the scan.
type HistoryRecorder struct {
	store   HistoryStore
	timeout time.Duration
}

// NewHistoryRecorder creates a recorder backed by store
func NewHistoryRecorder(store HistoryStore) *HistoryRecorder {
	return &HistoryRecorder{store: store, timeout: 30 * time.Second}
}

// ScanStarted inserts the running scan row
func (h *HistoryRecorder) ScanStarted(ctx context.Context, job Job) {
	ctx, cancel := h.detach(ctx)
	defer cancel()

	row := &database.Scan{
		ID:           job.ID,
		Target:       job.Target,
		Status:       database.ScanStatusRunning,
		OutputFormat: job.OutputFormat,
		StartedAt:    job.StartTime,
	}
	if err := h.store.CreateScan(ctx, row); err != nil {
		logrus.WithError(err).WithField("scan_id", job.ID).Warn("Failed to record scan start")
	}
}

// ScanFinished updates the scan row and stores the subdomains of a successful scan
func (h *HistoryRecorder) ScanFinished(ctx context.Context, job Job, result *scan.Result) {
	ctx, cancel := h.detach(ctx)
	defer cancel()

	row := &database.Scan{
		ID:              job.ID,
		Target:          job.Target,
		Status:          string(job.Status),
		OutputFormat:    job.OutputFormat,
		TotalSubdomains: job.TotalSubdomains,
		Error:           job.Error,
		StartedAt:       job.StartTime,
		CompletedAt:     job.EndTime,
	}
	if job.OutputFile != nil {
		row.OutputFile = *job.OutputFile
	}
	if result != nil {
		row.ResolvedCount = len(result.Resolved)
		row.LiveCount = len(result.Live)
	}

	log := logrus.WithField("scan_id", job.ID)
	if err := h.store.UpdateScan(ctx, row); err != nil {
		log.WithError(err).Warn("Failed to record scan outcome")
		return
	}

	if result == nil {
		return
	}
	if err := h.store.CreateSubdomains(ctx, SubdomainRows(job.ID, result)); err != nil {
		log.WithError(err).Warn("Failed to record scan subdomains")
	}
}

// detach keeps scan values for logging but drops cancellation so a
// cancelled scan still gets its outcome recorded
func (h *HistoryRecorder) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
}

// SubdomainRows converts a scan result into history rows
func SubdomainRows(scanID string, result *scan.Result) []*database.Subdomain {
	resolved := make(map[string]bool, len(result.Resolved))
	for _, host := range probe.Hosts(result.Resolved) {
		resolved[host] = true
	}
	live := make(map[string]bool, len(result.Live))
	for _, l := range result.Live {
		live[l.Host] = true
	}

	rows := make([]*database.Subdomain, 0, len(result.Records))
	for _, record := range result.Records {
		rows = append(rows, &database.Subdomain{
			ScanID:   scanID,
			Name:     record.Subdomain,
			Tool:     record.Tool,
			Resolved: resolved[record.Subdomain],
			Live:     live[record.Subdomain],
		})
	}
	return rows
}
