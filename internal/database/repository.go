package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/metrics"
)

// ErrScanNotFound is returned when an update matches no scan row
var ErrScanNotFound = errors.New("scan not found")

// Repository provides scan history operations
type Repository struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
}

// NewRepository creates a new repository instance. m may be nil.
func NewRepository(db *sqlx.DB, m *metrics.Metrics) *Repository {
	return &Repository{db: db, metrics: m}
}

// GetDB returns the underlying database connection
func (r *Repository) GetDB() *sqlx.DB {
	return r.db
}

func (r *Repository) observe(operation, table string, started time.Time) {
	r.metrics.RecordDatabaseOperation(operation, table, time.Since(started))
}

// Migrate creates the history tables when they do not exist
func (r *Repository) Migrate(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	logrus.Debug("Database schema is up to date")
	return nil
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Scan Operations

// CreateScan inserts a scan row. The caller supplies the ID.
func (r *Repository) CreateScan(ctx context.Context, scan *Scan) error {
	defer r.observe("insert", TableScans, time.Now())

	now := time.Now()
	scan.CreatedAt = now
	scan.UpdatedAt = now
	if scan.StartedAt.IsZero() {
		scan.StartedAt = now
	}

	query := `
		INSERT INTO scans (id, target, status, output_format, output_file, total_subdomains, resolved_count, live_count, error, started_at, completed_at, created_at, updated_at)
		VALUES (:id, :target, :status, :output_format, :output_file, :total_subdomains, :resolved_count, :live_count, :error, :started_at, :completed_at, :created_at, :updated_at)
	`

	_, err := r.db.NamedExecContext(ctx, query, scan)
	if err != nil {
		return fmt.Errorf("failed to create scan: %w", err)
	}

	return nil
}

// UpdateScan updates the outcome columns of a scan
func (r *Repository) UpdateScan(ctx context.Context, scan *Scan) error {
	defer r.observe("update", TableScans, time.Now())

	scan.UpdatedAt = time.Now()

	query := `
		UPDATE scans
		SET status = :status, output_file = :output_file, total_subdomains = :total_subdomains,
		    resolved_count = :resolved_count, live_count = :live_count, error = :error,
		    completed_at = :completed_at, updated_at = :updated_at
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, scan)
	if err != nil {
		return fmt.Errorf("failed to update scan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scan.ID)
	}

	return nil
}

// GetScanByID retrieves a scan by ID, or nil when it does not exist
func (r *Repository) GetScanByID(ctx context.Context, id string) (*Scan, error) {
	defer r.observe("select", TableScans, time.Now())

	var scan Scan
	query := `SELECT * FROM scans WHERE id = $1`

	err := r.db.GetContext(ctx, &scan, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	return &scan, nil
}

// GetRecentScans retrieves the newest scans
func (r *Repository) GetRecentScans(ctx context.Context, limit int) ([]*Scan, error) {
	defer r.observe("select", TableScans, time.Now())

	var scans []*Scan
	query := `SELECT * FROM scans ORDER BY started_at DESC LIMIT $1`

	err := r.db.SelectContext(ctx, &scans, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent scans: %w", err)
	}

	return scans, nil
}

// GetScansByTarget retrieves the scans of one target, newest first
func (r *Repository) GetScansByTarget(ctx context.Context, target string, limit int) ([]*Scan, error) {
	defer r.observe("select", TableScans, time.Now())

	var scans []*Scan
	query := `SELECT * FROM scans WHERE target = $1 ORDER BY started_at DESC LIMIT $2`

	err := r.db.SelectContext(ctx, &scans, query, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get scans by target: %w", err)
	}

	return scans, nil
}

// Subdomain Operations

// CreateSubdomains stores the subdomains of a scan in a transaction
func (r *Repository) CreateSubdomains(ctx context.Context, subdomains []*Subdomain) error {
	if len(subdomains) == 0 {
		return nil
	}
	defer r.observe("insert", TableSubdomains, time.Now())

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				logrus.Errorf("Failed to rollback transaction: %v", err)
			}
		}
	}()

	query := `
		INSERT INTO subdomains (scan_id, name, tool, resolved, live, created_at)
		VALUES (:scan_id, :name, :tool, :resolved, :live, :created_at)
		ON CONFLICT (scan_id, name) DO UPDATE SET
			resolved = EXCLUDED.resolved,
			live = EXCLUDED.live
	`

	now := time.Now()
	for _, subdomain := range subdomains {
		subdomain.CreatedAt = now

		_, err := tx.NamedExecContext(ctx, query, subdomain)
		if err != nil {
			return fmt.Errorf("failed to create subdomain %s: %w", subdomain.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	committed = true
	return nil
}

// GetSubdomainsByScanID retrieves the subdomains of a scan in name order
func (r *Repository) GetSubdomainsByScanID(ctx context.Context, scanID string) ([]*Subdomain, error) {
	defer r.observe("select", TableSubdomains, time.Now())

	var subdomains []*Subdomain
	query := `SELECT * FROM subdomains WHERE scan_id = $1 ORDER BY name`

	err := r.db.SelectContext(ctx, &subdomains, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subdomains by scan ID: %w", err)
	}

	return subdomains, nil
}

// GetNewSubdomains returns names found by scanID that no earlier scan of the same target reported
func (r *Repository) GetNewSubdomains(ctx context.Context, scanID string) ([]string, error) {
	defer r.observe("select", TableSubdomains, time.Now())

	var names []string
	query := `
		SELECT s.name FROM subdomains s
		JOIN scans cur ON cur.id = s.scan_id
		WHERE s.scan_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM subdomains p
			JOIN scans prev ON prev.id = p.scan_id
			WHERE prev.target = cur.target
			  AND prev.started_at < cur.started_at
			  AND p.name = s.name
		  )
		ORDER BY s.name
	`

	err := r.db.SelectContext(ctx, &names, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get new subdomains: %w", err)
	}

	return names, nil
}
