package database

import (
	"time"
)

// Scan status values stored in the scans table
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
)

// Scan represents one subdomain enumeration run
type Scan struct {
	ID              string     `db:"id" json:"id"`
	Target          string     `db:"target" json:"target"`
	Status          string     `db:"status" json:"status"` // running, completed, failed
	OutputFormat    string     `db:"output_format" json:"output_format"`
	OutputFile      string     `db:"output_file" json:"output_file"`
	TotalSubdomains int        `db:"total_subdomains" json:"total_subdomains"`
	ResolvedCount   int        `db:"resolved_count" json:"resolved_count"`
	LiveCount       int        `db:"live_count" json:"live_count"`
	Error           string     `db:"error" json:"error"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Subdomain is a host found by a scan
type Subdomain struct {
	ID        int64     `db:"id" json:"id"`
	ScanID    string    `db:"scan_id" json:"scan_id"`
	Name      string    `db:"name" json:"name"`
	Tool      string    `db:"tool" json:"tool"`
	Resolved  bool      `db:"resolved" json:"resolved"`
	Live      bool      `db:"live" json:"live"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Table names
const (
	TableScans      = "scans"
	TableSubdomains = "subdomains"
)

// schema is applied by Migrate; every statement is idempotent
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scans (
		id               TEXT PRIMARY KEY,
		target           TEXT NOT NULL,
		status           TEXT NOT NULL,
		output_format    TEXT NOT NULL DEFAULT 'txt',
		output_file      TEXT NOT NULL DEFAULT '',
		total_subdomains INTEGER NOT NULL DEFAULT 0,
		resolved_count   INTEGER NOT NULL DEFAULT 0,
		live_count       INTEGER NOT NULL DEFAULT 0,
		error            TEXT NOT NULL DEFAULT '',
		started_at       TIMESTAMPTZ NOT NULL,
		completed_at     TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scans_started_at ON scans (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS subdomains (
		id         BIGSERIAL PRIMARY KEY,
		scan_id    TEXT NOT NULL REFERENCES scans (id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		tool       TEXT NOT NULL,
		resolved   BOOLEAN NOT NULL DEFAULT FALSE,
		live       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (scan_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subdomains_name ON subdomains (name)`,
}
