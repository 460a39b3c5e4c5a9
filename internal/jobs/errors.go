package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTarget is returned when a request names neither target nor target_list
	ErrNoTarget = errors.New("target or target_list is required")

	// ErrInvalidFormat is returned for output formats the report writer does not support
	ErrInvalidFormat = errors.New("invalid output format")

	// ErrShuttingDown is returned when scans are submitted after Close
	ErrShuttingDown = errors.New("job manager is shutting down")
)

// InvalidTargetError is returned when a requested target is not a DNS name
type InvalidTargetError struct {
	Target string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target domain: %q", e.Target)
}

// JobNotFoundError is returned when a job ID doesn't exist
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("scan not found: %s", e.JobID)
}
