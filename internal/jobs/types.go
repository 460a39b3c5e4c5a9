package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/subarg/internal/aggregate"
)

// Status represents the current state of a scan job
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Job is a scan with its full lifecycle state
type Job struct {
	ID              string             `json:"id"`
	Target          string             `json:"target"`
	Status          Status             `json:"status"`
	Progress        int                `json:"progress"`
	CurrentTool     string             `json:"current_tool,omitempty"`
	Results         []aggregate.Record `json:"results"`
	OutputFormat    string             `json:"output_format"`
	OutputFile      *string            `json:"output_file"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         *time.Time         `json:"end_time"`
	TotalSubdomains int                `json:"total_subdomains"`
	Error           string             `json:"error,omitempty"`

	filename string
}

// Done reports whether the job reached a terminal state
func (j *Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (j *Job) clone() Job {
	c := *j
	c.Results = append(make([]aggregate.Record, 0, len(j.Results)), j.Results...)
	if j.OutputFile != nil {
		file := *j.OutputFile
		c.OutputFile = &file
	}
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	return c
}

// TargetList accepts either a JSON array of targets or a single string of
// targets separated by commas or whitespace
type TargetList []string

// UnmarshalJSON implements json.Unmarshaler
func (t *TargetList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}

	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("target_list must be a string or an array of strings")
	}
	if raw == nil {
		*t = nil
		return nil
	}

	*t = strings.FieldsFunc(*raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	return nil
}

// ScanRequest is the request body for starting scans
type ScanRequest struct {
	Target       string     `json:"target"`
	TargetList   TargetList `json:"target_list"`
	OutputFormat string     `json:"output_format"`
	Filename     string     `json:"filename"`
}

// ScanResponse is returned when scans are accepted
type ScanResponse struct {
	ScanID  string   `json:"scan_id"`
	ScanIDs []string `json:"scan_ids"`
	Message string   `json:"message"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error string `json:"error"`
}
