package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/aggregate"
	"github.com/subarg/internal/config"
	"github.com/subarg/internal/metrics"
	"github.com/subarg/internal/report"
	"github.com/subarg/internal/scan"
	"github.com/subarg/internal/utils"
)

// Runner executes one scan
type Runner interface {
	Run(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error)
}

// Recorder observes job lifecycle transitions
type Recorder interface {
	ScanStarted(ctx context.Context, job Job)
	ScanFinished(ctx context.Context, job Job, result *scan.Result)
}

// ManagerConfig wires the manager's collaborators. Recorder and Metrics may be nil.
type ManagerConfig struct {
	Runner        Runner
	Broker        *Broker
	Recorder      Recorder
	Metrics       *metrics.Metrics
	DefaultFormat string
}

// Manager is the append-only registry of scan jobs
type Manager struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string

	runner        Runner
	broker        *Broker
	recorder      Recorder
	metrics       *metrics.Metrics
	defaultFormat string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing bool
}

// NewManager creates a new job manager
func NewManager(cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Broker == nil {
		cfg.Broker = NewBroker()
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = report.FormatTXT
	}

	return &Manager{
		jobs:          make(map[string]*Job),
		runner:        cfg.Runner,
		broker:        cfg.Broker,
		recorder:      cfg.Recorder,
		metrics:       cfg.Metrics,
		defaultFormat: cfg.DefaultFormat,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Broker returns the event broker scans publish to
func (m *Manager) Broker() *Broker {
	return m.broker
}

// Submit validates req, registers one job per target and starts them
func (m *Manager) Submit(req ScanRequest) ([]Job, error) {
	created, err := m.Create(req)
	if err != nil {
		return nil, err
	}

	if err := m.startAll(created); err != nil {
		return nil, err
	}
	return created, nil
}

// startAll starts every created job. When one cannot start, it and the jobs
// after it are marked failed so none stays initializing.
func (m *Manager) startAll(created []Job) error {
	for i, job := range created {
		if err := m.Start(job.ID); err != nil {
			for _, rest := range created[i:] {
				m.abandon(rest.ID, err)
			}
			return err
		}
	}
	return nil
}

// abandon fails a job that never started
func (m *Manager) abandon(id string, err error) {
	abandoned := false
	m.update(id, func(j *Job) {
		if j.Status != StatusInitializing {
			return
		}
		now := time.Now()
		j.Status = StatusFailed
		j.EndTime = &now
		j.Error = err.Error()
		abandoned = true
	})

	if abandoned {
		logrus.WithField("scan_id", id).WithError(err).Warn("Scan not started")
		m.publish(EventScanError, id, ScanErrorPayload{ScanID: id, Error: err.Error(), Status: StatusFailed})
	}
}

// Create validates req and registers its jobs without starting them
func (m *Manager) Create(req ScanRequest) ([]Job, error) {
	targets, err := requestTargets(req)
	if err != nil {
		return nil, err
	}

	format := req.OutputFormat
	if format == "" {
		format = m.defaultFormat
	}
	if !config.IsValidFormat(format) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
	format = report.NormalizeFormat(format)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return nil, ErrShuttingDown
	}

	created := make([]Job, 0, len(targets))
	for _, target := range targets {
		filename := req.Filename
		if filename != "" && len(targets) > 1 {
			filename = filename + "_" + target
		}

		job := &Job{
			ID:           uuid.New().String(),
			Target:       target,
			Status:       StatusInitializing,
			Results:      []aggregate.Record{},
			OutputFormat: format,
			StartTime:    time.Now(),
			filename:     filename,
		}

		m.jobs[job.ID] = job
		m.order = append(m.order, job.ID)
		created = append(created, job.clone())
	}

	return created, nil
}

// requestTargets returns the normalized, validated, deduplicated targets of req
func requestTargets(req ScanRequest) ([]string, error) {
	raw := []string(req.TargetList)
	if len(raw) == 0 && req.Target != "" {
		raw = []string{req.Target}
	}
	if len(raw) == 0 {
		return nil, ErrNoTarget
	}

	seen := make(map[string]bool, len(raw))
	targets := make([]string, 0, len(raw))
	for _, t := range raw {
		target := utils.NormalizeHost(t)
		if !utils.IsValidHostname(target) {
			return nil, &InvalidTargetError{Target: t}
		}
		if seen[target] {
			continue
		}
		seen[target] = true
		targets = append(targets, target)
	}
	return targets, nil
}

// Start launches the scan for a created job in the background
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	job, exists := m.jobs[id]
	if !exists {
		m.mu.Unlock()
		return &JobNotFoundError{JobID: id}
	}
	if m.closing {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	if job.Status != StatusInitializing {
		m.mu.Unlock()
		return nil
	}
	job.Status = StatusRunning
	snapshot := job.clone()
	m.wg.Add(1)
	m.mu.Unlock()

	go m.execute(snapshot)
	return nil
}

// Get returns a snapshot of the job with id
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, exists := m.jobs[id]
	if !exists {
		return Job{}, false
	}
	return job.clone(), true
}

// List returns snapshots of every job in creation order
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.order))
	for _, id := range m.order {
		jobs = append(jobs, m.jobs[id].clone())
	}
	return jobs
}

// Wait blocks until every started scan has finished
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close rejects new scans, cancels running ones and waits for them to stop
func (m *Manager) Close() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) execute(job Job) {
	defer m.wg.Done()

	started := time.Now()
	log := utils.ScanLogger(job.ID, job.Target)
	ctx := utils.WithScanID(m.ctx, job.ID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("Scan panicked: %v", r)
			m.fail(ctx, job.ID, fmt.Errorf("scan panicked: %v", r), "panic", started)
		}
	}()

	log.Info("Scan started")
	m.metrics.RecordScanStarted()
	m.publish(EventScanUpdate, job.ID, ScanUpdatePayload{ScanID: job.ID, Status: StatusRunning, Progress: 0})
	if m.recorder != nil {
		m.recorder.ScanStarted(ctx, job)
	}

	hooks := scan.Hooks{
		OnProgress: func(stage string, percent int) {
			m.update(job.ID, func(j *Job) {
				j.Progress = percent
				j.CurrentTool = stage
			})
			m.publish(EventScanUpdate, job.ID, ScanUpdatePayload{
				ScanID:      job.ID,
				Status:      StatusRunning,
				Progress:    percent,
				CurrentTool: stage,
			})
		},
		OnResult: func(subdomain, tool string) {
			m.update(job.ID, func(j *Job) {
				j.Results = append(j.Results, aggregate.Record{Subdomain: subdomain, Tool: tool})
			})
			m.publish(EventNewResult, job.ID, NewResultPayload{ScanID: job.ID, Subdomain: subdomain, Tool: tool})
		},
	}

	result, err := m.runner.Run(ctx, scan.Options{
		Target:   job.Target,
		Format:   job.OutputFormat,
		Filename: job.filename,
	}, hooks)
	if err != nil {
		m.fail(ctx, job.ID, err, failureReason(err), started)
		return
	}

	m.complete(ctx, job.ID, result, started)
}

func (m *Manager) complete(ctx context.Context, id string, result *scan.Result, started time.Time) {
	var snapshot Job
	m.update(id, func(j *Job) {
		now := time.Now()
		output := result.OutputFile
		j.Status = StatusCompleted
		j.Progress = 100
		j.EndTime = &now
		j.OutputFile = &output
		j.TotalSubdomains = result.Total
		snapshot = j.clone()
	})

	m.metrics.RecordScanCompleted(time.Since(started))
	utils.ScanLogger(id, snapshot.Target).WithFields(logrus.Fields{
		"total":    result.Total,
		"output":   result.OutputFile,
		"duration": time.Since(started).String(),
	}).Info("Scan finished")

	m.publish(EventScanComplete, id, ScanCompletePayload{
		ScanID:          id,
		Status:          StatusCompleted,
		OutputFile:      result.OutputFile,
		TotalSubdomains: result.Total,
	})
	if m.recorder != nil {
		m.recorder.ScanFinished(ctx, snapshot, result)
	}
}

func (m *Manager) fail(ctx context.Context, id string, err error, reason string, started time.Time) {
	var snapshot Job
	m.update(id, func(j *Job) {
		now := time.Now()
		j.Status = StatusFailed
		j.EndTime = &now
		j.Error = err.Error()
		snapshot = j.clone()
	})

	m.metrics.RecordScanFailed(reason, time.Since(started))
	utils.ScanLogger(id, snapshot.Target).WithError(err).Error("Scan failed")

	m.publish(EventScanError, id, ScanErrorPayload{ScanID: id, Error: err.Error(), Status: StatusFailed})
	if m.recorder != nil {
		m.recorder.ScanFinished(ctx, snapshot, nil)
	}
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

func (m *Manager) publish(name, scanID string, data interface{}) {
	m.broker.Publish(Event{Name: name, ScanID: scanID, Data: data})
}

// failureReason maps a scan error to a metrics label
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, scan.ErrInvalidTarget):
		return "invalid_target"
	default:
		return "error"
	}
}
