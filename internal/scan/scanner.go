package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/aggregate"
	"github.com/subarg/internal/discovery"
	"github.com/subarg/internal/filter"
	"github.com/subarg/internal/metrics"
	"github.com/subarg/internal/probe"
	"github.com/subarg/internal/report"
	"github.com/subarg/internal/tools"
	"github.com/subarg/internal/utils"
)

// Progress stages reported through Hooks.OnProgress
const (
	StageInitializing = "Initializing"
	StageFiltering    = "Filtering DNS records"
	StageResolving    = "Resolving DNS"
	StageProbing      = "Checking HTTP services"
	StageHttprobe     = "Trying HTTPROBE as fallback"
	StageSaving       = "Saving results"
	StageComplete     = "Complete"
)

// ErrInvalidTarget is returned for targets that are not plain DNS names
var ErrInvalidTarget = errors.New("invalid target domain")

// Inventory is the view of installed tools the scanner needs
type Inventory interface {
	Available(name string) bool
	EnumerationTools() []string
}

// Options configure a single scan
type Options struct {
	Target    string
	Format    string
	Filename  string
	SkipProbe bool
}

// Hooks receive progress and result notifications while a scan runs
type Hooks struct {
	OnProgress func(stage string, percent int)
	OnResult   func(subdomain, tool string)
}

func (h Hooks) progress(stage string, percent int) {
	if h.OnProgress != nil {
		h.OnProgress(stage, percent)
	}
}

func (h Hooks) result(subdomain, tool string) {
	if h.OnResult != nil {
		h.OnResult(subdomain, tool)
	}
}

// Result is the outcome of a completed scan
type Result struct {
	Target       string             `json:"target"`
	OutputFile   string             `json:"output_file"`
	Subdomains   []string           `json:"subdomains"`
	Records      []aggregate.Record `json:"records"`
	Resolved     []probe.Resolution `json:"resolved"`
	Live         []probe.LiveHost   `json:"live"`
	HttprobeUsed bool               `json:"httprobe_used"`
	Total        int                `json:"total_subdomains"`
	ToolErrors   map[string]string  `json:"tool_errors,omitempty"`
	Duration     time.Duration      `json:"duration"`
}

// Dependencies wires the components a Scanner composes
type Dependencies struct {
	Tools   Inventory
	Sources map[string]discovery.Source
	// Passive sources run after the installed tools on every scan
	Passive []discovery.Source

	Resolver         probe.Resolver // dnsx, used when installed
	FallbackResolver probe.Resolver // in-process, may be nil

	Prober         probe.Prober // httpx binary, used when installed
	FallbackProber probe.Prober // in-process httpx, may be nil
	Httprobe       probe.Prober

	Writer  *report.Writer
	Metrics *metrics.Metrics
}

// Scanner runs the detect, enumerate, filter, resolve, probe and report pipeline
type Scanner struct {
	deps Dependencies
}

// NewScanner creates a new scanner
func NewScanner(deps Dependencies) *Scanner {
	return &Scanner{deps: deps}
}

// Run performs one scan. Per-tool failures are logged and skipped.
func (s *Scanner) Run(ctx context.Context, opts Options, hooks Hooks) (*Result, error) {
	start := time.Now()

	target := utils.NormalizeHost(opts.Target)
	if !utils.IsValidHostname(target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, opts.Target)
	}

	log := utils.FromContext(ctx).WithField("target", target)
	log.Info("Starting scan")

	hooks.progress(StageInitializing, 0)

	set := aggregate.NewSet()
	toolErrors := make(map[string]string)
	sources := s.sourcesToRun()

	for i, source := range sources {
		name := source.Name()
		hooks.progress("Running "+name, i*70/len(sources))

		added, err := s.runSource(ctx, log, source, target, set, hooks)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			toolErrors[name] = err.Error()
		}
		s.deps.Metrics.RecordSubdomainsDiscovered(name, added)

		hooks.progress("Completed "+name, (i+1)*70/len(sources))
	}

	hooks.progress(StageFiltering, 75)
	subdomains := filter.Filter(set.Sorted(), target)
	if subdomains == nil {
		subdomains = []string{}
	}

	var (
		resolved     []probe.Resolution
		live         []probe.LiveHost
		httprobeUsed bool
	)

	if !opts.SkipProbe && len(subdomains) > 0 {
		hooks.progress(StageResolving, 80)
		resolved = s.resolve(ctx, log, subdomains)

		hooks.progress(StageProbing, 85)
		live = s.probe(ctx, log, probe.Hosts(resolved))

		if len(live) == 0 && s.deps.Httprobe != nil && s.deps.Tools.Available(tools.Httprobe) {
			hooks.progress(StageHttprobe, 88)
			httprobeUsed = true

			targets := probe.Hosts(resolved)
			if len(targets) == 0 {
				targets = subdomains
			}
			live = s.runProber(ctx, log, s.deps.Httprobe, targets)
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	hooks.progress(StageSaving, 95)

	liveHosts := make([]string, 0, len(live))
	for _, l := range live {
		liveHosts = append(liveHosts, l.Host)
	}

	rep := report.New(target, subdomains, probe.Hosts(resolved), probe.URLs(live), liveHosts, report.ToolsUsed{
		HttpxAvailable:         s.deps.Tools.Available(tools.Httpx),
		HttprobeAvailable:      s.deps.Tools.Available(tools.Httprobe),
		HttprobeUsedAsFallback: httprobeUsed,
	})

	outputFile, err := s.deps.Writer.Write(rep, opts.Format, opts.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to save results: %w", err)
	}

	hooks.progress(StageComplete, 100)

	result := &Result{
		Target:       target,
		OutputFile:   outputFile,
		Subdomains:   subdomains,
		Records:      keepRecords(set.Records(), subdomains),
		Resolved:     resolved,
		Live:         live,
		HttprobeUsed: httprobeUsed,
		Total:        len(subdomains),
		ToolErrors:   toolErrors,
		Duration:     time.Since(start),
	}

	log.WithFields(logrus.Fields{
		"total":    result.Total,
		"resolved": len(resolved),
		"live":     len(live),
		"output":   outputFile,
	}).Info("Scan completed")

	return result, nil
}

// sourcesToRun returns the installed enumeration tools followed by the passive sources
func (s *Scanner) sourcesToRun() []discovery.Source {
	var sources []discovery.Source
	for _, name := range s.deps.Tools.EnumerationTools() {
		if source, ok := s.deps.Sources[name]; ok {
			sources = append(sources, source)
		}
	}
	return append(sources, s.deps.Passive...)
}

func (s *Scanner) runSource(ctx context.Context, log *logrus.Entry, source discovery.Source, target string, set *aggregate.Set, hooks Hooks) (int, error) {
	name := source.Name()
	started := time.Now()

	raw, err := source.Enumerate(ctx, target)
	duration := time.Since(started)

	filtered := filter.Filter(raw, target)
	added := set.AddAll(filtered, name)
	for _, host := range added {
		hooks.result(host, name)
	}

	s.deps.Metrics.RecordToolRun(name, toolStatus(err), duration)
	utils.LogToolRun(log, name, len(added), duration, err)

	return len(added), err
}

func (s *Scanner) resolve(ctx context.Context, log *logrus.Entry, hosts []string) []probe.Resolution {
	var resolver probe.Resolver
	switch {
	case s.deps.Resolver != nil && s.deps.Tools.Available(tools.Dnsx):
		resolver = s.deps.Resolver
	case s.deps.FallbackResolver != nil:
		resolver = s.deps.FallbackResolver
	default:
		log.Info("No resolver available, skipping DNS resolution")
		return nil
	}

	started := time.Now()
	resolved, err := resolver.Resolve(ctx, hosts)
	s.deps.Metrics.RecordToolRun(resolver.Name(), toolStatus(err), time.Since(started))
	if err != nil {
		log.WithError(err).WithField("tool", resolver.Name()).Warn("DNS resolution failed")
	}

	// Drop names the resolver was not asked about
	asked := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		asked[h] = true
	}
	var kept []probe.Resolution
	for _, r := range resolved {
		if asked[r.Host] {
			kept = append(kept, r)
		}
	}
	return kept
}

func (s *Scanner) probe(ctx context.Context, log *logrus.Entry, hosts []string) []probe.LiveHost {
	if len(hosts) == 0 {
		return nil
	}

	switch {
	case s.deps.Prober != nil && s.deps.Tools.Available(tools.Httpx):
		return s.runProber(ctx, log, s.deps.Prober, hosts)
	case s.deps.FallbackProber != nil:
		return s.runProber(ctx, log, s.deps.FallbackProber, hosts)
	default:
		log.Info("No HTTP prober available, skipping liveness check")
		return nil
	}
}

func (s *Scanner) runProber(ctx context.Context, log *logrus.Entry, prober probe.Prober, hosts []string) []probe.LiveHost {
	started := time.Now()
	live, err := prober.Probe(ctx, hosts)
	s.deps.Metrics.RecordToolRun(prober.Name(), toolStatus(err), time.Since(started))
	if err != nil {
		log.WithError(err).WithField("tool", prober.Name()).Warn("HTTP probe failed")
	}
	return live
}

// toolStatus maps a tool error to a metrics label
func toolStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, tools.ErrToolTimeout):
		return "timeout"
	case errors.Is(err, discovery.ErrNoWordlist), errors.Is(err, utils.ErrCircuitOpen):
		return "skipped"
	default:
		return "error"
	}
}

// keepRecords drops records whose host did not survive the final filter
func keepRecords(records []aggregate.Record, subdomains []string) []aggregate.Record {
	keep := make(map[string]bool, len(subdomains))
	for _, s := range subdomains {
		keep[s] = true
	}

	kept := make([]aggregate.Record, 0, len(records))
	for _, r := range records {
		if keep[r.Subdomain] {
			kept = append(kept, r)
		}
	}
	return kept
}
