package scan

import (
	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/config"
	"github.com/subarg/internal/discovery"
	"github.com/subarg/internal/discovery/chaosdb"
	"github.com/subarg/internal/discovery/crtsh"
	"github.com/subarg/internal/metrics"
	"github.com/subarg/internal/probe"
	"github.com/subarg/internal/report"
	"github.com/subarg/internal/tools"
)

// Build assembles a Scanner from configuration. The returned cleanup stops
// the passive source rate limiters.
func Build(cfg *config.Config, registry *tools.Registry, m *metrics.Metrics) (*Scanner, func(), error) {
	writer, err := report.NewWriter(cfg.Scan.ResultsDir)
	if err != nil {
		return nil, nil, err
	}

	runner := tools.NewRunner(registry, cfg.Scan.ToolTimeout)

	crt := crtsh.NewClient(&crtsh.ClientConfig{
		RateLimit:     cfg.APIs.CrtSh.RateLimit,
		Timeout:       cfg.HTTP.Timeout,
		RetryAttempts: cfg.HTTP.RetryAttempts,
		RetryDelay:    cfg.HTTP.RetryDelay,
		OnBreakerStateChange: func(state string) {
			m.UpdateCircuitBreakerState(crtsh.SourceName, state)
			logrus.WithFields(logrus.Fields{"tool": crtsh.SourceName, "state": state}).Warn("Circuit breaker state changed")
		},
	})
	passive := []discovery.Source{crt}
	closers := []func(){crt.Close}

	if cfg.HasChaosConfig() {
		chaos := chaosdb.NewClient(&chaosdb.ClientConfig{
			APIKey:        cfg.APIs.Chaos.APIKey,
			RateLimit:     cfg.APIs.Chaos.RateLimit,
			Timeout:       cfg.HTTP.Timeout,
			RetryAttempts: cfg.HTTP.RetryAttempts,
			RetryDelay:    cfg.HTTP.RetryDelay,
		})
		passive = append(passive, chaos)
		closers = append(closers, chaos.Close)
		logrus.Info("Chaos API key configured, passive Chaos lookups enabled")
	}

	deps := Dependencies{
		Tools:    registry,
		Sources:  discovery.CommandSources(runner, cfg.Scan.WordlistPaths),
		Passive:  passive,
		Resolver: probe.NewDnsxResolver(runner),
		Prober:   probe.NewHttpxCLI(runner),
		Httprobe: probe.NewHttprobe(runner, cfg.Probe.HttprobeConcurrency, cfg.Probe.HttprobeTimeoutMs),
		Writer:   writer,
		Metrics:  m,
	}

	if cfg.Resolver.InProcess {
		deps.FallbackResolver = probe.NewDNSResolver(probe.DNSResolverConfig{
			Servers: cfg.Resolver.Servers,
			Timeout: cfg.Resolver.Timeout,
		})
	}

	if cfg.Probe.InProcess {
		deps.FallbackProber = probe.NewHttpxClient(&probe.HttpxConfig{
			Timeout:         cfg.Probe.Timeout,
			Concurrency:     cfg.Probe.Concurrency,
			RateLimit:       cfg.Probe.RateLimit,
			FollowRedirects: true,
			MaxRedirects:    3,
			Debug:           cfg.App.LogLevel == "debug",
		})
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	return NewScanner(deps), cleanup, nil
}
