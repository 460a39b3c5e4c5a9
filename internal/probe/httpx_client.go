package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/projectdiscovery/httpx/runner"
	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/utils"
)

// HttpxConfig holds configuration for the in-process httpx probe
type HttpxConfig struct {
	Timeout         time.Duration // Per-host timeout
	TotalTimeout    time.Duration // Bound on the whole probe, derived from the host count when zero
	Concurrency     int
	RateLimit       int
	FollowRedirects bool
	MaxRedirects    int
	Debug           bool
}

// HttpxClient probes hosts with the httpx library instead of the binary
type HttpxClient struct {
	config *HttpxConfig
}

// NewHttpxClient creates a new in-process httpx prober
func NewHttpxClient(config *HttpxConfig) *HttpxClient {
	if config == nil {
		config = &HttpxConfig{
			Timeout:         10 * time.Second,
			Concurrency:     25,
			RateLimit:       100,
			FollowRedirects: true,
			MaxRedirects:    3,
		}
	}

	return &HttpxClient{config: config}
}

// Name identifies the prober in logs
func (c *HttpxClient) Name() string {
	return "httpx-library"
}

// Probe runs an httpx enumeration over hosts and returns those that answered
func (c *HttpxClient) Probe(ctx context.Context, hosts []string) ([]LiveHost, error) {
	var targets []string
	for _, host := range hosts {
		if host = strings.TrimSpace(host); host != "" {
			targets = append(targets, host)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	logrus.Infof("Starting in-process HTTPX probe for %d hosts", len(targets))

	var (
		mu       sync.Mutex
		live     []LiveHost
		finished bool
	)

	options := &runner.Options{
		InputTargetHost: targets,
		RateLimit:       c.config.RateLimit,
		Threads:         c.config.Concurrency,
		Timeout:         int(c.config.Timeout.Seconds()),
		FollowRedirects: c.config.FollowRedirects,
		MaxRedirects:    c.config.MaxRedirects,
		ExtractTitle:    true,
		StatusCode:      true,
		TechDetect:      true,
		Silent:          true,
		NoColor:         true,
		Verbose:         c.config.Debug,
		Debug:           c.config.Debug,
		OnResult: func(result runner.Result) {
			if result.Failed || result.StatusCode <= 0 {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if finished {
				return
			}
			live = append(live, LiveHost{
				URL:        result.URL,
				Host:       utils.ExtractHost(result.URL),
				StatusCode: result.StatusCode,
				Title:      result.Title,
				Tech:       result.Technologies,
			})
		},
	}

	httpxRunner, err := runner.New(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTPX runner: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer httpxRunner.Close()
		httpxRunner.RunEnumeration()
	}()

	totalTimeout := c.totalTimeout(ctx, len(targets))
	timeoutCtx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	select {
	case <-done:
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			logrus.Warn("In-process HTTPX probe cancelled, returning partial results")
		} else {
			logrus.Warnf("In-process HTTPX probe timeout after %v, returning partial results", totalTimeout)
		}
	}

	// Results arriving after this point are discarded
	mu.Lock()
	defer mu.Unlock()
	finished = true

	result := make([]LiveHost, len(live))
	copy(result, live)

	logrus.Infof("HTTPX probe completed: %d/%d hosts live", len(result), len(targets))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// totalTimeout bounds the whole probe: the configured value, else the caller's
// deadline less a margin, else half the per-host timeout per host within [30s, 30m]
func (c *HttpxClient) totalTimeout(ctx context.Context, hosts int) time.Duration {
	if c.config.TotalTimeout > 0 {
		return c.config.TotalTimeout
	}

	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline) - 5*time.Second
		if remaining <= 0 {
			remaining = 30 * time.Second
		}
		return remaining
	}

	total := time.Duration(hosts) * c.config.Timeout / 2
	if total < 30*time.Second {
		total = 30 * time.Second
	}
	if total > 30*time.Minute {
		total = 30 * time.Minute
	}
	return total
}
