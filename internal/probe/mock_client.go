package probe

import (
	"context"
	"time"

	"github.com/subarg/internal/utils"
)

// MockClient is a Prober that reports a fixed set of hosts as live
type MockClient struct {
	name      string
	liveHosts map[string]bool
	delay     time.Duration
	err       error
	calls     [][]string
}

// NewMockClient creates a new mock prober
func NewMockClient(name string, liveHosts []string, delay time.Duration) *MockClient {
	hostMap := make(map[string]bool)
	for _, host := range liveHosts {
		hostMap[host] = true
	}

	return &MockClient{
		name:      name,
		liveHosts: hostMap,
		delay:     delay,
	}
}

// WithError makes every probe fail with err after reporting live hosts
func (m *MockClient) WithError(err error) *MockClient {
	m.err = err
	return m
}

// Name returns the configured name
func (m *MockClient) Name() string {
	return m.name
}

// Probe simulates probing hosts without making network requests
func (m *MockClient) Probe(ctx context.Context, hosts []string) ([]LiveHost, error) {
	m.calls = append(m.calls, append([]string(nil), hosts...))

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var live []LiveHost
	for _, host := range hosts {
		clean := utils.ExtractHost(host)
		if m.liveHosts[clean] {
			live = append(live, LiveHost{
				URL:        "https://" + clean,
				Host:       clean,
				StatusCode: 200,
			})
		}
	}

	return live, m.err
}

// Calls returns the host lists passed to Probe
func (m *MockClient) Calls() [][]string {
	return m.calls
}
