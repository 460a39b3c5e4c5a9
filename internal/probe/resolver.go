package probe

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/tools"
	"github.com/subarg/internal/utils"
)

// Resolution is a host with the IPv4 addresses it resolved to
type Resolution struct {
	Host      string   `json:"host"`
	Addresses []string `json:"addresses"`
}

// Resolver turns candidate hosts into the subset that resolves
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, hosts []string) ([]Resolution, error)
}

var (
	bracketGroup = regexp.MustCompile(`\[([^\]]*)\]`)
	ansiEscape   = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// DnsxResolver resolves hosts with `dnsx -a -resp`
type DnsxResolver struct {
	runner tools.CommandRunner
}

// NewDnsxResolver creates a dnsx backed resolver
func NewDnsxResolver(runner tools.CommandRunner) *DnsxResolver {
	return &DnsxResolver{runner: runner}
}

// Name returns the tool name
func (r *DnsxResolver) Name() string {
	return tools.Dnsx
}

// Resolve writes hosts to a temp list and parses dnsx output
func (r *DnsxResolver) Resolve(ctx context.Context, hosts []string) ([]Resolution, error) {
	if len(hosts) == 0 {
		return nil, nil
	}

	list, cleanup, err := tools.WriteTempList("subarg-dnsx-*.txt", hosts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	lines, err := r.runner.Run(ctx, tools.Dnsx, []string{"-l", list, "-silent", "-a", "-resp"}, nil)
	return ParseDnsxLines(lines), err
}

// ParseDnsxLines parses `host [A] [1.2.3.4]` and `host [1.2.3.4]` lines, merging repeated hosts
func ParseDnsxLines(lines []string) []Resolution {
	index := make(map[string]int)
	var resolved []Resolution

	for _, line := range lines {
		line = ansiEscape.ReplaceAllString(line, "")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		host := utils.NormalizeHost(fields[0])
		if host == "" || strings.HasPrefix(host, "[") {
			continue
		}

		var addresses []string
		for _, match := range bracketGroup.FindAllStringSubmatch(line, -1) {
			for _, value := range strings.Split(match[1], ",") {
				value = strings.TrimSpace(value)
				if utils.IsIPAddress(value) {
					addresses = append(addresses, value)
				}
			}
		}

		i, seen := index[host]
		if !seen {
			index[host] = len(resolved)
			resolved = append(resolved, Resolution{Host: host, Addresses: addresses})
			continue
		}
		resolved[i].Addresses = appendUnique(resolved[i].Addresses, addresses...)
	}

	return resolved
}

// DNSResolver resolves A records in process against a fixed server list
type DNSResolver struct {
	client      *dns.Client
	servers     []string
	concurrency int
}

// DNSResolverConfig holds configuration for the in-process resolver
type DNSResolverConfig struct {
	Servers     []string
	Timeout     time.Duration
	Concurrency int
}

// NewDNSResolver creates a new in-process resolver
func NewDNSResolver(config DNSResolverConfig) *DNSResolver {
	if config.Concurrency <= 0 {
		config.Concurrency = 20
	}

	return &DNSResolver{
		client:      &dns.Client{Net: "udp", Timeout: config.Timeout},
		servers:     config.Servers,
		concurrency: config.Concurrency,
	}
}

// Name identifies the resolver in logs
func (r *DNSResolver) Name() string {
	return "dns"
}

// Resolve queries every host concurrently and keeps those with at least one A record
func (r *DNSResolver) Resolve(ctx context.Context, hosts []string) ([]Resolution, error) {
	if len(r.servers) == 0 {
		return nil, fmt.Errorf("no resolver servers configured")
	}

	results := make([]Resolution, len(hosts))
	semaphore := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for i, host := range hosts {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			results[i] = Resolution{Host: host, Addresses: r.lookup(ctx, host)}
		}(i, host)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resolved []Resolution
	for _, res := range results {
		if len(res.Addresses) > 0 {
			resolved = append(resolved, res)
		}
	}
	return resolved, nil
}

// lookup asks each server in turn until one gives a usable answer
func (r *DNSResolver) lookup(ctx context.Context, host string) []string {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	for _, server := range r.servers {
		if ctx.Err() != nil {
			return nil
		}

		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"host":   host,
				"server": server,
			}).WithError(err).Debug("DNS query failed")
			continue
		}

		if resp.Rcode == dns.RcodeNameError {
			return nil
		}
		if resp.Rcode != dns.RcodeSuccess {
			continue
		}

		var addresses []string
		for _, answer := range resp.Answer {
			if a, ok := answer.(*dns.A); ok {
				addresses = appendUnique(addresses, a.A.String())
			}
		}
		return addresses
	}

	return nil
}

// Hosts returns the host of every resolution
func Hosts(resolutions []Resolution) []string {
	hosts := make([]string, 0, len(resolutions))
	for _, res := range resolutions {
		hosts = append(hosts, res.Host)
	}
	return hosts
}

func appendUnique(values []string, extra ...string) []string {
	for _, v := range extra {
		found := false
		for _, existing := range values {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			values = append(values, v)
		}
	}
	return values
}
