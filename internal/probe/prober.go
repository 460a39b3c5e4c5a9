package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/subarg/internal/tools"
	"github.com/subarg/internal/utils"
)

// LiveHost is a host that answered over HTTP(S)
type LiveHost struct {
	URL        string   `json:"url"`
	Host       string   `json:"host"`
	StatusCode int      `json:"status_code,omitempty"`
	Title      string   `json:"title,omitempty"`
	Tech       []string `json:"tech,omitempty"`
}

// Prober checks which hosts serve HTTP(S)
type Prober interface {
	Name() string
	Probe(ctx context.Context, hosts []string) ([]LiveHost, error)
}

// HttpxCLI probes with the httpx binary
type HttpxCLI struct {
	runner tools.CommandRunner
}

// NewHttpxCLI creates an httpx binary backed prober
func NewHttpxCLI(runner tools.CommandRunner) *HttpxCLI {
	return &HttpxCLI{runner: runner}
}

// Name returns the tool name
func (p *HttpxCLI) Name() string {
	return tools.Httpx
}

// Probe runs `httpx -l <list> -silent -title -status-code -tech-detect`
func (p *HttpxCLI) Probe(ctx context.Context, hosts []string) ([]LiveHost, error) {
	if len(hosts) == 0 {
		return nil, nil
	}

	list, cleanup, err := tools.WriteTempList("subarg-httpx-*.txt", hosts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{"-l", list, "-silent", "-title", "-status-code", "-tech-detect", "-no-color"}
	lines, err := p.runner.Run(ctx, tools.Httpx, args, nil)
	return ParseHttpxLines(lines), err
}

// ParseHttpxLines parses `https://host [200] [Title] [Tech1,Tech2]` lines
func ParseHttpxLines(lines []string) []LiveHost {
	var live []LiveHost

	for _, line := range lines {
		line = ansiEscape.ReplaceAllString(line, "")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		host := utils.ExtractHost(fields[0])
		if host == "" {
			continue
		}

		entry := LiveHost{URL: fields[0], Host: host}
		groups := bracketGroup.FindAllStringSubmatch(line, -1)
		for i, match := range groups {
			value := strings.TrimSpace(match[1])
			if i == 0 {
				if code, err := strconv.Atoi(value); err == nil {
					entry.StatusCode = code
					continue
				}
			}
			switch {
			case entry.Title == "" && i <= 1:
				entry.Title = value
			case entry.Tech == nil && value != "":
				for _, tech := range strings.Split(value, ",") {
					if tech = strings.TrimSpace(tech); tech != "" {
						entry.Tech = append(entry.Tech, tech)
					}
				}
			}
		}

		live = append(live, entry)
	}

	return live
}

// Httprobe pipes hosts to httprobe on stdin
type Httprobe struct {
	runner      tools.CommandRunner
	concurrency int
	timeoutMs   int
}

// NewHttprobe creates an httprobe backed prober
func NewHttprobe(runner tools.CommandRunner, concurrency, timeoutMs int) *Httprobe {
	return &Httprobe{
		runner:      runner,
		concurrency: concurrency,
		timeoutMs:   timeoutMs,
	}
}

// Name returns the tool name
func (p *Httprobe) Name() string {
	return tools.Httprobe
}

// Probe runs `httprobe -c N -t MS` with one host per stdin line
func (p *Httprobe) Probe(ctx context.Context, hosts []string) ([]LiveHost, error) {
	if len(hosts) == 0 {
		return nil, nil
	}

	args := []string{"-c", strconv.Itoa(p.concurrency), "-t", strconv.Itoa(p.timeoutMs)}
	stdin := strings.NewReader(strings.Join(hosts, "\n") + "\n")

	lines, err := p.runner.Run(ctx, tools.Httprobe, args, stdin)

	var live []LiveHost
	for _, line := range lines {
		if host := utils.ExtractHost(line); host != "" {
			live = append(live, LiveHost{URL: line, Host: host})
		}
	}
	if err != nil {
		return live, fmt.Errorf("httprobe: %w", err)
	}
	return live, nil
}

// URLs returns the URL of every live host
func URLs(live []LiveHost) []string {
	urls := make([]string, 0, len(live))
	for _, l := range live {
		urls = append(urls, l.URL)
	}
	return urls
}
