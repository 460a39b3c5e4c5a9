// Package discovery adapts subdomain enumeration tools and passive services to one interface.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/tools"
	"github.com/subarg/internal/utils"
)

// Source enumerates raw subdomain candidates for a target
type Source interface {
	Name() string
	Enumerate(ctx context.Context, target string) ([]string, error)
}

// ErrNoWordlist is returned by ffuf when no configured wordlist exists
var ErrNoWordlist = errors.New("no wordlist found")

// commandSource runs a tool whose stdout is one host per line
type commandSource struct {
	name   string
	runner tools.CommandRunner
	args   func(target string) []string
}

func (s *commandSource) Name() string {
	return s.name
}

func (s *commandSource) Enumerate(ctx context.Context, target string) ([]string, error) {
	return s.runner.Run(ctx, s.name, s.args(target), nil)
}

// NewSubfinder runs `subfinder -d T -silent`
func NewSubfinder(runner tools.CommandRunner) Source {
	return &commandSource{
		name:   tools.Subfinder,
		runner: runner,
		args:   func(target string) []string { return []string{"-d", target, "-silent"} },
	}
}

// NewAssetfinder runs `assetfinder --subs-only T`
func NewAssetfinder(runner tools.CommandRunner) Source {
	return &commandSource{
		name:   tools.Assetfinder,
		runner: runner,
		args:   func(target string) []string { return []string{"--subs-only", target} },
	}
}

// NewAmass runs a passive `amass enum`
func NewAmass(runner tools.CommandRunner) Source {
	return &commandSource{
		name:   tools.Amass,
		runner: runner,
		args:   func(target string) []string { return []string{"enum", "-passive", "-d", target} },
	}
}

// Sublist3r writes its findings to a file instead of stdout
type Sublist3r struct {
	runner tools.CommandRunner
}

// NewSublist3r creates a sublist3r source
func NewSublist3r(runner tools.CommandRunner) *Sublist3r {
	return &Sublist3r{runner: runner}
}

// Name returns the tool name
func (s *Sublist3r) Name() string {
	return tools.Sublist3r
}

// Enumerate runs sublist3r and reads its output file
func (s *Sublist3r) Enumerate(ctx context.Context, target string) ([]string, error) {
	output, cleanup, err := tools.TempPath("subarg-sublist3r-*.txt")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	_, runErr := s.runner.Run(ctx, tools.Sublist3r, []string{"-d", target, "-o", output}, nil)

	data, err := os.ReadFile(output)
	if err != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, fmt.Errorf("failed to read sublist3r output: %w", err)
	}

	return tools.SplitLines(string(data)), runErr
}

// Ffuf brute forces virtual hosts from the first wordlist that exists
type Ffuf struct {
	runner    tools.CommandRunner
	wordlists []string
}

// ffufOutput is the subset of ffuf's JSON report we read
type ffufOutput struct {
	Results []struct {
		URL  string `json:"url"`
		Host string `json:"host"`
	} `json:"results"`
}

// NewFfuf creates an ffuf source
func NewFfuf(runner tools.CommandRunner, wordlists []string) *Ffuf {
	return &Ffuf{runner: runner, wordlists: wordlists}
}

// Name returns the tool name
func (f *Ffuf) Name() string {
	return tools.Ffuf
}

// Wordlist returns the first configured wordlist present on disk
func (f *Ffuf) Wordlist() (string, bool) {
	for _, path := range f.wordlists {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// Enumerate runs ffuf and extracts hosts from its JSON report
func (f *Ffuf) Enumerate(ctx context.Context, target string) ([]string, error) {
	wordlist, ok := f.Wordlist()
	if !ok {
		logrus.WithField("tool", tools.Ffuf).Warn("No wordlist found, skipping brute force")
		return nil, ErrNoWordlist
	}

	output, cleanup, err := tools.TempPath("subarg-ffuf-*.json")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{
		"-w", wordlist,
		"-u", "http://FUZZ." + target,
		"-H", "User-Agent: Mozilla/5.0",
		"-mc", "200,301,302,403",
		"-t", "10",
		"-o", output,
		"-of", "json",
		"-s",
	}
	_, runErr := f.runner.Run(ctx, tools.Ffuf, args, nil)

	data, err := os.ReadFile(output)
	if err != nil || len(data) == 0 {
		return nil, runErr
	}

	var report ffufOutput
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse ffuf output: %w", err)
	}

	var hosts []string
	for _, result := range report.Results {
		host := utils.ExtractHost(result.URL)
		if host == "" {
			host = utils.ExtractHost(result.Host)
		}
		if host != "" {
			hosts = append(hosts, host)
		}
	}

	return hosts, runErr
}

// CommandSources returns the subprocess-backed sources keyed by tool name
func CommandSources(runner tools.CommandRunner, wordlists []string) map[string]Source {
	return map[string]Source{
		tools.Subfinder:   NewSubfinder(runner),
		tools.Assetfinder: NewAssetfinder(runner),
		tools.Amass:       NewAmass(runner),
		tools.Sublist3r:   NewSublist3r(runner),
		tools.Ffuf:        NewFfuf(runner, wordlists),
	}
}
