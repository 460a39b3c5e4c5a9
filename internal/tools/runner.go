package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrToolNotInstalled is returned when the registry has no binary for a tool
	ErrToolNotInstalled = errors.New("tool not installed")
	// ErrToolTimeout is returned when a tool exceeds its time box
	ErrToolTimeout = errors.New("tool timed out")
)

// ExitError reports a tool that exited non-zero
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
}

// CommandRunner executes an external tool and returns its stdout lines
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]string, error)
}

// Runner runs registry tools as time-boxed subprocesses
type Runner struct {
	registry *Registry
	timeout  time.Duration
}

// NewRunner creates a new runner
func NewRunner(registry *Registry, timeout time.Duration) *Runner {
	return &Runner{
		registry: registry,
		timeout:  timeout,
	}
}

// Run executes name with args and returns the non-empty trimmed stdout lines.
// A non-zero exit returns whatever was printed along with an *ExitError.
func (r *Runner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]string, error) {
	path, ok := r.registry.Path(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrToolNotInstalled)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, args...)
	// Children that inherit the pipes must not hold Wait past the deadline
	cmd.WaitDelay = 2 * time.Second
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logrus.WithFields(logrus.Fields{
		"tool": name,
		"args": args,
	}).Debug("Running tool")

	err := cmd.Run()
	lines := SplitLines(stdout.String())

	if err == nil {
		return lines, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return lines, fmt.Errorf("%s after %s: %w", name, r.timeout, ErrToolTimeout)
	}
	if ctx.Err() != nil {
		return lines, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return lines, &ExitError{
			Tool:   name,
			Code:   exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}

	return lines, fmt.Errorf("failed to run %s: %w", name, err)
}

// SplitLines returns the non-empty trimmed lines of s
func SplitLines(s string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// WriteTempList writes one entry per line to a temp file. The cleanup func removes it.
func WriteTempList(pattern string, entries []string) (string, func(), error) {
	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := file.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("path", path).Warn("Failed to remove temp file")
		}
	}

	writer := bufio.NewWriter(file)
	for _, entry := range entries {
		if _, err := writer.WriteString(entry + "\n"); err != nil {
			file.Close()
			cleanup()
			return "", func() {}, fmt.Errorf("failed to write temp file: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to close temp file: %w", err)
	}

	return path, cleanup, nil
}

// TempPath reserves a unique path for a tool to write its own output file
func TempPath(pattern string) (string, func(), error) {
	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := file.Name()
	file.Close()

	return path, func() { os.Remove(path) }, nil
}
