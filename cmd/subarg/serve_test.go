package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subarg/internal/jobs"
	"github.com/subarg/internal/scan"
)

type runFunc func(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error)

func (f runFunc) Run(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error) {
	return f(ctx, opts, hooks)
}

func TestStartScheduler_SubmitsTargets(t *testing.T) {
	targets := make(chan string, 4)
	manager := jobs.NewManager(jobs.ManagerConfig{
		Runner: runFunc(func(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error) {
			select {
			case targets <- opts.Target:
			default:
			}
			return &scan.Result{Target: opts.Target, OutputFile: opts.Target + ".txt"}, nil
		}),
	})
	defer manager.Close()

	scheduler, err := startScheduler(manager, "@every 1s", []string{"example.com", "example.org"})
	require.NoError(t, err)
	defer scheduler.Stop()

	seen := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case target := <-targets:
			seen[target] = true
		case <-timeout:
			t.Fatalf("scheduled scans did not run, saw %v", seen)
		}
	}

	assert.True(t, seen["example.com"])
	assert.True(t, seen["example.org"])
}

func TestStartScheduler_InvalidSchedule(t *testing.T) {
	manager := jobs.NewManager(jobs.ManagerConfig{Runner: runFunc(nil)})
	defer manager.Close()

	_, err := startScheduler(manager, "every minute", []string{"example.com"})
	assert.Error(t, err)

	// Five-field schedules are rejected because the scheduler expects seconds
	_, err = startScheduler(manager, "0 * * * *", []string{"example.com"})
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "exit status 1", firstLine("exit status 1\nstderr output"))
	assert.Equal(t, "timeout", firstLine("timeout"))
}
