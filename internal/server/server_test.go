package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subarg/internal/config"
	"github.com/subarg/internal/jobs"
	"github.com/subarg/internal/metrics"
	"github.com/subarg/internal/report"
	"github.com/subarg/internal/scan"
)

type runFunc func(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error)

func (f runFunc) Run(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error) {
	return f(ctx, opts, hooks)
}

type staticTools map[string]bool

func (s staticTools) Detect() map[string]bool { return s }

func quickScan(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error) {
	hooks.OnProgress("Running subfinder", 0)
	hooks.OnResult("www."+opts.Target, "subfinder")
	hooks.OnProgress(scan.StageComplete, 100)
	return &scan.Result{Target: opts.Target, OutputFile: "out." + opts.Format, Subdomains: []string{"www." + opts.Target}, Total: 1}, nil
}

type testEnv struct {
	server  *Server
	manager *jobs.Manager
	writer  *report.Writer
}

func newTestEnv(t *testing.T, runner jobs.Runner) *testEnv {
	t.Helper()

	writer, err := report.NewWriter(t.TempDir())
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	manager := jobs.NewManager(jobs.ManagerConfig{Runner: runner, Metrics: m})
	t.Cleanup(manager.Close)

	return &testEnv{
		server: New(Dependencies{
			Config:   config.ServerConfig{Addr: "127.0.0.1:0", ReadTimeout: time.Second, ShutdownTimeout: time.Second},
			Manager:  manager,
			Writer:   writer,
			Tools:    staticTools{"subfinder": true, "amass": false},
			Metrics:  m,
			Gatherer: registry,
		}),
		manager: manager,
		writer:  writer,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestServer_StartAndGetScan(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "POST", "/api/scan", `{"target":"example.com","output_format":"json"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var resp jobs.ScanResponse
	decode(t, rec, &resp)
	assert.Equal(t, "Scan started", resp.Message)
	assert.Equal(t, []string{resp.ScanID}, resp.ScanIDs)

	env.manager.Wait()

	rec = env.do(t, "GET", "/api/scan/"+resp.ScanID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var job map[string]interface{}
	decode(t, rec, &job)
	assert.Equal(t, resp.ScanID, job["id"])
	assert.Equal(t, "example.com", job["target"])
	assert.Equal(t, "completed", job["status"])
	assert.Equal(t, float64(100), job["progress"])
	assert.Equal(t, "out.json", job["output_file"])
	assert.Equal(t, float64(1), job["total_subdomains"])
	assert.NotEmpty(t, job["start_time"])
	assert.NotNil(t, job["end_time"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"subdomain": "www.example.com", "tool": "subfinder"},
	}, job["results"])
}

func TestServer_StartScanErrors(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{"target":`, http.StatusBadRequest},
		{"missing target", `{}`, http.StatusBadRequest},
		{"invalid target", `{"target":"-oG /tmp/x"}`, http.StatusBadRequest},
		{"invalid format", `{"target":"example.com","output_format":"xml"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/api/scan", tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var resp jobs.ErrorResponse
			decode(t, rec, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestServer_TargetList(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "POST", "/api/scan", `{"target_list":"a.com\nb.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobs.ScanResponse
	decode(t, rec, &resp)
	assert.Len(t, resp.ScanIDs, 2)
	assert.Equal(t, resp.ScanIDs[0], resp.ScanID)

	env.manager.Wait()

	rec = env.do(t, "GET", "/api/scans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobs.Job
	decode(t, rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "a.com", list[0].Target)
	assert.Equal(t, "b.com", list[1].Target)
}

func TestServer_ScanNotFound(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "GET", "/api/scan/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Scan not found"}`, rec.Body.String())
}

func TestServer_ListScansEmpty(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "GET", "/api/scans", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_ResultsAndDownload(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "GET", "/api/results", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	path := filepath.Join(env.writer.Dir(), "subdomains_example.com_1.txt")
	require.NoError(t, os.WriteFile(path, []byte("www.example.com\n"), 0o644))

	rec = env.do(t, "GET", "/api/results", "")
	var files []map[string]interface{}
	decode(t, rec, &files)
	require.Len(t, files, 1)
	assert.Equal(t, "subdomains_example.com_1.txt", files[0]["filename"])
	assert.Equal(t, "/api/download/subdomains_example.com_1.txt", files[0]["path"])
	assert.Equal(t, float64(16), files[0]["size"])
	assert.NotEmpty(t, files[0]["created"])

	rec = env.do(t, "GET", "/api/download/subdomains_example.com_1.txt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "www.example.com\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "subdomains_example.com_1.txt")

	rec = env.do(t, "GET", "/api/download/missing.txt", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "GET", "/api/download/..%2f..%2fetc%2fpasswd", "")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestServer_InstalledTools(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "GET", "/api/installed_tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subfinder":true,"amass":false}`, rec.Body.String())
}

func TestServer_IndexHealthMetrics(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "GET", "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "EventSource('/api/events')")

	rec = env.do(t, "GET", "/healthz", "")
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subarg_http_requests_total")
}

func TestServer_HealthFailure(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))
	env.server.deps.HealthCheck = func(ctx context.Context) error { return errors.New("database unreachable") }

	rec := env.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","error":"database unreachable"}`, rec.Body.String())
}

func TestServer_UnknownRoute(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "GET", "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses the stream until stop returns true or the stream ends
func readEvents(t *testing.T, scanner *bufio.Scanner, stop func(sseEvent) bool) []sseEvent {
	t.Helper()

	var events []sseEvent
	var current sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			if stop(current) {
				return events
			}
			current = sseEvent{}
		}
	}
	return events
}

func TestServer_EventStream(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, runFunc(func(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error) {
		<-release
		return quickScan(ctx, opts, hooks)
	}))

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	connected := readEvents(t, scanner, func(sseEvent) bool { return true })
	require.Len(t, connected, 1)
	assert.Equal(t, jobs.EventConnected, connected[0].name)
	assert.JSONEq(t, `{"message":"Connected to SubARG event stream"}`, connected[0].data)

	created, err := env.manager.Submit(jobs.ScanRequest{Target: "example.com"})
	require.NoError(t, err)
	close(release)

	events := readEvents(t, scanner, func(ev sseEvent) bool { return ev.name == jobs.EventScanComplete })

	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.name)
	}
	assert.Equal(t, []string{
		jobs.EventScanUpdate,
		jobs.EventScanUpdate,
		jobs.EventNewResult,
		jobs.EventScanUpdate,
		jobs.EventScanComplete,
	}, names)
	assert.JSONEq(t, `{"scan_id":"`+created[0].ID+`","subdomain":"www.example.com","tool":"subfinder"}`, events[2].data)
	assert.JSONEq(t, `{"scan_id":"`+created[0].ID+`","status":"completed","output_file":"out.txt","total_subdomains":1}`, events[4].data)
}

func TestServer_EventStreamFinishedScan(t *testing.T) {
	env := newTestEnv(t, runFunc(func(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error) {
		return nil, errors.New("no space left on device")
	}))

	created, err := env.manager.Submit(jobs.ScanRequest{Target: "example.com"})
	require.NoError(t, err)
	env.manager.Wait()

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events?scan_id=" + created[0].ID)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(t, bufio.NewScanner(resp.Body), func(sseEvent) bool { return false })
	require.Len(t, events, 2)
	assert.Equal(t, jobs.EventConnected, events[0].name)
	assert.Equal(t, jobs.EventScanError, events[1].name)
	assert.JSONEq(t, `{"scan_id":"`+created[0].ID+`","error":"no space left on device","status":"failed"}`, events[1].data)
}

func TestServer_EventStreamEndsAfterResultBurst(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, runFunc(func(ctx context.Context, opts scan.Options, hooks scan.Hooks) (*scan.Result, error) {
		<-release
		for i := 0; i < 1000; i++ {
			hooks.OnResult(fmt.Sprintf("host%d.%s", i, opts.Target), "crt.sh")
		}
		return &scan.Result{Target: opts.Target, OutputFile: "out.txt", Total: 1000}, nil
	}))

	created, err := env.manager.Submit(jobs.ScanRequest{Target: "example.com"})
	require.NoError(t, err)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events?scan_id=" + created[0].ID)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	connected := readEvents(t, scanner, func(sseEvent) bool { return true })
	require.Len(t, connected, 1)
	close(release)

	done := make(chan []sseEvent, 1)
	go func() {
		done <- readEvents(t, scanner, func(sseEvent) bool { return false })
	}()

	select {
	case events := <-done:
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, jobs.EventScanComplete, last.name)
		assert.JSONEq(t, `{"scan_id":"`+created[0].ID+`","status":"completed","output_file":"out.txt","total_subdomains":1000}`, last.data)
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not end after the scan completed")
	}
}

func TestServer_EventStreamUnknownScan(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	rec := env.do(t, "GET", "/api/events?scan_id=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GracefulShutdown(t *testing.T) {
	env := newTestEnv(t, runFunc(quickScan))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
