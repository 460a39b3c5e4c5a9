// Package report writes scan results to the results directory in txt, csv, json or html.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Supported formats
const (
	FormatTXT  = "txt"
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatHTML = "html"
)

type renderFunc func(w io.Writer, r *Report) error

var renderers = map[string]renderFunc{
	FormatTXT:  writeTXT,
	FormatCSV:  writeCSV,
	FormatJSON: writeJSON,
	FormatHTML: writeHTML,
}

// ErrInvalidFilename is returned when a requested report name escapes the results directory
var ErrInvalidFilename = errors.New("invalid report filename")

// ToolsUsed records which probing tools were available and used
type ToolsUsed struct {
	HttpxAvailable         bool `json:"httpx_available"`
	HttprobeAvailable      bool `json:"httprobe_available"`
	HttprobeUsedAsFallback bool `json:"httprobe_used_as_fallback"`
}

// Report is the persisted outcome of one scan
type Report struct {
	Domain             string    `json:"domain"`
	Timestamp          float64   `json:"timestamp"`
	TotalSubdomains    int       `json:"total_subdomains"`
	ResolvedSubdomains int       `json:"resolved_subdomains"`
	LiveSubdomains     int       `json:"live_subdomains"`
	ToolsUsed          ToolsUsed `json:"tools_used"`
	Subdomains         []string  `json:"subdomains"`
	Resolved           []string  `json:"resolved"`
	Live               []string  `json:"live"`

	// LiveHosts holds the hostnames behind Live, used for per-row status
	LiveHosts []string `json:"-"`
	// GeneratedAt drives the timestamp fields; zero means now
	GeneratedAt time.Time `json:"-"`
}

// New builds a report with counts derived from the lists
func New(domain string, subdomains, resolved, live, liveHosts []string, tools ToolsUsed) *Report {
	sorted := append([]string(nil), subdomains...)
	sort.Strings(sorted)

	return &Report{
		Domain:             domain,
		TotalSubdomains:    len(sorted),
		ResolvedSubdomains: len(resolved),
		LiveSubdomains:     len(live),
		ToolsUsed:          tools,
		Subdomains:         nonNil(sorted),
		Resolved:           nonNil(resolved),
		Live:               nonNil(live),
		LiveHosts:          liveHosts,
	}
}

// row is one subdomain with its resolution and liveness flags
type row struct {
	Subdomain string `csv:"Subdomain"`
	Status    string `csv:"Status"`
	Resolved  string `csv:"Resolved"`
	Live      string `csv:"Live"`
}

func (r *Report) rows() []row {
	resolved := toSet(r.Resolved)
	live := toSet(r.LiveHosts)

	rows := make([]row, 0, len(r.Subdomains))
	for _, sub := range r.Subdomains {
		rows = append(rows, row{
			Subdomain: sub,
			Status:    "Active",
			Resolved:  yesNo(resolved[sub]),
			Live:      yesNo(live[sub]),
		})
	}
	return rows
}

// FileInfo describes a report file in the results directory
type FileInfo struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Created  string `json:"created"`

	modTime time.Time
}

// Writer persists reports under a results directory
type Writer struct {
	dir       string
	now       func() time.Time
	renderers map[string]renderFunc
}

// NewWriter creates the results directory if needed
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory %s: %w", dir, err)
	}
	return &Writer{dir: dir, now: time.Now, renderers: renderers}, nil
}

// Dir returns the results directory
func (w *Writer) Dir() string {
	return w.dir
}

// NormalizeFormat lowercases format and falls back to txt for unknown values
func NormalizeFormat(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case FormatTXT, FormatCSV, FormatJSON, FormatHTML:
		return f
	default:
		return FormatTXT
	}
}

// Filename builds the report file name for target. Custom names are reduced
// to their base name and lose any report extension they carry.
func (w *Writer) Filename(target, format, custom string) string {
	format = NormalizeFormat(format)
	ext := "." + format

	name := strings.TrimSpace(custom)
	if name != "" {
		name = filepath.Base(filepath.Clean("/" + name))
		name = trimReportExt(name)
	}
	if name == "" || name == "/" || name == "." || name == ".." {
		name = fmt.Sprintf("subdomains_%s_%d", target, w.now().Unix())
	}

	return name + ext
}

func trimReportExt(name string) string {
	ext := filepath.Ext(name)
	if _, ok := renderers[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// Write renders report in format and returns the file name inside the results directory
func (w *Writer) Write(report *Report, format, filename string) (string, error) {
	format = NormalizeFormat(format)
	name := w.Filename(report.Domain, format, filename)

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = w.now()
	}
	report.Timestamp = float64(report.GeneratedAt.UnixNano()) / 1e9

	path := filepath.Join(w.dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report %s: %w", name, err)
	}

	render, ok := w.renderers[format]
	if !ok {
		render = writeTXT
	}

	// A partial report must not show up in List
	if err := render(file, report); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s report %s: %w", format, name, err)
	}

	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close report %s: %w", name, err)
	}

	return name, nil
}

// List returns up to limit report files, newest first
func (w *Writer) List(limit int) ([]FileInfo, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	files := []FileInfo{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Filename: entry.Name(),
			Path:     "/api/download/" + entry.Name(),
			Size:     info.Size(),
			Created:  info.ModTime().Format(time.RFC3339),
			modTime:  info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].Filename > files[j].Filename
		}
		return files[i].modTime.After(files[j].modTime)
	})

	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

// Resolve returns the absolute path of a report, refusing names that leave the results directory
func (w *Writer) Resolve(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", ErrInvalidFilename
	}

	path := filepath.Join(w.dir, filename)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", ErrInvalidFilename
	}
	return path, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
