package report

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	w.now = func() time.Time { return fixedNow }
	return w
}

func sampleReport() *Report {
	return New(
		"example.com",
		[]string{"www.example.com", "api.example.com", "dev.example.com"},
		[]string{"api.example.com", "www.example.com"},
		[]string{"https://www.example.com"},
		[]string{"www.example.com"},
		ToolsUsed{HttpxAvailable: false, HttprobeAvailable: true, HttprobeUsedAsFallback: true},
	)
}

func readFile(t *testing.T, w *Writer, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(w.Dir(), name))
	require.NoError(t, err)
	return string(data)
}

// countRows extracts the number of subdomain entries from a rendered report
func countRows(t *testing.T, format, content string) int {
	t.Helper()
	switch format {
	case FormatJSON:
		var decoded Report
		require.NoError(t, json.Unmarshal([]byte(content), &decoded))
		assert.Equal(t, decoded.TotalSubdomains, len(decoded.Subdomains))
		return len(decoded.Subdomains)
	case FormatCSV:
		var rows []row
		require.NoError(t, gocsv.UnmarshalString(content, &rows))
		return len(rows)
	case FormatHTML:
		return strings.Count(content, "<tr><td>")
	default:
		parts := strings.SplitN(content, "SUB DOMAINS:\n"+strings.Repeat("=", 50)+"\n", 2)
		require.Len(t, parts, 2)
		return len(strings.Fields(parts[1]))
	}
}

func TestWriter_CountsRoundTrip(t *testing.T) {
	sets := [][]string{
		nil,
		{"a.example.com"},
		{"a.example.com", "b.example.com", "c.example.com", "d.example.com"},
	}

	for _, format := range []string{FormatTXT, FormatCSV, FormatJSON, FormatHTML} {
		for _, subs := range sets {
			t.Run(format, func(t *testing.T) {
				w := newTestWriter(t)
				rep := New("example.com", subs, nil, nil, nil, ToolsUsed{})

				name, err := w.Write(rep, format, "")
				require.NoError(t, err)

				assert.Equal(t, len(subs), rep.TotalSubdomains)
				assert.Equal(t, len(subs), countRows(t, format, readFile(t, w, name)))
			})
		}
	}
}

func TestWriter_TXT(t *testing.T) {
	w := newTestWriter(t)

	name, err := w.Write(sampleReport(), "txt", "")
	require.NoError(t, err)
	assert.Equal(t, "subdomains_example.com_1714564800.txt", name)

	expected := strings.Join([]string{
		"# SubARG Results - example.com",
		"# Generated: Wed May  1 12:00:00 2024",
		"# Total Subdomains: 3",
		"# Resolved: 2",
		"# Live Services: 1",
		"# Note: HTTPROBE used as fallback for live detection",
		"",
		strings.Repeat("=", 50),
		"SUB DOMAINS:",
		strings.Repeat("=", 50),
		"api.example.com",
		"dev.example.com",
		"www.example.com",
		"",
	}, "\n")
	assert.Equal(t, expected, readFile(t, w, name))
}

func TestWriter_CSV(t *testing.T) {
	w := newTestWriter(t)

	name, err := w.Write(sampleReport(), "CSV", "scan")
	require.NoError(t, err)
	assert.Equal(t, "scan.csv", name)

	expected := "Subdomain,Status,Resolved,Live\n" +
		"api.example.com,Active,Yes,No\n" +
		"dev.example.com,Active,No,No\n" +
		"www.example.com,Active,Yes,Yes\n"
	assert.Equal(t, expected, readFile(t, w, name))
}

func TestWriter_JSON(t *testing.T) {
	w := newTestWriter(t)

	name, err := w.Write(sampleReport(), "json", "")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(readFile(t, w, name)), &decoded))

	assert.Equal(t, "example.com", decoded["domain"])
	assert.Equal(t, float64(fixedNow.Unix()), decoded["timestamp"])
	assert.Equal(t, float64(3), decoded["total_subdomains"])
	assert.Equal(t, float64(2), decoded["resolved_subdomains"])
	assert.Equal(t, float64(1), decoded["live_subdomains"])
	assert.Equal(t, map[string]interface{}{
		"httpx_available":           false,
		"httprobe_available":        true,
		"httprobe_used_as_fallback": true,
	}, decoded["tools_used"])
	assert.Equal(t, []interface{}{"https://www.example.com"}, decoded["live"])
	assert.NotContains(t, decoded, "LiveHosts")
}

func TestWriter_HTMLEscapes(t *testing.T) {
	w := newTestWriter(t)
	rep := New("example.com", []string{"<script>.example.com"}, nil, nil, nil, ToolsUsed{})

	name, err := w.Write(rep, "html", "")
	require.NoError(t, err)

	content := readFile(t, w, name)
	assert.Contains(t, content, "<title>SubARG Results - example.com</title>")
	assert.Contains(t, content, "&lt;script&gt;.example.com")
	assert.NotContains(t, content, "<td><script>")
	assert.NotContains(t, content, "HTTPROBE was used")
}

func TestWriter_Filename(t *testing.T) {
	w := newTestWriter(t)

	tests := []struct {
		custom string
		format string
		want   string
	}{
		{"", "txt", "subdomains_example.com_1714564800.txt"},
		{"", "xml", "subdomains_example.com_1714564800.txt"},
		{"my-scan", "json", "my-scan.json"},
		{"my-scan.json", "json", "my-scan.json"},
		{"report.csv", "json", "report.json"},
		{"Report.HTML", "txt", "Report.txt"},
		{"report_example.com", "txt", "report_example.com.txt"},
		{"../../etc/passwd", "txt", "passwd.txt"},
		{"/abs/path/out", "html", "out.html"},
		{"..", "csv", "subdomains_example.com_1714564800.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.custom+"/"+tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Filename("example.com", tt.format, tt.custom))
		})
	}
}

func TestWriter_RenderFailureRemovesFile(t *testing.T) {
	w := newTestWriter(t)
	w.renderers = map[string]renderFunc{
		FormatTXT: func(out io.Writer, r *Report) error {
			_, _ = io.WriteString(out, "# SubARG Results - partial\n")
			return errors.New("disk full")
		},
	}

	_, err := w.Write(New("example.com", []string{"www.example.com"}, nil, nil, nil, ToolsUsed{}), "txt", "broken")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(w.Dir(), "broken.txt"))
	assert.True(t, os.IsNotExist(statErr))

	files, err := w.List(10)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestWriter_ListNewestFirst(t *testing.T) {
	w := newTestWriter(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		name := filepath.Join(w.Dir(), "report_"+string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
		mod := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(name, mod, mod))
	}
	require.NoError(t, os.Mkdir(filepath.Join(w.Dir(), "subdir"), 0o755))

	files, err := w.List(10)
	require.NoError(t, err)

	require.Len(t, files, 10)
	assert.Equal(t, "report_l.txt", files[0].Filename)
	assert.Equal(t, "/api/download/report_l.txt", files[0].Path)
	assert.Equal(t, int64(1), files[0].Size)
	assert.Equal(t, "report_c.txt", files[9].Filename)
}

func TestWriter_ListEmpty(t *testing.T) {
	files, err := newTestWriter(t).List(10)
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestWriter_Resolve(t *testing.T) {
	w := newTestWriter(t)
	name, err := w.Write(sampleReport(), "txt", "")
	require.NoError(t, err)

	path, err := w.Resolve(name)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Dir(), name), path)

	for _, bad := range []string{"", "..", "../secret.txt", "a/b.txt"} {
		_, err := w.Resolve(bad)
		assert.ErrorIs(t, err, ErrInvalidFilename, bad)
	}

	_, err = w.Resolve("missing.txt")
	assert.True(t, os.IsNotExist(err))
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, FormatHTML, NormalizeFormat(" HTML "))
	assert.Equal(t, FormatTXT, NormalizeFormat("pdf"))
	assert.Equal(t, FormatTXT, NormalizeFormat(""))
}
