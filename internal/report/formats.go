package report

import (
	"bufio"
	"encoding/json"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
)

func writeJSON(w io.Writer, r *Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

func writeCSV(w io.Writer, r *Report) error {
	rows := r.rows()
	return gocsv.Marshal(&rows, w)
}

func writeTXT(w io.Writer, r *Report) error {
	buf := bufio.NewWriter(w)
	rule := strings.Repeat("=", 50)

	buf.WriteString("# SubARG Results - " + r.Domain + "\n")
	buf.WriteString("# Generated: " + r.GeneratedAt.Format(time.ANSIC) + "\n")
	buf.WriteString("# Total Subdomains: " + strconv.Itoa(r.TotalSubdomains) + "\n")
	buf.WriteString("# Resolved: " + strconv.Itoa(r.ResolvedSubdomains) + "\n")
	buf.WriteString("# Live Services: " + strconv.Itoa(r.LiveSubdomains) + "\n")
	if r.ToolsUsed.HttprobeUsedAsFallback {
		buf.WriteString("# Note: HTTPROBE used as fallback for live detection\n")
	}
	buf.WriteString("\n")
	buf.WriteString(rule + "\n")
	buf.WriteString("SUB DOMAINS:\n")
	buf.WriteString(rule + "\n")
	for _, sub := range r.Subdomains {
		buf.WriteString(sub + "\n")
	}

	return buf.Flush()
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>SubARG Results - {{.Report.Domain}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        h1 { color: #333; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .tool-info { background-color: #e8f4fd; padding: 10px; border-radius: 5px; margin: 10px 0; }
    </style>
</head>
<body>
    <h1>Subdomain Enumeration Results</h1>
    <p><strong>Target:</strong> {{.Report.Domain}}</p>
    <p><strong>Total Subdomains Found:</strong> {{.Report.TotalSubdomains}}</p>
    <p><strong>Resolved:</strong> {{.Report.ResolvedSubdomains}}</p>
    <p><strong>Live Services:</strong> {{.Report.LiveSubdomains}}</p>
{{- if .Report.ToolsUsed.HttprobeUsedAsFallback}}
    <div class="tool-info">
        <strong>Note:</strong> HTTPROBE was used as a fallback tool for live subdomain detection.
    </div>
{{- end}}
    <h2>Subdomains</h2>
    <table>
        <tr><th>Subdomain</th><th>Status</th><th>Resolved</th><th>Live</th></tr>
{{- range .Rows}}
        <tr><td>{{.Subdomain}}</td><td>{{.Status}}</td><td>{{.Resolved}}</td><td>{{.Live}}</td></tr>
{{- end}}
    </table>
</body>
</html>
`))

func writeHTML(w io.Writer, r *Report) error {
	return htmlTemplate.Execute(w, struct {
		Report *Report
		Rows   []row
	}{
		Report: r,
		Rows:   r.rows(),
	})
}
