package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/subarg/internal/jobs"
)

// handleEvents streams scan events. ?scan_id limits the stream to one scan
// and ends it once that scan finishes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, jobs.ErrorResponse{Error: "Streaming not supported"})
		return
	}

	scanID := r.URL.Query().Get("scan_id")
	if scanID != "" {
		if _, exists := s.deps.Manager.Get(scanID); !exists {
			writeJSON(w, http.StatusNotFound, jobs.ErrorResponse{Error: "Scan not found"})
			return
		}
	}

	events, unsubscribe := s.deps.Manager.Broker().Subscribe(scanID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sendSSE(w, flusher, jobs.EventConnected, jobs.ConnectedPayload{Message: jobs.ConnectedMessage})

	// A finished scan gets its terminal event immediately
	if scanID != "" {
		if job, _ := s.deps.Manager.Get(scanID); job.Done() {
			sendTerminal(w, flusher, job)
			return
		}
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			sendSSE(w, flusher, ev.Name, ev.Data)
			if scanID != "" && ev.Terminal() {
				return
			}
		case <-ticker.C:
			// Ends the stream even if the terminal event never reached us
			if scanID != "" {
				if job, _ := s.deps.Manager.Get(scanID); job.Done() {
					sendTerminal(w, flusher, job)
					return
				}
			}
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func sendTerminal(w http.ResponseWriter, flusher http.Flusher, job jobs.Job) {
	if job.Status == jobs.StatusFailed {
		sendSSE(w, flusher, jobs.EventScanError, jobs.ScanErrorPayload{
			ScanID: job.ID,
			Error:  job.Error,
			Status: job.Status,
		})
		return
	}

	var output string
	if job.OutputFile != nil {
		output = *job.OutputFile
	}
	sendSSE(w, flusher, jobs.EventScanComplete, jobs.ScanCompletePayload{
		ScanID:          job.ID,
		Status:          job.Status,
		OutputFile:      output,
		TotalSubdomains: job.TotalSubdomains,
	})
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	flusher.Flush()
}
