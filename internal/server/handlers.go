package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/subarg/internal/jobs"
	"github.com/subarg/internal/utils"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jobs.ErrorResponse{Error: "index page unavailable"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthCheck != nil {
		if err := s.deps.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req jobs.ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, jobs.ErrorResponse{Error: "Invalid request body"})
		return
	}

	created, err := s.deps.Manager.Submit(req)
	if err != nil {
		var invalid *jobs.InvalidTargetError
		switch {
		case errors.Is(err, jobs.ErrNoTarget), errors.Is(err, jobs.ErrInvalidFormat), errors.As(err, &invalid):
			writeJSON(w, http.StatusBadRequest, jobs.ErrorResponse{Error: err.Error()})
		case errors.Is(err, jobs.ErrShuttingDown):
			writeJSON(w, http.StatusServiceUnavailable, jobs.ErrorResponse{Error: err.Error()})
		default:
			utils.FromContext(r.Context()).WithError(err).Error("Failed to start scan")
			writeJSON(w, http.StatusInternalServerError, jobs.ErrorResponse{Error: "Failed to start scan"})
		}
		return
	}

	ids := make([]string, 0, len(created))
	for _, job := range created {
		ids = append(ids, job.ID)
	}

	utils.FromContext(r.Context()).WithField("scan_ids", ids).Info("Scan started")
	writeJSON(w, http.StatusOK, jobs.ScanResponse{
		ScanID:  ids[0],
		ScanIDs: ids,
		Message: "Scan started",
	})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	job, ok := s.deps.Manager.Get(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, jobs.ErrorResponse{Error: "Scan not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Manager.List())
}

func (s *Server) handleRecentResults(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Writer.List(recentResultsLimit)
	if err != nil {
		utils.FromContext(r.Context()).WithError(err).Error("Failed to list results")
		writeJSON(w, http.StatusInternalServerError, jobs.ErrorResponse{Error: "Failed to list results"})
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	path, err := s.deps.Writer.Resolve(filename)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			utils.FromContext(r.Context()).WithError(err).WithField("filename", filename).Debug("Rejected download")
		}
		writeJSON(w, http.StatusNotFound, jobs.ErrorResponse{Error: "File not found"})
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	http.ServeFile(w, r, path)
}

func (s *Server) handleInstalledTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tools.Detect())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
