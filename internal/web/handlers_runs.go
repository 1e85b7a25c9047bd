package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/JonMunkholm/skurename/internal/logging"
	"github.com/go-chi/chi/v5"
)

// startResponse is returned when a run has been accepted.
type startResponse struct {
	RunID       string `json:"runId"`
	ProgressURL string `json:"progressUrl"`
	ResultURL   string `json:"resultUrl"`
	PageURL     string `json:"pageUrl"`
}

func newStartResponse(runID string) startResponse {
	base := "/api/runs/" + runID
	return startResponse{
		RunID:       runID,
		ProgressURL: base + "/progress",
		ResultURL:   base + "/result",
		PageURL:     "/runs/" + runID,
	}
}

// resultResponse is a finished run with its summary metrics.
type resultResponse struct {
	*core.RunResult
	Phase       core.RunPhase     `json:"phase"`
	Total       int               `json:"total"`
	Processed   int               `json:"processed"`
	Failures    int               `json:"failures"`
	SuccessRate float64           `json:"successRate"`
	Dropped     int               `json:"dropped"`
	Downloads   map[string]string `json:"downloads"`
}

func newResultResponse(res *core.RunResult) resultResponse {
	base := "/api/runs/" + res.RunID
	resp := resultResponse{
		RunResult: res,
		Phase:     res.Phase(),
		Dropped:   res.Dropped(),
		Downloads: map[string]string{"log": base + "/log"},
	}
	if r := res.Result; r != nil {
		resp.Total = r.Total
		resp.Processed = r.Succeeded
		resp.Failures = r.Failed()
		resp.SuccessRate = r.SuccessRate()
	}
	if res.HasArchive() {
		resp.Downloads["archive"] = base + "/archive"
	}
	if res.HasCSV() {
		resp.Downloads["csv"] = base + "/csv"
	}
	return resp
}

// handleStartRun starts a run on an uploaded archive.
//
// Form fields: csv (mapping table), archive (ZIP of images) and optional
// counter_mode ("shared" or "per_code").
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	mapping, mappingName, err := formFile(r, "csv")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	archivePath, header, err := s.saveFormFile(r, "archive", "upload-*.zip")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	runID, err := s.service.StartRun(withClientIP(r), core.RunRequest{
		Source:        core.SourceArchive,
		MappingName:   mappingName,
		Mapping:       mapping,
		ArchivePath:   archivePath,
		ArchiveName:   header.Filename,
		RemoveArchive: true,
		CounterMode:   core.CounterMode(r.FormValue("counter_mode")),
	})
	if err != nil {
		os.Remove(archivePath)
		writeError(w, r, runErrorStatus(err), err)
		return
	}

	logging.WithRun(r.Context(), runID).Info("archive run accepted",
		"archive", header.Filename,
		"bytes", header.Size,
	)
	writeJSON(w, http.StatusAccepted, newStartResponse(runID))
}

// handleStartFolderRun starts a run on server-local folders.
//
// Form fields: csv (mapping table), source_dir, dest_dir and optional
// counter_mode.
func (s *Server) handleStartFolderRun(w http.ResponseWriter, r *http.Request) {
	if !s.service.FolderMode() {
		writeError(w, r, http.StatusForbidden, core.ErrFolderModeDisabled)
		return
	}
	if err := s.parseForm(w, r); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	mapping, mappingName, err := formFile(r, "csv")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	src := strings.TrimSpace(r.FormValue("source_dir"))
	dest := strings.TrimSpace(r.FormValue("dest_dir"))
	if src == "" || dest == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: source_dir and dest_dir are required", errNoFile))
		return
	}

	runID, err := s.service.StartRun(withClientIP(r), core.RunRequest{
		Source:      core.SourceFolder,
		MappingName: mappingName,
		Mapping:     mapping,
		SourceDir:   src,
		DestDir:     dest,
		CounterMode: core.CounterMode(r.FormValue("counter_mode")),
	})
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}

	logging.WithRun(r.Context(), runID).Info("folder run accepted", "source_dir", src, "dest_dir", dest)
	writeJSON(w, http.StatusAccepted, newStartResponse(runID))
}

// handleRunProgress streams run progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter or Last-Event-ID
// header; the event ID is the processed image count.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastEventID := -1
	if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	var last core.RunProgress

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// A slow stream may have missed the terminal update.
				if final, err := s.service.Progress(runID); err == nil {
					last = final
				}
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				rc.Flush()
				return
			}
			last = progress

			// Skip what a reconnecting client already has, but never the
			// terminal phase.
			if progress.Current <= lastEventID && !progress.Phase.Done() {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Current, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleRunResult returns a finished run, or 202 with its progress while it
// is still running.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	progress, err := s.service.Progress(runID)
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}
	if !progress.Phase.Done() {
		writeJSON(w, http.StatusAccepted, progress)
		return
	}

	res, err := s.service.Wait(r.Context(), runID)
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

// handleDownloadArchive streams the renamed images of an archive run.
func (s *Server) handleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	rc, res, err := s.service.OpenArchive(r.Context(), runID)
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}
	defer rc.Close()

	attachment(w, "application/zip", core.ArchiveName(res.FinishedAt))
	n, err := io.Copy(w, rc)
	log := logging.WithRun(r.Context(), runID)
	if err != nil {
		log.Warn("archive download interrupted", "bytes", n, "error", err)
		return
	}
	log.Info("archive downloaded", "bytes", n)
}

// handleDownloadCSV returns the mapping table annotated with the IMAGES column.
func (s *Server) handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	data, res, err := s.service.AnnotatedCSV(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}

	attachment(w, "text/csv; charset=utf-8", res.CSVName)
	w.Write(data)
}

// handleDownloadLog returns the run log as text.
func (s *Server) handleDownloadLog(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Wait(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}

	attachment(w, "text/plain; charset=utf-8", core.LogName(res.FinishedAt))
	io.WriteString(w, res.Log())
}

// handleCancelRun stops a run. Browser form posts are sent back to the run page.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.service.Cancel(runID); err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}
	logging.WithRun(r.Context(), runID).Info("run cancel requested")

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/runs/"+runID, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleHistory returns recent runs as JSON.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.History(r.Context(), parseIntParam(r, "limit", defaultHistoryLimit))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []core.RunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleHealth reports liveness and run slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.service.LimiterStatus(),
	})
}
