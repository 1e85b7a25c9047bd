package web

import (
	"net/http"

	"github.com/JonMunkholm/skurename/internal/web/templates"
	"github.com/go-chi/chi/v5"
)

// defaultHistoryLimit is the number of runs shown when no limit is given.
const defaultHistoryLimit = 50

// handleIndex renders the start page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := templates.Index(templates.IndexData{
		FolderMode:  s.service.FolderMode(),
		CounterMode: s.service.CounterMode(),
		Limiter:     s.service.LimiterStatus(),
	})
	render(w, r, templates.Layout("New run", page))
}

// handleHistoryPage renders recent runs.
func (s *Server) handleHistoryPage(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.History(r.Context(), parseIntParam(r, "limit", defaultHistoryLimit))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	render(w, r, templates.Layout("History", templates.History(records)))
}

// handleRunPage renders a run: progress while it runs, the summary after.
func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	progress, err := s.service.Progress(runID)
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}
	if !progress.Phase.Done() {
		render(w, r, templates.Layout("Run in progress", templates.RunPending(progress)))
		return
	}

	res, err := s.service.Wait(r.Context(), runID)
	if err != nil {
		writeError(w, r, runErrorStatus(err), err)
		return
	}
	render(w, r, templates.Layout("Run result", templates.RunPage(res)))
}
