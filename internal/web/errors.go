package web

// errors.go turns errors into responses.
//
// The technical error is logged with the request ID; the client receives the
// mapped user message and code from core.MapError, as JSON for API and HTMX
// fetches or as an HTML page otherwise.

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/JonMunkholm/skurename/internal/web/templates"
	"github.com/go-chi/chi/v5/middleware"
)

var (
	errRateLimited  = errors.New("rate limit exceeded")
	errNoFile       = errors.New("no file provided")
	errFileTooLarge = errors.New("file too large or invalid form")
)

// ErrorResponse is the JSON body of API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// writeError logs err and writes the user-facing response.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if wantsJSON(r) {
		writeJSON(w, status, ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	templates.ErrorPage(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

// runErrorStatus picks the HTTP status for a run operation error.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrRunNotFound), errors.Is(err, core.ErrOutputUnavailable):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrFolderModeDisabled):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// wantsJSON checks if the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
