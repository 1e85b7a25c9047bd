package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/a-h/templ"
)

// multipartMemory is the part of a form kept in memory; larger files spill to disk.
const multipartMemory = 32 << 20

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// render writes an HTML component.
func render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		slog.ErrorContext(r.Context(), "render failed", "path", r.URL.Path, "error", err)
	}
}

// parseForm bounds the body and parses a multipart form.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, maxErr.Limit)
		}
		return fmt.Errorf("%w: %v", errFileTooLarge, err)
	}
	return nil
}

// formFile reads a whole uploaded file.
func formFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", errNoFile, field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", field, err)
	}
	return data, header.Filename, nil
}

// saveFormFile copies an uploaded file into the work directory and returns
// its path. The caller owns the file.
func (s *Server) saveFormFile(r *http.Request, field, pattern string) (string, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", errNoFile, field)
	}
	defer file.Close()

	tmp, err := os.CreateTemp(s.cfg.Upload.WorkDir, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("save %s: %w", field, err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("save %s: %w", field, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("save %s: %w", field, err)
	}
	return tmp.Name(), header, nil
}

// attachment sets the headers of a file download.
func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}
