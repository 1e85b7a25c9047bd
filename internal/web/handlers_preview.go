package web

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/JonMunkholm/skurename/internal/core"
)

// previewSampleSize is the number of images listed in an archive preview.
const previewSampleSize = 20

// archivePreview describes what a run on an archive would process.
type archivePreview struct {
	Images  int                 `json:"images"`
	Dropped int                 `json:"dropped"`
	Groups  []core.GroupSummary `json:"groups"`
	// Mapped and Unmapped are set when a mapping table was sent too.
	Mapped   *int           `json:"mapped,omitempty"`
	Unmapped *int           `json:"unmapped,omitempty"`
	Sample   []previewImage `json:"sample"`
}

// folderPreview describes what a run on server folders would process.
type folderPreview struct {
	archivePreview
	SourceDir string   `json:"sourceDir"`
	DestDir   string   `json:"destDir,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	// DestExists is false when the run would create the destination.
	DestExists bool `json:"destExists"`
}

type previewImage struct {
	Path   string `json:"path"`
	Code   string `json:"code"`
	SKU    string `json:"sku,omitempty"`
	Mapped bool   `json:"mapped"`
}

// handlePreviewMapping parses a mapping table and reports what it contains.
func (s *Server) handlePreviewMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, _, err := formFile(r, "csv")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	table, err := core.LoadMapping(bytes.NewReader(data))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, core.PreviewMapping(table))
}

// handlePreviewArchive lists the images a run on the uploaded archive would
// process. With a "csv" part it also reports which codes are mapped.
func (s *Server) handlePreviewArchive(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("archive")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: archive", errNoFile))
		return
	}
	defer file.Close()

	var table *core.MappingTable
	if data, _, err := formFile(r, "csv"); err == nil {
		if table, err = core.LoadMapping(bytes.NewReader(data)); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}

	enum, err := core.ScanZip(file, header.Size)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, previewImages(enum, table))
}

// handlePreviewFolder checks the folders of a folder run before it starts:
// images per subfolder and whether the destination exists.
//
// Form fields: source_dir, optional dest_dir and optional csv.
func (s *Server) handlePreviewFolder(w http.ResponseWriter, r *http.Request) {
	if !s.service.FolderMode() {
		writeError(w, r, http.StatusForbidden, core.ErrFolderModeDisabled)
		return
	}
	if err := s.parseForm(w, r); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	src := strings.TrimSpace(r.FormValue("source_dir"))
	dest := strings.TrimSpace(r.FormValue("dest_dir"))
	if src == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: source_dir is required", errNoFile))
		return
	}

	var table *core.MappingTable
	if data, _, err := formFile(r, "csv"); err == nil {
		if table, err = core.LoadMapping(bytes.NewReader(data)); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}

	enum, err := core.ScanDir(src)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	p := folderPreview{
		archivePreview: previewImages(enum, table),
		SourceDir:      src,
		DestDir:        dest,
		Skipped:        enum.Skipped,
	}
	if dest != "" {
		info, err := os.Stat(dest)
		switch {
		case err == nil && !info.IsDir():
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("create destination folder: %s is not a directory", dest))
			return
		case err == nil:
			p.DestExists = true
		case !errors.Is(err, fs.ErrNotExist):
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("create destination folder: %w", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, p)
}

func previewImages(enum *core.Enumeration, table *core.MappingTable) archivePreview {
	p := archivePreview{
		Images: enum.Count(),
		Groups: enum.Groups,
		Sample: []previewImage{},
	}
	for _, g := range enum.Groups {
		p.Dropped += g.Dropped()
	}

	mapped := 0
	for i, ref := range enum.Refs {
		code, _ := core.SplitName(ref.Name())
		img := previewImage{Path: ref.Path(), Code: code}
		if table != nil {
			img.SKU, img.Mapped = table.Lookup(code)
			if img.Mapped {
				mapped++
			}
		}
		if i < previewSampleSize {
			p.Sample = append(p.Sample, img)
		}
	}
	if table != nil {
		unmapped := p.Images - mapped
		p.Mapped, p.Unmapped = &mapped, &unmapped
	}
	return p
}
