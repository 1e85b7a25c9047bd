package core

// source.go enumerates input images from a folder tree or a ZIP archive.
//
// Both sources produce the same thing: an ordered list of ImageRef values
// grouped by containing folder, with each folder capped at
// MaxImagesPerGroup images. Images beyond the cap are dropped silently and
// are not failures. Which images survive the cap depends on listing order,
// so callers must not rely on a particular image being kept.

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// imageExtensions are the accepted input extensions (lowercase, with dot).
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
}

// macOSMetadataPrefix marks resource-fork entries added by the macOS archiver.
const macOSMetadataPrefix = "__MACOSX/"

// ErrSourceNotFound is returned when the source folder does not exist.
var ErrSourceNotFound = errors.New("source folder not found")

// IsImageFile reports whether name has a supported image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// GroupSummary describes one folder of the source.
type GroupSummary struct {
	Group string `json:"group"`
	Found int    `json:"found"`
	Kept  int    `json:"kept"`
}

// Dropped returns the number of images discarded by the per-folder cap.
func (g GroupSummary) Dropped() int {
	return g.Found - g.Kept
}

// Enumeration is the ordered set of images a run will process.
type Enumeration struct {
	Kind   SourceKind     `json:"kind"`
	Refs   []ImageRef     `json:"-"`
	Groups []GroupSummary `json:"groups"`

	// Skipped lists folders that could not be read, with the reason.
	Skipped []string `json:"skipped,omitempty"`

	closer io.Closer
}

// Count returns the number of images kept.
func (e *Enumeration) Count() int {
	return len(e.Refs)
}

// Close releases the archive opened by OpenZip. It is a no-op otherwise.
func (e *Enumeration) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// groupCounter applies the per-folder cap while preserving first-seen order.
type groupCounter struct {
	order   []string
	summary map[string]*GroupSummary
}

func newGroupCounter() *groupCounter {
	return &groupCounter{summary: make(map[string]*GroupSummary)}
}

func (c *groupCounter) touch(group string) *GroupSummary {
	g, ok := c.summary[group]
	if !ok {
		g = &GroupSummary{Group: group}
		c.summary[group] = g
		c.order = append(c.order, group)
	}
	return g
}

// admit records an image in group and reports whether it fits under the cap.
func (c *groupCounter) admit(group string) bool {
	g := c.touch(group)
	g.Found++
	if g.Kept >= MaxImagesPerGroup {
		return false
	}
	g.Kept++
	return true
}

func (c *groupCounter) summaries() []GroupSummary {
	out := make([]GroupSummary, 0, len(c.order))
	for _, name := range c.order {
		if g := c.summary[name]; g.Found > 0 {
			out = append(out, *g)
		}
	}
	return out
}

// fileRef is an image on the local filesystem.
type fileRef struct {
	path  string
	group string
}

func (r fileRef) Name() string  { return filepath.Base(r.path) }
func (r fileRef) Path() string  { return r.path }
func (r fileRef) Group() string { return r.group }

func (r fileRef) Open() (io.ReadCloser, error) {
	return os.Open(r.path)
}

// ScanDir walks root recursively and returns its images, folder by folder
// in walk order, with at most MaxImagesPerGroup images per folder. Unreadable
// subfolders are skipped and listed in Skipped.
func ScanDir(root string) (*Enumeration, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, root)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, root)
	}

	counter := newGroupCounter()
	byGroup := make(map[string][]ImageRef)
	var skipped []string

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			skipped = append(skipped, fmt.Sprintf("%s: %v", relGroup(root, p), err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			counter.touch(relGroup(root, p))
			return nil
		}
		if !IsImageFile(d.Name()) {
			return nil
		}
		group := relGroup(root, filepath.Dir(p))
		if counter.admit(group) {
			byGroup[group] = append(byGroup[group], fileRef{path: p, group: group})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source: %w", err)
	}

	enum := &Enumeration{Kind: SourceFolder, Groups: counter.summaries(), Skipped: skipped}
	for _, group := range counter.order {
		enum.Refs = append(enum.Refs, byGroup[group]...)
	}
	return enum, nil
}

// relGroup names a folder relative to the walk root ("" for the root).
func relGroup(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// zipRef is an image stored in a ZIP archive.
type zipRef struct {
	file *zip.File
}

func (r zipRef) Name() string { return path.Base(r.file.Name) }
func (r zipRef) Path() string { return r.file.Name }

func (r zipRef) Group() string {
	dir := path.Dir(r.file.Name)
	if dir == "." {
		return ""
	}
	return dir
}

func (r zipRef) Open() (io.ReadCloser, error) {
	return r.file.Open()
}

// ScanZip lists the images of an archive in archive order, skipping macOS
// metadata entries and capping each folder prefix at MaxImagesPerGroup.
func ScanZip(r io.ReaderAt, size int64) (*Enumeration, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", err)
	}
	return scanZipFiles(zr.File), nil
}

// OpenZip opens an archive on disk. Close the returned Enumeration when done.
func OpenZip(name string) (*Enumeration, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", err)
	}
	enum := scanZipFiles(zr.File)
	enum.closer = zr
	return enum, nil
}

func scanZipFiles(files []*zip.File) *Enumeration {
	counter := newGroupCounter()
	enum := &Enumeration{Kind: SourceArchive}

	for _, f := range files {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if strings.Contains(f.Name, macOSMetadataPrefix) || !IsImageFile(f.Name) {
			continue
		}
		ref := zipRef{file: f}
		if counter.admit(ref.Group()) {
			enum.Refs = append(enum.Refs, ref)
		}
	}

	enum.Groups = counter.summaries()
	return enum
}
