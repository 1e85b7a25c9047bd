package core

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sink receives the encoded output images of a run, one at a time.
type Sink interface {
	Put(name string, data []byte) error
}

// ErrInvalidOutputName is returned for output names that would escape the
// destination (path separators or parent references).
var ErrInvalidOutputName = errors.New("invalid output name")

func checkOutputName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidOutputName, name)
	}
	return nil
}

// DirSink writes outputs into a destination folder.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed and returns a sink writing into it.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination folder: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Dir returns the destination folder.
func (s *DirSink) Dir() string {
	return s.dir
}

// Put writes data to dir/name, replacing any existing file.
func (s *DirSink) Put(name string, data []byte) error {
	if err := checkOutputName(name); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, name), data, 0o644)
}

// ZipSink builds a deflate-compressed archive.
type ZipSink struct {
	zw    *zip.Writer
	count int
}

// NewZipSink returns a sink writing an archive to w. Close must be called to
// write the archive directory.
func NewZipSink(w io.Writer) *ZipSink {
	return &ZipSink{zw: zip.NewWriter(w)}
}

// Put adds an entry. Duplicate names produce duplicate entries.
func (s *ZipSink) Put(name string, data []byte) error {
	if err := checkOutputName(name); err != nil {
		return err
	}
	w, err := s.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("create zip entry: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write zip entry: %w", err)
	}
	s.count++
	return nil
}

// Count returns the number of entries written.
func (s *ZipSink) Count() int {
	return s.count
}

// Close finishes the archive.
func (s *ZipSink) Close() error {
	return s.zw.Close()
}
