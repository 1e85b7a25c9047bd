package core

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/image/bmp"
)

// memRef is an in-memory ImageRef.
type memRef struct {
	name  string
	group string
	data  []byte
}

func (r memRef) Name() string  { return r.name }
func (r memRef) Path() string  { return filepath.ToSlash(filepath.Join(r.group, r.name)) }
func (r memRef) Group() string { return r.group }
func (r memRef) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(r.data)), nil
}

// memSink records every Put, duplicates included.
type memSink struct {
	mu    sync.Mutex
	names []string
	files map[string][]byte
}

func newMemSink() *memSink {
	return &memSink{files: make(map[string][]byte)}
}

func (s *memSink) Put(name string, data []byte) error {
	if err := checkOutputName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.files[name] = data
	return nil
}

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 30), B: 120, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := testImage()
	img.Set(0, 0, color.NRGBA{R: 255, A: 0})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// exifJPEGBytes returns a JPEG whose APP1 segment carries taken
// ("YYYY:MM:DD HH:MM:SS") as DateTimeOriginal.
func exifJPEGBytes(t *testing.T, taken string) []byte {
	t.Helper()
	if len(taken) != 19 {
		t.Fatalf("taken %q is not an EXIF timestamp", taken)
	}

	// Big-endian TIFF: IFD0 at 8 holds the Exif IFD pointer, the Exif IFD
	// at 26 holds DateTimeOriginal, whose value is stored at 44.
	var tiff bytes.Buffer
	be := binary.BigEndian
	tiff.WriteString("MM")
	binary.Write(&tiff, be, uint16(42))
	binary.Write(&tiff, be, uint32(8))

	binary.Write(&tiff, be, uint16(1))
	binary.Write(&tiff, be, uint16(0x8769)) // ExifIFDPointer
	binary.Write(&tiff, be, uint16(4))      // LONG
	binary.Write(&tiff, be, uint32(1))
	binary.Write(&tiff, be, uint32(26))
	binary.Write(&tiff, be, uint32(0)) // no next IFD

	binary.Write(&tiff, be, uint16(1))
	binary.Write(&tiff, be, uint16(0x9003)) // DateTimeOriginal
	binary.Write(&tiff, be, uint16(2))      // ASCII
	binary.Write(&tiff, be, uint32(20))
	binary.Write(&tiff, be, uint32(44))
	binary.Write(&tiff, be, uint32(0))
	tiff.WriteString(taken)
	tiff.WriteByte(0)

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	segment := []byte{0xFF, 0xE1, 0, 0}
	be.PutUint16(segment[2:], uint16(len(payload)+2))
	segment = append(segment, payload...)

	img := jpegBytes(t)
	out := append([]byte{}, img[:2]...) // SOI
	out = append(out, segment...)
	return append(out, img[2:]...)
}

func gifBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, testImage(), nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func bmpBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, testImage()); err != nil {
		t.Fatalf("encode bmp: %v", err)
	}
	return buf.Bytes()
}

// refs builds in-memory refs holding a valid JPEG for each filename.
func refs(t *testing.T, names ...string) []ImageRef {
	t.Helper()
	data := jpegBytes(t)
	out := make([]ImageRef, len(names))
	for i, name := range names {
		out[i] = memRef{name: name, data: data}
	}
	return out
}

// zipEntry is one file of a test archive. A nil body writes a directory.
type zipEntry struct {
	name string
	body []byte
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if e.body != nil {
			if _, err := w.Write(e.body); err != nil {
				t.Fatalf("write %s: %v", e.name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func writeZip(t *testing.T, dir string, entries ...zipEntry) string {
	t.Helper()
	p := filepath.Join(dir, "images.zip")
	if err := os.WriteFile(p, buildZip(t, entries...), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	return p
}

func writeFile(t *testing.T, p string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}
