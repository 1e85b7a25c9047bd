package core

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	// Decoders for the accepted input formats.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"

	"github.com/rwcarlsen/goexif/exif"
)

// isJPEGExt reports whether ext (lowercase, with dot) is a JPEG variant.
func isJPEGExt(ext string) bool {
	return ext == ".jpg" || ext == ".jpeg"
}

// transcodeError carries the failure reason of a transcode step.
type transcodeError struct {
	reason FailureReason
	err    error
}

func (e *transcodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *transcodeError) Unwrap() error {
	return e.err
}

// toJPEG decodes data and re-encodes it as JPEG at JPEGQuality. Images that
// may carry transparency are flattened to opaque RGB first; alpha is dropped.
func toJPEG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &transcodeError{reason: ReasonDecode, err: fmt.Errorf("image decode error: %w", err)}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, &transcodeError{reason: ReasonEncode, err: fmt.Errorf("jpeg encode error: %w", err)}
	}
	return buf.Bytes(), nil
}

// opaquer is implemented by the standard image types.
type opaquer interface {
	Opaque() bool
}

// flatten returns img unchanged when it is fully opaque, otherwise a copy
// whose pixels keep their color values with alpha forced to 0xff.
func flatten(img image.Image) image.Image {
	if o, ok := img.(opaquer); ok && o.Opaque() {
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}

// captureTime extracts the EXIF DateTimeOriginal of a JPEG, if present.
func captureTime(data []byte) *time.Time {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	t, err := x.DateTime()
	if err != nil {
		return nil
	}
	return &t
}
