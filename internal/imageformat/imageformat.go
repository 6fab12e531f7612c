// Package imageformat holds the table of image formats the service accepts
// and validates declared mime types against it.
package imageformat

import (
	"errors"
	"fmt"
	"strings"
)

// Encoder identifies the codec used to re-encode a format.
type Encoder string

const (
	EncoderJPEG Encoder = "jpeg"
	EncoderPNG  Encoder = "png"
	EncoderGIF  Encoder = "gif"
	EncoderWebP Encoder = "webp"
)

// Format describes one supported image format and how it is re-encoded.
// Values come from the static table below and are never mutated.
type Format struct {
	MimeType  string
	Extension string
	Encoder   Encoder
	Lossless  bool

	// Quality is the lossy quality in 1..100; zero for lossless codecs.
	Quality int
	// CompressionLevel uses the zlib scale 0..9; only meaningful for PNG.
	CompressionLevel int
}

var (
	JPEG = Format{MimeType: "image/jpeg", Extension: "jpg", Encoder: EncoderJPEG, Quality: 80}
	PNG  = Format{MimeType: "image/png", Extension: "png", Encoder: EncoderPNG, Lossless: true, CompressionLevel: 9}
	GIF  = Format{MimeType: "image/gif", Extension: "gif", Encoder: EncoderGIF, Lossless: true}
	WebP = Format{MimeType: "image/webp", Extension: "webp", Encoder: EncoderWebP, Quality: 80}
)

var formats = map[string]Format{
	JPEG.MimeType: JPEG,
	PNG.MimeType:  PNG,
	GIF.MimeType:  GIF,
	WebP.MimeType: WebP,
}

// ErrUnsupportedFormat matches any UnsupportedFormatError via errors.Is.
var ErrUnsupportedFormat = errors.New("unsupported image type")

// ErrEmptyMimeType is returned when no mime type was declared at all.
var ErrEmptyMimeType = errors.New("mime type is required")

// UnsupportedFormatError carries the rejected mime type for diagnostics.
type UnsupportedFormatError struct {
	MimeType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("Unsupported image type: %s", e.MimeType)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// Validate returns the Format registered for mimeType. Mime parameters such as
// "; charset=binary" are ignored and matching is case-insensitive; the bytes
// themselves are never inspected.
func Validate(mimeType string) (Format, error) {
	if strings.TrimSpace(mimeType) == "" {
		return Format{}, ErrEmptyMimeType
	}
	f, ok := formats[normalize(mimeType)]
	if !ok {
		return Format{}, &UnsupportedFormatError{MimeType: mimeType}
	}
	return f, nil
}

// Supported lists the accepted mime types in a stable order.
func Supported() []string {
	return []string{JPEG.MimeType, PNG.MimeType, GIF.MimeType, WebP.MimeType}
}

func normalize(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
