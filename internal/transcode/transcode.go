// Package transcode resizes uploaded images and re-encodes them in their
// declared format.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	xwebp "golang.org/x/image/webp"

	"github.com/imgpress/service/internal/imageformat"
)

const (
	// MaxWidth is the widest output the service produces. Narrower images
	// keep their size.
	MaxWidth = 800
	// MaxPixels bounds the decoded size of an input to keep a crafted header
	// from exhausting memory.
	MaxPixels = 50_000_000
)

// ErrImageTooLarge is wrapped in a DecodeError when the header declares more
// than MaxPixels.
var ErrImageTooLarge = errors.New("image dimensions exceed limit")

// Image is the re-encoded output of a single transcode.
type Image struct {
	Bytes       []byte
	ContentType string
	Extension   string
	Width       int
	Height      int
}

// DecodeError means the input bytes are not a valid image of the declared format.
type DecodeError struct {
	MimeType string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError means the decoded image could not be written back out.
type EncodeError struct {
	MimeType string
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.MimeType, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

type codec struct {
	decodeConfig func(io.Reader) (image.Config, error)
	decode       func(io.Reader) (image.Image, error)
	encode       func(io.Writer, image.Image, imageformat.Format) error
}

var codecs = map[imageformat.Encoder]codec{
	imageformat.EncoderJPEG: {
		decodeConfig: jpeg.DecodeConfig,
		decode:       jpeg.Decode,
		encode: func(w io.Writer, img image.Image, f imageformat.Format) error {
			return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(f.Quality))
		},
	},
	imageformat.EncoderPNG: {
		decodeConfig: png.DecodeConfig,
		decode:       png.Decode,
		encode: func(w io.Writer, img image.Image, f imageformat.Format) error {
			return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(f.CompressionLevel)))
		},
	},
	imageformat.EncoderGIF: {
		decodeConfig: gif.DecodeConfig,
		decode:       gif.Decode,
		encode: func(w io.Writer, img image.Image, _ imageformat.Format) error {
			return imaging.Encode(w, img, imaging.GIF)
		},
	},
	imageformat.EncoderWebP: {
		decodeConfig: xwebp.DecodeConfig,
		decode:       xwebp.Decode,
		encode: func(w io.Writer, img image.Image, f imageformat.Format) error {
			return webp.Encode(w, img, &webp.Options{Lossless: f.Lossless, Quality: float32(f.Quality)})
		},
	},
}

// Transcode decodes data as format f, scales it down to MaxWidth and encodes
// it again with the format's options. It is a pure function of its inputs.
func Transcode(data []byte, f imageformat.Format) (*Image, error) {
	return transcode(data, f, MaxWidth, MaxPixels)
}

func transcode(data []byte, f imageformat.Format, maxWidth, maxPixels int) (*Image, error) {
	c, ok := codecs[f.Encoder]
	if !ok {
		return nil, &EncodeError{MimeType: f.MimeType, Err: fmt.Errorf("no codec for encoder %q", f.Encoder)}
	}

	cfg, err := c.decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{MimeType: f.MimeType, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, &DecodeError{MimeType: f.MimeType, Err: fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)}
	}

	src, err := c.decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{MimeType: f.MimeType, Err: err}
	}

	out := fit(src, maxWidth)

	var buf bytes.Buffer
	if err := c.encode(&buf, out, f); err != nil {
		return nil, &EncodeError{MimeType: f.MimeType, Err: err}
	}

	b := out.Bounds()
	return &Image{
		Bytes:       buf.Bytes(),
		ContentType: f.MimeType,
		Extension:   f.Extension,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// fit caps the width at maxWidth, preserving aspect ratio. Images that are
// already narrow enough are returned untouched.
func fit(src image.Image, maxWidth int) image.Image {
	if src.Bounds().Dx() <= maxWidth {
		return src
	}
	return imaging.Resize(src, maxWidth, 0, imaging.Lanczos)
}

// pngLevel maps a zlib-style level onto the levels image/png understands.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level == 1:
		return png.BestSpeed
	case level >= 9:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}
