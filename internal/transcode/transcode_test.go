package transcode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xwebp "golang.org/x/image/webp"

	"github.com/imgpress/service/internal/imageformat"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func fixture(t *testing.T, f imageformat.Format, w, h int) []byte {
	t.Helper()

	img := gradient(w, h)
	var buf bytes.Buffer
	var err error
	switch f.Encoder {
	case imageformat.EncoderJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case imageformat.EncoderPNG:
		err = png.Encode(&buf, img)
	case imageformat.EncoderGIF:
		err = gif.Encode(&buf, img, nil)
	case imageformat.EncoderWebP:
		err = webp.Encode(&buf, img, &webp.Options{Lossless: true})
	default:
		t.Fatalf("no fixture encoder for %s", f.Encoder)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func decodeConfig(t *testing.T, f imageformat.Format, data []byte) image.Config {
	t.Helper()

	var cfg image.Config
	var err error
	r := bytes.NewReader(data)
	switch f.Encoder {
	case imageformat.EncoderJPEG:
		cfg, err = jpeg.DecodeConfig(r)
	case imageformat.EncoderPNG:
		cfg, err = png.DecodeConfig(r)
	case imageformat.EncoderGIF:
		cfg, err = gif.DecodeConfig(r)
	case imageformat.EncoderWebP:
		cfg, err = xwebp.DecodeConfig(r)
	}
	require.NoError(t, err, "output is not a valid %s", f.MimeType)
	return cfg
}

var allFormats = []imageformat.Format{imageformat.JPEG, imageformat.PNG, imageformat.GIF, imageformat.WebP}

func TestTranscodeShrinksWideImages(t *testing.T) {
	t.Parallel()

	for _, f := range allFormats {
		f := f
		t.Run(f.Extension, func(t *testing.T) {
			t.Parallel()

			out, err := Transcode(fixture(t, f, 2000, 1000), f)
			require.NoError(t, err)

			assert.Equal(t, 800, out.Width)
			assert.Equal(t, 400, out.Height)
			assert.Equal(t, f.MimeType, out.ContentType)
			assert.Equal(t, f.Extension, out.Extension)

			cfg := decodeConfig(t, f, out.Bytes)
			assert.Equal(t, 800, cfg.Width)
			assert.Equal(t, 400, cfg.Height)
		})
	}
}

func TestTranscodePreservesAspectRatio(t *testing.T) {
	t.Parallel()

	sizes := []struct{ w, h int }{
		{w: 1000, h: 333},
		{w: 1600, h: 2400},
		{w: 801, h: 10},
		{w: 3000, h: 7},
	}
	for _, s := range sizes {
		out, err := Transcode(fixture(t, imageformat.PNG, s.w, s.h), imageformat.PNG)
		require.NoError(t, err)

		want := float64(s.h) * 800 / float64(s.w)
		assert.Equal(t, 800, out.Width, "%dx%d", s.w, s.h)
		assert.InDelta(t, want, float64(out.Height), 1, "%dx%d", s.w, s.h)
		assert.GreaterOrEqual(t, out.Height, 1)
	}
}

func TestTranscodeDoesNotUpscale(t *testing.T) {
	t.Parallel()

	for _, f := range allFormats {
		f := f
		t.Run(f.Extension, func(t *testing.T) {
			t.Parallel()

			for _, s := range []struct{ w, h int }{{w: 800, h: 600}, {w: 320, h: 240}, {w: 1, h: 1}, {w: 200, h: 1200}} {
				out, err := Transcode(fixture(t, f, s.w, s.h), f)
				require.NoError(t, err)
				assert.Equal(t, s.w, out.Width)
				assert.Equal(t, s.h, out.Height)

				cfg := decodeConfig(t, f, out.Bytes)
				assert.Equal(t, s.w, cfg.Width)
				assert.Equal(t, s.h, cfg.Height)
			}
		})
	}
}

func TestTranscodeKeepsDeclaredContentType(t *testing.T) {
	t.Parallel()

	f := imageformat.JPEG
	f.MimeType = "image/JPEG"
	out, err := Transcode(fixture(t, imageformat.JPEG, 10, 10), f)
	require.NoError(t, err)
	assert.Equal(t, "image/JPEG", out.ContentType)
}

func TestTranscodeCorruptInput(t *testing.T) {
	t.Parallel()

	for _, f := range allFormats {
		_, err := Transcode([]byte("definitely not an image"), f)
		var de *DecodeError
		require.ErrorAs(t, err, &de, f.MimeType)
		assert.Equal(t, f.MimeType, de.MimeType)
	}
}

func TestTranscodeMismatchedDeclaredType(t *testing.T) {
	t.Parallel()

	_, err := Transcode(fixture(t, imageformat.PNG, 10, 10), imageformat.JPEG)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestTranscodeTruncatedInput(t *testing.T) {
	t.Parallel()

	data := fixture(t, imageformat.PNG, 100, 100)
	_, err := Transcode(data[:len(data)/2], imageformat.PNG)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestTranscodeRejectsOversizedHeader(t *testing.T) {
	t.Parallel()

	_, err := transcode(fixture(t, imageformat.PNG, 20, 20), imageformat.PNG, MaxWidth, 399)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestTranscodeUnknownEncoder(t *testing.T) {
	t.Parallel()

	_, err := Transcode([]byte{1}, imageformat.Format{MimeType: "image/x-test", Encoder: "nope"})
	var ee *EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, err.Error(), "image/x-test")
}

func TestPNGLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, png.NoCompression, pngLevel(0))
	assert.Equal(t, png.BestSpeed, pngLevel(1))
	assert.Equal(t, png.DefaultCompression, pngLevel(6))
	assert.Equal(t, png.BestCompression, pngLevel(9))
}

func TestPoolTranscode(t *testing.T) {
	t.Parallel()

	pool := NewPool(2)
	assert.Equal(t, 2, pool.Workers())

	out, err := pool.Transcode(context.Background(), fixture(t, imageformat.JPEG, 1200, 600), imageformat.JPEG)
	require.NoError(t, err)
	assert.Equal(t, 800, out.Width)
	assert.Equal(t, 400, out.Height)
}

func TestPoolDefaultsToNumCPU(t *testing.T) {
	t.Parallel()

	assert.Positive(t, NewPool(0).Workers())
}

func TestPoolHonorsCancellationWhileWaiting(t *testing.T) {
	t.Parallel()

	pool := NewPool(1)
	require.NoError(t, pool.sem.Acquire(context.Background(), 1))
	defer pool.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pool.Transcode(ctx, fixture(t, imageformat.PNG, 4, 4), imageformat.PNG)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
