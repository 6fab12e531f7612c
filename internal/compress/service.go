// Package compress runs the compress-and-store pipeline: validate the declared
// type, transcode, pick an object key, upload and publish.
package compress

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/imgpress/service/internal/imageformat"
	"github.com/imgpress/service/internal/metrics"
	"github.com/imgpress/service/internal/objectkey"
	"github.com/imgpress/service/internal/storage"
	"github.com/imgpress/service/internal/transcode"
)

// Stage is a step of the pipeline. A request moves through them in order and
// ends in StageCompleted or StageFailed.
type Stage string

const (
	StageReceived     Stage = "received"
	StageValidated    Stage = "validated"
	StageTranscoded   Stage = "transcoded"
	StageKeyGenerated Stage = "key_generated"
	StageUploaded     Stage = "uploaded"
	StagePublished    Stage = "published"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Payload is one decoded upload.
type Payload struct {
	Content  []byte
	MimeType string
	UserID   string
	FileName string // informational only
}

// Result describes a stored image.
type Result struct {
	URL         string
	Key         string
	ContentType string
	Width       int
	Height      int
	Size        int
}

// Transcoder resizes and re-encodes an image.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, f imageformat.Format) (*transcode.Image, error)
}

// Uploader stores bytes and makes them public.
type Uploader interface {
	Upload(ctx context.Context, key objectkey.Key, data []byte, contentType string) (*storage.Result, error)
}

// Service runs the pipeline. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	transcoder Transcoder
	keys       *objectkey.Generator
	uploader   Uploader
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewService wires the pipeline components. m may be nil.
func NewService(t Transcoder, keys *objectkey.Generator, u Uploader, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{transcoder: t, keys: keys, uploader: u, logger: logger, metrics: m}
}

// Compress runs one upload through the pipeline. Each request is a single
// attempt: nothing is retried and an object whose publish failed is left in
// storage. Errors are *Error values; see StatusCode for the HTTP mapping.
func (s *Service) Compress(ctx context.Context, p Payload) (*Result, error) {
	log := s.logger.With(
		"request_id", chimw.GetReqID(ctx),
		"user_id", p.UserID,
		"mime_type", p.MimeType,
		"file_name", p.FileName,
		"size", len(p.Content),
	)
	log.Debug("pipeline transition", "stage", StageReceived)

	if len(p.Content) == 0 {
		return nil, s.fail(log, &Error{Stage: StageValidated, Err: ErrMissingImage})
	}

	start := time.Now()
	format, err := imageformat.Validate(p.MimeType)
	if err != nil {
		return nil, s.fail(log, &Error{Stage: StageValidated, Err: err})
	}
	s.advance(log, StageValidated, start)

	// Key generation does not depend on the transcoded bytes, so it runs
	// alongside the transcode.
	var (
		img *transcode.Image
		key objectkey.Key
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		started := time.Now()
		out, err := s.transcoder.Transcode(gctx, p.Content, format)
		if err != nil {
			return &Error{Stage: StageTranscoded, Err: err}
		}
		img = out
		s.advance(log, StageTranscoded, started)
		return nil
	})
	g.Go(func() error {
		started := time.Now()
		k, err := s.keys.Generate(p.UserID, format.Extension)
		if err != nil {
			return &Error{Stage: StageKeyGenerated, Err: err}
		}
		key = k
		s.advance(log, StageKeyGenerated, started)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, s.fail(log, err)
	}

	started := time.Now()
	res, err := s.uploader.Upload(ctx, key, img.Bytes, img.ContentType)
	if err != nil {
		stage := StageUploaded
		var pe *storage.PublishError
		if errors.As(err, &pe) {
			log.Debug("pipeline transition", "stage", StageUploaded, "key", key.Path)
			stage = StagePublished
		}
		return nil, s.fail(log, &Error{Stage: stage, Err: err})
	}
	log.Debug("pipeline transition", "stage", StageUploaded, "key", key.Path)
	s.advance(log, StagePublished, started)

	s.metrics.ObserveBytes(len(p.Content), len(img.Bytes))
	s.metrics.ObserveRequest(outcome(nil))
	log.Info("image stored",
		"stage", StageCompleted,
		"key", key.Path,
		"url", res.PublicURL,
		"width", img.Width,
		"height", img.Height,
		"output_size", len(img.Bytes),
		"duration", time.Since(start),
	)

	return &Result{
		URL:         res.PublicURL,
		Key:         key.Path,
		ContentType: img.ContentType,
		Width:       img.Width,
		Height:      img.Height,
		Size:        len(img.Bytes),
	}, nil
}

func (s *Service) advance(log *slog.Logger, stage Stage, started time.Time) {
	d := time.Since(started)
	s.metrics.ObserveStage(string(stage), d)
	log.Debug("pipeline transition", "stage", stage, "duration", d)
}

// fail logs err once and records the outcome. Client errors are logged at
// info; server errors carry the full chain at error level.
func (s *Service) fail(log *slog.Logger, err error) error {
	label := outcome(err)
	s.metrics.ObserveRequest(label)

	attrs := []any{"stage", StageFailed, "outcome", label, "err", err}
	var pe *Error
	if errors.As(err, &pe) {
		attrs = append(attrs, "failed_stage", pe.Stage)
	}
	if StatusCode(err) >= http.StatusInternalServerError {
		log.Error("image processing error", attrs...)
	} else {
		log.Info("image rejected", attrs...)
	}
	return err
}
