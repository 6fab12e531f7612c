package compress

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/imgpress/service/internal/imageformat"
	"github.com/imgpress/service/internal/objectkey"
	"github.com/imgpress/service/internal/response"
	"github.com/imgpress/service/internal/storage"
	"github.com/imgpress/service/internal/transcode"
)

var (
	// ErrMissingImage means the request carried no (or an empty) image part.
	ErrMissingImage = errors.New("No image file provided")
	// ErrPayloadTooLarge means the request body exceeded the upload limit.
	ErrPayloadTooLarge = errors.New("Image exceeds maximum upload size")
)

// Error records the pipeline stage a request failed to reach.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// clientErrors are the failures caused by the request itself, checked in order.
var clientErrors = []error{
	ErrMissingImage,
	imageformat.ErrEmptyMimeType,
	imageformat.ErrUnsupportedFormat,
	objectkey.ErrInvalidUserID,
}

// StatusCode maps a pipeline error to the HTTP status returned to the caller.
// Decode and encode failures count as server errors even though bad input
// causes them.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrPayloadTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	for _, ce := range clientErrors {
		if errors.Is(err, ce) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// Message returns the caller-facing text for err. Server errors never leak detail.
func Message(err error) string {
	switch StatusCode(err) {
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge.Error()
	case http.StatusBadRequest:
		var ufe *imageformat.UnsupportedFormatError
		if errors.As(err, &ufe) {
			return ufe.Error()
		}
		for _, ce := range clientErrors {
			if errors.Is(err, ce) {
				return ce.Error()
			}
		}
	}
	return response.InternalErrorMessage
}

// outcome labels err for metrics.
func outcome(err error) string {
	var (
		de *transcode.DecodeError
		ee *transcode.EncodeError
		we *storage.WriteError
		pe *storage.PublishError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case StatusCode(err) < http.StatusInternalServerError:
		return "client_error"
	case errors.As(err, &de):
		return "decode_error"
	case errors.As(err, &ee):
		return "encode_error"
	case errors.Is(err, storage.ErrBucketNotFound):
		return "bucket_not_found"
	case errors.As(err, &pe):
		return "publish_error"
	case errors.As(err, &we):
		return "write_error"
	default:
		return "internal"
	}
}
