package compress

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/imgpress/service/internal/response"
)

// Handler serves the compress endpoint.
type Handler struct {
	svc            *Service
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewHandler creates a Handler that accepts bodies up to maxUploadBytes.
func NewHandler(svc *Service, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes, logger: logger}
}

type compressResponse struct {
	Success bool   `json:"success" example:"true"`
	URL     string `json:"url"     example:"https://storage.googleapis.com/my-bucket/files/u1/imgs/0b7c2f9e-7d1c-4a36-9a52-2f4f5bd8e2a1.jpg"`
}

// Compress godoc
//
//	@Summary		Compress and store an image
//	@Description	Resizes the image to at most 800px wide, re-encodes it in its declared format and stores it publicly.
//	@Tags			images
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			image		formData	file	true	"JPEG, PNG, GIF or WebP image"
//	@Param			userId		formData	string	true	"Owner id, used in the object key"
//	@Param			fileName	formData	string	false	"Original file name (informational)"
//	@Success		200			{object}	compressResponse
//	@Failure		400			{object}	response.ErrorBody
//	@Failure		413			{object}	response.ErrorBody
//	@Failure		500			{object}	response.ErrorBody
//	@Router			/compress [post]
func (h *Handler) Compress(w http.ResponseWriter, r *http.Request) {
	payload, cleanup, err := h.readPayload(w, r)
	defer cleanup()
	if err != nil {
		h.logger.Info("upload rejected", "err", err, "path", r.URL.Path)
		response.Error(w, StatusCode(err), Message(err))
		return
	}

	res, err := h.svc.Compress(r.Context(), payload)
	if err != nil {
		response.Error(w, StatusCode(err), Message(err))
		return
	}

	response.JSON(w, http.StatusOK, compressResponse{Success: true, URL: res.URL})
}

// readPayload parses the multipart body into a Payload. The returned cleanup
// removes any temporary files the parser created and is always non-nil.
func (h *Handler) readPayload(w http.ResponseWriter, r *http.Request) (Payload, func(), error) {
	cleanup := func() {}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || errors.Is(err, multipart.ErrMessageTooLarge) {
			return Payload{}, cleanup, fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
		}
		return Payload{}, cleanup, fmt.Errorf("%w: %v", ErrMissingImage, err)
	}
	if form := r.MultipartForm; form != nil {
		cleanup = func() { _ = form.RemoveAll() }
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return Payload{}, cleanup, fmt.Errorf("%w: %v", ErrMissingImage, err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return Payload{}, cleanup, fmt.Errorf("read image part: %w", err)
	}

	return Payload{
		Content:  content,
		MimeType: header.Header.Get("Content-Type"),
		UserID:   r.FormValue("userId"),
		FileName: r.FormValue("fileName"),
	}, cleanup, nil
}
