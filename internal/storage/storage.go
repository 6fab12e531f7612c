// Package storage writes transcoded images to an object-storage bucket and
// makes them publicly readable. Swap implementations by changing the Backend
// injected at startup: GCS, S3 and any S3-compatible provider via MinIO.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/imgpress/service/internal/objectkey"
)

// CacheControl is attached to every object. Keys are never reused, so the
// content behind a URL never changes.
const CacheControl = "public, max-age=31536000, immutable"

// ErrBucketNotFound is returned when the configured bucket does not exist.
var ErrBucketNotFound = errors.New("bucket not found")

// Backend is a single bucket on an object-storage provider.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Bucket names the bucket objects are written to.
	Bucket() string
	// Write stores data under key with the given Content-Type.
	Write(ctx context.Context, key string, data []byte, contentType string) error
	// Publish makes an already written object readable without credentials.
	Publish(ctx context.Context, key string) error
	// PublicURL returns the browser-accessible URL for key. It never calls the provider.
	PublicURL(key string) string
}

// Result is what a successful upload hands back to the caller.
type Result struct {
	PublicURL string
}

// WriteError means the object was not stored.
type WriteError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write object bucket=%s key=%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PublishError means the object was stored but is not public yet. The write
// does not need repeating; Uploader.Publish can be retried on its own.
type PublishError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish object bucket=%s key=%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Uploader runs the write-then-publish sequence against a Backend.
type Uploader struct {
	backend Backend
}

// NewUploader creates an Uploader for backend.
func NewUploader(backend Backend) *Uploader {
	return &Uploader{backend: backend}
}

// Bucket returns the backend's bucket name.
func (u *Uploader) Bucket() string { return u.backend.Bucket() }

// Upload writes data under key, then publishes it. Failures come back as
// ErrBucketNotFound, *WriteError or *PublishError. Nothing is retried, and an
// object whose publish step failed is left in the bucket.
func (u *Uploader) Upload(ctx context.Context, key objectkey.Key, data []byte, contentType string) (*Result, error) {
	if err := u.backend.Write(ctx, key.Path, data, contentType); err != nil {
		if errors.Is(err, ErrBucketNotFound) {
			return nil, err
		}
		return nil, &WriteError{Bucket: u.backend.Bucket(), Key: key.Path, Err: err}
	}
	if err := u.Publish(ctx, key); err != nil {
		return nil, err
	}
	return &Result{PublicURL: u.backend.PublicURL(key.Path)}, nil
}

// Publish makes a previously written object public.
func (u *Uploader) Publish(ctx context.Context, key objectkey.Key) error {
	if err := u.backend.Publish(ctx, key.Path); err != nil {
		return &PublishError{Bucket: u.backend.Bucket(), Key: key.Path, Err: err}
	}
	return nil
}

// PublicURL returns the URL key is (or will be) served from.
func (u *Uploader) PublicURL(key objectkey.Key) string {
	return u.backend.PublicURL(key.Path)
}

func bucketNotFound(bucket string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBucketNotFound, bucket, err)
}

// joinURL builds base/bucket/key without doubled slashes.
func joinURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}
