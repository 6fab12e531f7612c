package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultGCSHost serves public GCS objects.
const DefaultGCSHost = "https://storage.googleapis.com"

// GCSStorage implements Backend using Google Cloud Storage. Publish grants
// allUsers the reader role on the object, which requires fine-grained
// (non-uniform) bucket access control.
type GCSStorage struct {
	client     *gcs.Client
	bucket     string
	publicBase string
}

// GCSOptions configures NewGCSStorage.
type GCSOptions struct {
	Bucket          string
	CredentialsFile string // empty uses Application Default Credentials
	PublicBase      string // defaults to DefaultGCSHost
}

// NewGCSStorage creates a client and checks the bucket exists.
func NewGCSStorage(ctx context.Context, opts GCSOptions) (*GCSStorage, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	if _, err := client.Bucket(opts.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		if isGCSNotFound(err) {
			return nil, bucketNotFound(opts.Bucket, err)
		}
		return nil, fmt.Errorf("gcs bucket attrs %s: %w", opts.Bucket, err)
	}

	publicBase := opts.PublicBase
	if publicBase == "" {
		publicBase = DefaultGCSHost
	}
	return &GCSStorage{client: client, bucket: opts.Bucket, publicBase: publicBase}, nil
}

// Bucket implements Backend.
func (s *GCSStorage) Bucket() string { return s.bucket }

// Write streams data to key. Cancelling ctx aborts the upload.
func (s *GCSStorage) Write(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = CacheControl

	if _, err := w.Write(data); err != nil {
		cancel()
		_ = w.Close()
		return s.writeError(key, err)
	}
	if err := w.Close(); err != nil {
		return s.writeError(key, err)
	}
	return nil
}

func (s *GCSStorage) writeError(key string, err error) error {
	if isGCSNotFound(err) {
		return bucketNotFound(s.bucket, err)
	}
	return fmt.Errorf("gcs write object key=%s: %w", key, err)
}

// Publish grants anonymous read on key.
func (s *GCSStorage) Publish(ctx context.Context, key string) error {
	if err := s.client.Bucket(s.bucket).Object(key).ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader); err != nil {
		return fmt.Errorf("gcs set acl key=%s: %w", key, err)
	}
	return nil
}

// PublicURL returns "https://storage.googleapis.com/<bucket>/<key>" unless a
// different public base was configured.
func (s *GCSStorage) PublicURL(key string) string {
	return joinURL(s.publicBase, s.bucket, key)
}

// Close releases the underlying client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

var _ Backend = (*GCSStorage)(nil)
