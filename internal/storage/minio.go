package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/imgpress/service/internal/objectkey"
)

// MinioStorage implements Backend using a MinIO (or any S3-compatible) server.
// MinIO has no per-object ACLs: objects under objectkey.Root become readable
// through the bucket policy installed by NewMinioStorage, and Publish only
// confirms the object is there.
type MinioStorage struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// MinioOptions configures NewMinioStorage.
type MinioOptions struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string // defaults to the endpoint URL
	Logger     *slog.Logger
}

// NewMinioStorage creates a MinIO client, ensures the bucket exists with a
// public-read policy on the image prefix, and returns a ready-to-use MinioStorage.
func NewMinioStorage(ctx context.Context, opts MinioOptions) (*MinioStorage, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = "localhost:9000"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
		opts.Logger.Info("storage: created bucket", "bucket", opts.Bucket)
	}

	if err := client.SetBucketPolicy(ctx, opts.Bucket, publicReadPolicy(opts.Bucket)); err != nil {
		return nil, fmt.Errorf("set bucket policy: %w", err)
	}

	publicBase := opts.PublicBase
	if publicBase == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicBase = scheme + "://" + opts.Endpoint
	}

	return &MinioStorage{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: publicBase,
	}, nil
}

// Bucket implements Backend.
func (s *MinioStorage) Bucket() string { return s.bucket }

// Write uploads data under key with its content type.
func (s *MinioStorage) Write(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: CacheControl,
	})
	if err != nil {
		return minioError(s.bucket, "put object", key, err)
	}
	return nil
}

// Publish checks that key is stored; visibility itself comes from the bucket policy.
func (s *MinioStorage) Publish(ctx context.Context, key string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return minioError(s.bucket, "stat object", key, err)
	}
	return nil
}

// PublicURL returns "<public base>/<bucket>/<key>".
// For local MinIO: "http://localhost:9000/images/files/u1/imgs/<id>.jpg".
func (s *MinioStorage) PublicURL(key string) string {
	return joinURL(s.publicBase, s.bucket, key)
}

func minioError(bucket, op, key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return bucketNotFound(bucket, err)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous GET
// on every object under objectkey.Root.
func publicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/%s/*", bucket, objectkey.Root),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}

var _ Backend = (*MinioStorage)(nil)
