package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of *s3.Client the backend calls.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
}

// S3Storage implements Backend using Amazon S3. Objects are written first and
// then given the public-read canned ACL, so the bucket must allow ACLs.
type S3Storage struct {
	client     s3API
	bucket     string
	publicBase string
}

// S3Options configures NewS3Storage.
type S3Options struct {
	Region     string
	Bucket     string
	Endpoint   string // optional custom endpoint URL; enables path-style addressing
	PublicBase string // defaults to the regional S3 host or Endpoint
}

// NewS3Storage loads AWS credentials from the default chain and checks that
// the bucket is reachable.
func NewS3Storage(ctx context.Context, opts S3Options) (*S3Storage, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	s := &S3Storage{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: s3PublicBase(opts),
	}
	if err := s.checkBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func s3PublicBase(opts S3Options) string {
	switch {
	case opts.PublicBase != "":
		return opts.PublicBase
	case opts.Endpoint != "":
		return opts.Endpoint
	case opts.Region != "":
		return fmt.Sprintf("https://s3.%s.amazonaws.com", opts.Region)
	default:
		return "https://s3.amazonaws.com"
	}
}

func (s *S3Storage) checkBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		if isS3NotFound(err) {
			return bucketNotFound(s.bucket, err)
		}
		return fmt.Errorf("s3 head bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Bucket implements Backend.
func (s *S3Storage) Bucket() string { return s.bucket }

// Write puts data under key.
func (s *S3Storage) Write(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(CacheControl),
	})
	if err != nil {
		if isS3NotFound(err) {
			return bucketNotFound(s.bucket, err)
		}
		return fmt.Errorf("s3 put object key=%s: %w", key, err)
	}
	return nil
}

// Publish applies the public-read canned ACL to key.
func (s *S3Storage) Publish(ctx context.Context, key string) error {
	_, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		ACL:    s3types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("s3 put object acl key=%s: %w", key, err)
	}
	return nil
}

// PublicURL returns the path-style URL "<base>/<bucket>/<key>".
func (s *S3Storage) PublicURL(key string) string {
	return joinURL(s.publicBase, s.bucket, key)
}

func isS3NotFound(err error) bool {
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket"
}

var _ Backend = (*S3Storage)(nil)
