package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type fakeS3 struct {
	headErr error
	putErr  error
	aclErr  error

	put *s3.PutObjectInput
	acl *s3.PutObjectAclInput
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PutObjectAcl(_ context.Context, in *s3.PutObjectAclInput, _ ...func(*s3.Options)) (*s3.PutObjectAclOutput, error) {
	f.acl = in
	if f.aclErr != nil {
		return nil, f.aclErr
	}
	return &s3.PutObjectAclOutput{}, nil
}

func TestS3WriteAndPublish(t *testing.T) {
	t.Parallel()

	client := &fakeS3{}
	s := &S3Storage{client: client, bucket: "imgs", publicBase: s3PublicBase(S3Options{Region: "eu-west-1"})}
	u := NewUploader(s)

	res, err := u.Upload(context.Background(), testKey(t), []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)

	require.NotNil(t, client.put)
	assert.Equal(t, "imgs", aws.ToString(client.put.Bucket))
	assert.Equal(t, "files/u1/imgs/abc-123.jpg", aws.ToString(client.put.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(client.put.ContentType))
	assert.Equal(t, CacheControl, aws.ToString(client.put.CacheControl))
	assert.Equal(t, int64(len("jpeg-bytes")), aws.ToInt64(client.put.ContentLength))
	body, err := io.ReadAll(client.put.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(body))

	require.NotNil(t, client.acl)
	assert.Equal(t, s3types.ObjectCannedACLPublicRead, client.acl.ACL)
	assert.Equal(t, "files/u1/imgs/abc-123.jpg", aws.ToString(client.acl.Key))

	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com/imgs/files/u1/imgs/abc-123.jpg", res.PublicURL)
}

func TestS3NoSuchBucket(t *testing.T) {
	t.Parallel()

	client := &fakeS3{putErr: &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"}}
	s := &S3Storage{client: client, bucket: "imgs", publicBase: "https://s3.amazonaws.com"}

	_, err := NewUploader(s).Upload(context.Background(), testKey(t), []byte("x"), "image/png")
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestS3AclFailureIsPublishError(t *testing.T) {
	t.Parallel()

	client := &fakeS3{aclErr: &smithy.GenericAPIError{Code: "AccessControlListNotSupported"}}
	s := &S3Storage{client: client, bucket: "imgs", publicBase: "https://s3.amazonaws.com"}

	_, err := NewUploader(s).Upload(context.Background(), testKey(t), []byte("x"), "image/png")
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.NotNil(t, client.put, "object was written before publish failed")
}

func TestS3CheckBucket(t *testing.T) {
	t.Parallel()

	missing := &S3Storage{client: &fakeS3{headErr: &s3types.NotFound{}}, bucket: "imgs"}
	assert.ErrorIs(t, missing.checkBucket(context.Background()), ErrBucketNotFound)

	denied := &S3Storage{client: &fakeS3{headErr: errors.New("forbidden")}, bucket: "imgs"}
	err := denied.checkBucket(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBucketNotFound))

	ok := &S3Storage{client: &fakeS3{}, bucket: "imgs"}
	assert.NoError(t, ok.checkBucket(context.Background()))
}

func TestS3PublicBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://cdn.example.com", s3PublicBase(S3Options{PublicBase: "https://cdn.example.com", Region: "us-east-1"}))
	assert.Equal(t, "http://localhost:9000", s3PublicBase(S3Options{Endpoint: "http://localhost:9000", Region: "us-east-1"}))
	assert.Equal(t, "https://s3.us-east-1.amazonaws.com", s3PublicBase(S3Options{Region: "us-east-1"}))
	assert.Equal(t, "https://s3.amazonaws.com", s3PublicBase(S3Options{}))
}

func TestGCSPublicURL(t *testing.T) {
	t.Parallel()

	s := &GCSStorage{bucket: "my-bucket", publicBase: DefaultGCSHost}
	assert.Equal(t, "https://storage.googleapis.com/my-bucket/files/u1/imgs/abc-123.jpg", s.PublicURL("files/u1/imgs/abc-123.jpg"))
	assert.Equal(t, "my-bucket", s.Bucket())
}

func TestGCSNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, isGCSNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, isGCSNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isGCSNotFound(errors.New("boom")))

	s := &GCSStorage{bucket: "my-bucket"}
	assert.ErrorIs(t, s.writeError("k", &googleapi.Error{Code: http.StatusNotFound}), ErrBucketNotFound)
	assert.False(t, errors.Is(s.writeError("k", errors.New("timeout")), ErrBucketNotFound))
}

func TestMinioPublicURL(t *testing.T) {
	t.Parallel()

	s := &MinioStorage{bucket: "images", publicBase: "http://localhost:9000"}
	assert.Equal(t, "http://localhost:9000/images/files/u1/imgs/abc-123.jpg", s.PublicURL("files/u1/imgs/abc-123.jpg"))
}

func TestMinioErrorMapping(t *testing.T) {
	t.Parallel()

	err := minioError("images", "put object", "k", minio.ErrorResponse{Code: "NoSuchBucket"})
	assert.ErrorIs(t, err, ErrBucketNotFound)

	err = minioError("images", "put object", "k", minio.ErrorResponse{Code: "AccessDenied"})
	assert.False(t, errors.Is(err, ErrBucketNotFound))
}

func TestPublicReadPolicyScopesToImagePrefix(t *testing.T) {
	t.Parallel()

	var policy struct {
		Statement []struct {
			Effect    string
			Principal string
			Action    string
			Resource  string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(publicReadPolicy("images")), &policy))
	require.Len(t, policy.Statement, 1)
	assert.Equal(t, "Allow", policy.Statement[0].Effect)
	assert.Equal(t, "*", policy.Statement[0].Principal)
	assert.Equal(t, "s3:GetObject", policy.Statement[0].Action)
	assert.Equal(t, "arn:aws:s3:::images/files/*", policy.Statement[0].Resource)
}
