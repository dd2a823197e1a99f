package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config holds credentials and addressing for the shared storage account.
type S3Config struct {
	Endpoint     string // Custom endpoint for S3-compatible services
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool // Required for most S3-compatible services
}

// S3Backend implements Storage on AWS S3 or a compatible service. The
// logical folder path becomes the key prefix, and the object ID is the full
// key — lookup by ID is a direct fetch, no tree walk needed.
type S3Backend struct {
	client *s3.Client
	bucket string
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// NewS3Backend creates a backend bound to the shared account's bucket.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

// TestConnection validates credentials on an independent, throwaway client.
// The cached connection handle is never touched.
func TestConnection(ctx context.Context, cfg S3Config) error {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	_, err = client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(cfg.Bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}

// objectKey builds a unique key under the remote path. The original
// extension is kept so content inspection tools still work on the bucket.
func objectKey(name, remotePath string) string {
	key := uuid.New().String() + path.Ext(name)
	if dir := strings.Trim(remotePath, "/"); dir != "" {
		return dir + "/" + key
	}
	return key
}

func (s *S3Backend) Upload(ctx context.Context, r io.Reader, name, remotePath string) (Object, error) {
	key := objectKey(name, remotePath)

	content, err := io.ReadAll(r)
	if err != nil {
		return Object{}, wrapErr("upload", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return Object{}, wrapErr("upload", err)
	}

	return Object{
		ID:   key,
		Name: name,
		Size: int64(len(content)),
		Link: fmt.Sprintf("s3://%s/%s", s.bucket, key),
	}, nil
}

func (s *S3Backend) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("open", err)
	}
	return output.Body, nil
}

func (s *S3Backend) Stat(ctx context.Context, id string) (Object, error) {
	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, wrapErr("stat", err)
	}

	size := int64(0)
	if output.ContentLength != nil {
		size = *output.ContentLength
	}

	return Object{
		ID:   id,
		Name: path.Base(id),
		Size: size,
		Link: fmt.Sprintf("s3://%s/%s", s.bucket, id),
	}, nil
}

// Delete removes an object. Returns nil if the object is already gone.
func (s *S3Backend) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil && !isS3NotFound(err) {
		return wrapErr("delete", err)
	}
	return nil
}

// Replace deletes the old object then uploads the new content.
func (s *S3Backend) Replace(ctx context.Context, id string, r io.Reader, name, remotePath string) (Object, error) {
	if err := s.Delete(ctx, id); err != nil {
		return Object{}, err
	}
	return s.Upload(ctx, r, name, remotePath)
}

// Move reparents the object under newRemotePath via copy-then-delete.
func (s *S3Backend) Move(ctx context.Context, id, newRemotePath string) (Object, error) {
	newKey := path.Base(id)
	if dir := strings.Trim(newRemotePath, "/"); dir != "" {
		newKey = dir + "/" + newKey
	}
	if newKey == id {
		return s.Stat(ctx, id)
	}

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + id),
		Key:        aws.String(newKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, wrapErr("move", err)
	}

	if err := s.Delete(ctx, id); err != nil {
		return Object{}, err
	}

	return s.Stat(ctx, newKey)
}

// Mkdir writes a zero-byte directory marker. S3 prefixes need no explicit
// creation, but the marker keeps empty folders visible to bucket browsers.
func (s *S3Backend) Mkdir(ctx context.Context, remotePath string) error {
	dir := strings.Trim(remotePath, "/")
	if dir == "" {
		return nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dir + "/"),
		Body:   strings.NewReader(""),
	})
	return wrapErr("mkdir", err)
}

// HealthCheck verifies connectivity by listing the bucket (one object max).
func (s *S3Backend) HealthCheck(ctx context.Context) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	return wrapErr("health check", err)
}

// isS3NotFound checks whether the error indicates a missing object.
func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") ||
		strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "404")
}
