// Package s3 stores objects in Amazon S3 with aws-sdk-go.
//
// Bucket names are the logical bucket prefixed with a deployment prefix, so
// "melotechaudio" may live in "prod-melotechaudio". Signed URLs are SigV4
// presigned GETs and cannot outlive seven days; longer requests fail and the
// client falls back to the public URL.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/melotech/melotech/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// MaxPresignTTL is the SigV4 limit on presigned URL lifetime.
const MaxPresignTTL = 7 * 24 * time.Hour

// Store is an S3-backed storage.Store.
type Store struct {
	prefix   string
	region   string
	endpoint string
	svc      *awss3.S3
	uploader *s3manager.Uploader
}

// Option adjusts the AWS config before the session is built.
type Option func(*aws.Config)

// WithEndpoint points the client at an S3-compatible endpoint (MinIO, tests).
func WithEndpoint(endpoint string) Option {
	return func(c *aws.Config) {
		c.Endpoint = aws.String(endpoint)
		c.S3ForcePathStyle = aws.Bool(true)
	}
}

// WithConfig applies arbitrary settings such as static credentials.
func WithConfig(fn func(*aws.Config)) Option {
	return Option(fn)
}

// New builds a session from the default AWS credential chain.
func New(region, bucketPrefix string, opts ...Option) (*Store, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	for _, o := range opts {
		o(cfg)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3: creating session: %w", err)
	}
	return &Store{
		prefix:   bucketPrefix,
		region:   region,
		endpoint: aws.StringValue(cfg.Endpoint),
		svc:      awss3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (s *Store) bucket(bucket string) string {
	return s.prefix + bucket
}

func (s *Store) check(bucket, key string) error {
	if err := storage.ValidateBucket(bucket); err != nil {
		return err
	}
	return storage.ValidateKey(key)
}

// Put streams body with the multipart uploader, which copes with unknown sizes.
func (s *Store) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	if err := s.check(bucket, key); err != nil {
		return err
	}
	in := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket(bucket)),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, in); err != nil {
		return fmt.Errorf("s3: uploading %s/%s: %w", bucket, key, err)
	}
	return nil
}

// SignedURL presigns a GetObject request. ttl beyond MaxPresignTTL is an error.
func (s *Store) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if err := s.check(bucket, key); err != nil {
		return "", err
	}
	if ttl > MaxPresignTTL {
		return "", fmt.Errorf("s3: presign ttl %s exceeds %s", ttl, MaxPresignTTL)
	}
	req, _ := s.svc.GetObjectRequest(&awss3.GetObjectInput{
		Bucket: aws.String(s.bucket(bucket)),
		Key:    aws.String(key),
	})
	u, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("s3: presigning %s/%s: %w", bucket, key, err)
	}
	return u, nil
}

// PublicURL is the virtual-hosted style object URL, or path style when a custom
// endpoint is configured.
func (s *Store) PublicURL(bucket, key string) string {
	escaped := escapeKey(key)
	if s.endpoint != "" {
		return strings.TrimRight(s.endpoint, "/") + "/" + s.bucket(bucket) + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket(bucket), s.region, escaped)
}

// Open fetches the object. A missing key maps to storage.ErrObjectNotFound.
func (s *Store) Open(ctx context.Context, bucket, key string) (*storage.Object, error) {
	if err := s.check(bucket, key); err != nil {
		return nil, err
	}
	out, err := s.svc.GetObjectWithContext(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == awss3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("s3: getting %s/%s: %w", bucket, key, err)
	}
	return &storage.Object{
		Body:        out.Body,
		ContentType: aws.StringValue(out.ContentType),
		Size:        aws.Int64Value(out.ContentLength),
	}, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
