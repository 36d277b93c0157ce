// Package storage defines the object store used for submission audio files.
// storage/local keeps objects on disk; storage/s3 keeps them in S3.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// AudioBucket is the bucket submission files are uploaded to.
const AudioBucket = "melotechaudio"

var (
	// ErrObjectNotFound means the bucket/key pair does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrInvalidKey rejects empty keys and keys that could escape the bucket.
	ErrInvalidKey = errors.New("storage: invalid object key")
	// ErrInvalidSignature covers forged, mismatched and expired signed URL tokens.
	ErrInvalidSignature = errors.New("storage: invalid or expired signature")
)

// Object is an opened stored object. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store is implemented by every backend.
type Store interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	// SignedURL returns a URL that grants read access until ttl elapses.
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	// PublicURL is derived from bucket and key without contacting the backend.
	PublicURL(bucket, key string) string
	Open(ctx context.Context, bucket, key string) (*Object, error)
}

// TokenVerifier is implemented by stores whose signed URLs are served by this
// process rather than by the backend itself.
type TokenVerifier interface {
	VerifyToken(bucket, key, token string) error
}

// ValidateKey rejects keys that are empty, absolute, or contain dot segments.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// ValidateBucket allows lowercase letters, digits and dashes only.
func ValidateBucket(bucket string) error {
	if bucket == "" {
		return ErrInvalidKey
	}
	for _, r := range bucket {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return ErrInvalidKey
		}
	}
	return nil
}
