// Package local stores objects as files under a root directory and serves
// signed URLs that this server verifies itself.
//
// A signed URL token is "<expiry unix seconds>.<hex HMAC-SHA256>" where the MAC
// covers "bucket/key\nexpiry".
package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/melotech/melotech/internal/storage"
)

var (
	_ storage.Store         = (*Store)(nil)
	_ storage.TokenVerifier = (*Store)(nil)
)

// Store is a filesystem-backed storage.Store.
type Store struct {
	root    string
	baseURL string
	key     []byte
	now     func() time.Time
}

// New creates the root directory if needed. baseURL prefixes public URLs and may
// be empty, in which case URLs are relative to the server.
func New(root, baseURL, signingKey string) (*Store, error) {
	if signingKey == "" {
		return nil, errors.New("local: signing key is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local: creating %s: %w", root, err)
	}
	return &Store{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     []byte(signingKey),
		now:     time.Now,
	}, nil
}

func (s *Store) path(bucket, key string) (string, error) {
	if err := storage.ValidateBucket(bucket); err != nil {
		return "", err
	}
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(key)), nil
}

// Put writes body to a temp file and renames it into place, so readers never
// see a partial object.
func (s *Store) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("local: creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("local: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: body}); err != nil {
		tmp.Close()
		return fmt.Errorf("local: writing %s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local: closing %s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("local: storing %s/%s: %w", bucket, key, err)
	}
	return nil
}

// SignedURL returns a server-relative URL (or absolute when baseURL is set)
// carrying an expiring token.
func (s *Store) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if _, err := s.path(bucket, key); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("local: ttl must be positive")
	}
	expiry := s.now().Add(ttl).Unix()
	token := strconv.FormatInt(expiry, 10) + "." + s.mac(bucket, key, expiry)
	return s.baseURL + "/storage/v1/object/sign/" + bucket + "/" + escapeKey(key) +
		"?token=" + url.QueryEscape(token), nil
}

// VerifyToken checks a token produced by SignedURL for the same bucket and key.
func (s *Store) VerifyToken(bucket, key, token string) error {
	expStr, sig, ok := strings.Cut(token, ".")
	if !ok {
		return storage.ErrInvalidSignature
	}
	expiry, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return storage.ErrInvalidSignature
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(bucket, key, expiry))) {
		return storage.ErrInvalidSignature
	}
	if s.now().Unix() > expiry {
		return storage.ErrInvalidSignature
	}
	return nil
}

// PublicURL is the unauthenticated read URL served by the public object route.
func (s *Store) PublicURL(bucket, key string) string {
	return s.baseURL + "/storage/v1/object/public/" + bucket + "/" + escapeKey(key)
}

// Open returns storage.ErrObjectNotFound for missing objects.
func (s *Store) Open(_ context.Context, bucket, key string) (*storage.Object, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("local: opening %s/%s: %w", bucket, key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("local: stat %s/%s: %w", bucket, key, err)
	}
	ct := mime.TypeByExtension(filepath.Ext(p))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &storage.Object{Body: f, ContentType: ct, Size: info.Size()}, nil
}

func (s *Store) mac(bucket, key string, expiry int64) string {
	m := hmac.New(sha256.New, s.key)
	fmt.Fprintf(m, "%s/%s\n%d", bucket, key, expiry)
	return hex.EncodeToString(m.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ctxReader stops a copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
