package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/metrics"
	"github.com/melotech/melotech/internal/storage"
)

// MaxUploadBytes caps a single object upload.
const MaxUploadBytes = 200 << 20

// StorageHandler serves the object endpoints under /storage/v1/object.
//
// OWNERSHIP:
// Keys are "{identityID}/{name}". Uploading or signing a key is only allowed
// when its first segment is the caller's identity ID. Reads go through either
// a signed token or the public route.
type StorageHandler struct {
	store   storage.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewStorageHandler(store storage.Store, m *metrics.Metrics, logger *slog.Logger) *StorageHandler {
	return &StorageHandler{store: store, metrics: m, logger: logger}
}

// objectKey reads the wildcard segment. chi matches on RawPath when the request
// path needed escaping, so the key is unescaped in that case only.
func objectKey(r *http.Request) (string, error) {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return key, nil
	}
	unescaped, err := url.PathUnescape(key)
	if err != nil {
		return "", apperror.ValidationFailed("key", "malformed object key")
	}
	return unescaped, nil
}

func (h *StorageHandler) ownedTarget(r *http.Request) (bucket, key string, err error) {
	bucket = chi.URLParam(r, "bucket")
	key, err = objectKey(r)
	if err != nil {
		return "", "", err
	}
	if err := storage.ValidateBucket(bucket); err != nil {
		return "", "", apperror.ValidationFailed("bucket", "invalid bucket name")
	}
	if err := storage.ValidateKey(key); err != nil {
		return "", "", apperror.ValidationFailed("key", "invalid object key")
	}
	if !strings.HasPrefix(key, callerID(r)+"/") {
		return "", "", apperror.Forbidden("objects must be stored under your own identity prefix")
	}
	return bucket, key, nil
}

// HandleUpload stores the request body as an object.
//
// HTTP: PUT /storage/v1/object/{bucket}/{key...}
// Auth: Required
func (h *StorageHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	bucket, key, err := h.ownedTarget(r)
	if err != nil {
		h.metrics.IncUpload(metrics.UploadDenied)
		writeError(w, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body := http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := h.store.Put(r.Context(), bucket, key, body, contentType); err != nil {
		h.metrics.IncUpload(metrics.UploadFailed)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "payload_too_large",
				Message: "object exceeds " + strconv.Itoa(MaxUploadBytes>>20) + " MiB",
			})
			return
		}
		h.logger.Error("object upload failed",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.metrics.IncUpload(metrics.UploadOK)
	h.logger.Info("object stored", slog.String("bucket", bucket), slog.String("key", key))
	writeJSON(w, http.StatusOK, map[string]string{"Key": bucket + "/" + key})
}

type signRequest struct {
	ExpiresIn int `json:"expiresIn"` // seconds
}

// HandleSign returns a time-limited read URL for one of the caller's objects.
// The backend may refuse long lifetimes (S3 caps presigning at seven days).
//
// HTTP: POST /storage/v1/object/sign/{bucket}/{key...}
// Body: {"expiresIn": 2592000}
// Auth: Required
func (h *StorageHandler) HandleSign(w http.ResponseWriter, r *http.Request) {
	bucket, key, err := h.ownedTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req signRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ExpiresIn <= 0 {
		writeError(w, apperror.ValidationFailed("expiresIn", "expiresIn must be a positive number of seconds"))
		return
	}

	signed, err := h.store.SignedURL(r.Context(), bucket, key, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		h.logger.Warn("signing object URL failed",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "sign_failed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signedURL": signed})
}

// HandleSignedRead streams an object when the token verifies.
//
// HTTP: GET /storage/v1/object/sign/{bucket}/{key...}?token=...
func (h *StorageHandler) HandleSignedRead(w http.ResponseWriter, r *http.Request) {
	verifier, ok := h.store.(storage.TokenVerifier)
	if !ok {
		writeError(w, apperror.NotFound("signed route", r.URL.Path))
		return
	}
	bucket := chi.URLParam(r, "bucket")
	key, err := objectKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := verifier.VerifyToken(bucket, key, r.URL.Query().Get("token")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_signature", Message: err.Error()})
		return
	}
	h.serveObject(w, r, bucket, key)
}

// HandlePublicRead streams an object without authentication.
//
// HTTP: GET /storage/v1/object/public/{bucket}/{key...}
func (h *StorageHandler) HandlePublicRead(w http.ResponseWriter, r *http.Request) {
	key, err := objectKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h.serveObject(w, r, chi.URLParam(r, "bucket"), key)
}

func (h *StorageHandler) serveObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	obj, err := h.store.Open(r.Context(), bucket, key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrObjectNotFound), errors.Is(err, storage.ErrInvalidKey):
			writeError(w, apperror.NotFound("object", bucket+"/"+key))
		default:
			writeError(w, err)
		}
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Debug("object stream interrupted", slog.String("key", key), slog.String("error", err.Error()))
	}
}
