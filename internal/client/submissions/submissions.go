// Package submissions is the client's repository for artist submissions:
// uploading audio, creating rows, listing them for the artist or the admin,
// and applying owner edits or admin reviews.
//
// Every operation first resolves who is calling. Submissions are owned by the
// internal user ID, not the identity ID, while stored objects live under the
// identity ID.
package submissions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/client/identity"
	"github.com/melotech/melotech/internal/client/remote"
	"github.com/melotech/melotech/internal/client/roles"
	"github.com/melotech/melotech/internal/model"
)

const (
	// Bucket holds every uploaded audio file.
	Bucket = "melotechaudio"
	// SignedURLTTL is the lifetime requested for file links stored on a row.
	SignedURLTTL = 30 * 24 * time.Hour
)

// File is one audio file to upload. Name becomes the last segment of the key.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Caller is the resolved identity behind a call.
type Caller struct {
	IdentityID     string
	InternalUserID string
	IsAdmin        bool
}

// Repository talks to the table and storage endpoints.
type Repository struct {
	gateway  identity.Gateway
	resolver roles.Resolver
	rest     *remote.Client
	logger   *slog.Logger
	now      func() time.Time
}

func New(gateway identity.Gateway, resolver roles.Resolver, rest *remote.Client, logger *slog.Logger) *Repository {
	return &Repository{
		gateway:  gateway,
		resolver: resolver,
		rest:     rest,
		logger:   logger,
		now:      time.Now,
	}
}

// Caller resolves the signed-in identity and its user row.
func (r *Repository) Caller(ctx context.Context) (Caller, error) {
	s, err := r.gateway.CurrentUser(ctx)
	if err != nil {
		return Caller{}, err
	}
	if s == nil {
		return Caller{}, apperror.Unauthenticated("sign in to manage submissions")
	}
	role, err := r.resolver.Resolve(ctx, s.Identity.ID)
	if err != nil {
		return Caller{}, err
	}
	return Caller{
		IdentityID:     s.Identity.ID,
		InternalUserID: role.InternalUserID,
		IsAdmin:        role.IsAdmin,
	}, nil
}

// newRow is the insert body of POST /rest/v1/submissions.
type newRow struct {
	model.Metadata
	Files  []string `json:"files"`
	UserID string   `json:"userid"`
}

// Create uploads files concurrently and then inserts one pending row that
// links to them. files may be empty. If any upload fails nothing is inserted; files that did
// upload stay in the bucket.
func (r *Repository) Create(ctx context.Context, meta model.Metadata, files []File) (*model.Submission, error) {
	meta.Title = strings.TrimSpace(meta.Title)
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if err := validateFiles(files); err != nil {
		return nil, err
	}

	caller, err := r.Caller(ctx)
	if err != nil {
		return nil, err
	}

	stamp := r.now().UnixMilli()
	urls := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			key := fmt.Sprintf("%s/%d-%s", caller.IdentityID, stamp, f.Name)
			u, err := r.upload(gctx, key, f)
			if err != nil {
				return apperror.UploadFailed(f.Name, err)
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("submission upload failed", slog.String("error", err.Error()))
		return nil, err
	}

	var sub model.Submission
	row := newRow{Metadata: meta, Files: urls, UserID: caller.InternalUserID}
	if err := r.rest.Post(ctx, "/rest/v1/submissions", row, &sub); err != nil {
		return nil, fmt.Errorf("submissions: inserting row: %w", err)
	}

	r.logger.Info("submission created",
		slog.String("submissionID", sub.ID),
		slog.Int("files", len(urls)),
	)
	return &sub, nil
}

func (r *Repository) upload(ctx context.Context, key string, f File) (string, error) {
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	if err := r.rest.Put(ctx, objectPath("", key), f.Body, ct); err != nil {
		return "", err
	}
	return r.fileURL(ctx, key), nil
}

// fileURL prefers a signed link and falls back to the public one.
func (r *Repository) fileURL(ctx context.Context, key string) string {
	var out struct {
		SignedURL string `json:"signedURL"`
	}
	body := map[string]int{"expiresIn": int(SignedURLTTL / time.Second)}
	err := r.rest.Post(ctx, objectPath("sign", key), body, &out)
	if err == nil && out.SignedURL != "" {
		return r.rest.Absolute(out.SignedURL)
	}
	if err != nil {
		r.logger.Warn("signing file URL failed; using public URL",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return r.rest.Absolute(objectPath("public", key))
}

// objectPath builds /storage/v1/object[/kind]/melotechaudio/{escaped key}.
func objectPath(kind, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	p := "/storage/v1/object/"
	if kind != "" {
		p += kind + "/"
	}
	return p + Bucket + "/" + strings.Join(parts, "/")
}

func validateFiles(files []File) error {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		switch {
		case strings.TrimSpace(f.Name) == "":
			return apperror.ValidationFailed("files", "file name is required")
		case strings.ContainsAny(f.Name, "/\\") || f.Name == "." || f.Name == "..":
			return apperror.ValidationFailed("files", fmt.Sprintf("invalid file name %q", f.Name))
		case seen[f.Name]:
			return apperror.ValidationFailed("files", fmt.Sprintf("duplicate file name %q", f.Name))
		case f.Body == nil:
			return apperror.ValidationFailed("files", fmt.Sprintf("file %q has no content", f.Name))
		}
		seen[f.Name] = true
	}
	return nil
}

// ListMine returns the caller's own submissions.
func (r *Repository) ListMine(ctx context.Context) ([]model.Submission, error) {
	caller, err := r.Caller(ctx)
	if err != nil {
		return nil, err
	}
	var subs []model.Submission
	if err := r.rest.Get(ctx, "/rest/v1/submissions", url.Values{"userid": {caller.InternalUserID}}, &subs); err != nil {
		return nil, fmt.Errorf("submissions: listing own: %w", err)
	}
	return subs, nil
}

// ListAll returns every submission with its owner's display name. Admin only.
func (r *Repository) ListAll(ctx context.Context) ([]model.Submission, error) {
	if _, err := r.Caller(ctx); err != nil {
		return nil, err
	}
	var subs []model.Submission
	if err := r.rest.Get(ctx, "/rest/v1/submissions_with_owner", nil, &subs); err != nil {
		return nil, fmt.Errorf("submissions: listing all: %w", err)
	}
	return subs, nil
}

// GetByID returns one of the caller's submissions. Someone else's is not found.
func (r *Repository) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "submission id is required")
	}
	caller, err := r.Caller(ctx)
	if err != nil {
		return nil, err
	}
	var subs []model.Submission
	q := url.Values{"id": {id}, "userid": {caller.InternalUserID}}
	if err := r.rest.Get(ctx, "/rest/v1/submissions", q, &subs); err != nil {
		return nil, fmt.Errorf("submissions: loading %s: %w", id, err)
	}
	if len(subs) == 0 {
		return nil, apperror.NotFound("submission", id)
	}
	return &subs[0], nil
}

// Update edits pre-review fields of one of the caller's submissions.
func (r *Repository) Update(ctx context.Context, id string, patch model.OwnerPatch) (*model.Submission, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	caller, err := r.Caller(ctx)
	if err != nil {
		return nil, err
	}
	var sub model.Submission
	q := url.Values{"id": {id}, "userid": {caller.InternalUserID}}
	if err := r.rest.Patch(ctx, "/rest/v1/submissions", q, patch, &sub); err != nil {
		return nil, fmt.Errorf("submissions: updating %s: %w", id, err)
	}
	return &sub, nil
}

// UpdateAsAdmin sets the review fields of any submission.
func (r *Repository) UpdateAsAdmin(ctx context.Context, id string, patch model.ReviewPatch) (*model.Submission, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.Caller(ctx); err != nil {
		return nil, err
	}
	var sub model.Submission
	if err := r.rest.Patch(ctx, "/rest/v1/submissions", url.Values{"id": {id}}, patch, &sub); err != nil {
		return nil, fmt.Errorf("submissions: reviewing %s: %w", id, err)
	}
	r.logger.Info("submission reviewed", slog.String("submissionID", id))
	return &sub, nil
}

// Profile returns the caller's user row.
func (r *Repository) Profile(ctx context.Context) (*model.User, error) {
	s, err := r.gateway.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperror.Unauthenticated("sign in to view your profile")
	}
	var rows []model.User
	if err := r.rest.Get(ctx, "/rest/v1/users", url.Values{"authid": {s.Identity.ID}}, &rows); err != nil {
		return nil, fmt.Errorf("submissions: loading profile: %w", err)
	}
	if len(rows) != 1 {
		return nil, apperror.LookupFailed(s.Identity.ID)
	}
	return &rows[0], nil
}

// UpdateProfile edits the caller's user row. The admin flag cannot be changed.
func (r *Repository) UpdateProfile(ctx context.Context, patch model.ProfilePatch) (*model.User, error) {
	s, err := r.gateway.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperror.Unauthenticated("sign in to edit your profile")
	}
	var u model.User
	if err := r.rest.Patch(ctx, "/rest/v1/users", url.Values{"authid": {s.Identity.ID}}, patch, &u); err != nil {
		return nil, fmt.Errorf("submissions: updating profile: %w", err)
	}
	return &u, nil
}
