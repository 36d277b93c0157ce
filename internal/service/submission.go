package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/model"
	"github.com/melotech/melotech/internal/repository"
)

// ChangeNotifier receives every committed submission update.
// webhook.Dispatcher is the production implementation.
type ChangeNotifier interface {
	SubmissionChanged(ctx context.Context, before, after *model.Submission)
}

// SubmissionService implements the users and submissions table API.
//
// AUTHORIZATION:
// The client's route guard is only a convenience, so every rule is enforced here
// against the caller's own profile row:
//   - owner-scoped filters must name the caller's internal user ID
//   - unscoped reads, the owner join and review updates require admin
//   - inserts always start pending with no rating or feedback
type SubmissionService struct {
	users       repository.UserRepository
	submissions repository.SubmissionRepository
	notifier    ChangeNotifier
	logger      *slog.Logger
}

// NewSubmissionService wires a SubmissionService. notifier may be nil.
func NewSubmissionService(
	users repository.UserRepository,
	submissions repository.SubmissionRepository,
	notifier ChangeNotifier,
	logger *slog.Logger,
) *SubmissionService {
	return &SubmissionService{
		users:       users,
		submissions: submissions,
		notifier:    notifier,
		logger:      logger,
	}
}

// NewSubmission is the insert payload.
type NewSubmission struct {
	model.Metadata
	Files  []string `json:"files"`
	UserID string   `json:"userid"`
}

// caller loads the single profile row of the signed-in identity.
func (s *SubmissionService) caller(ctx context.Context, identityID string) (*model.User, error) {
	rows, err := s.users.ListUsersByAuthID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("service/submission: loading caller profile: %w", err)
	}
	switch len(rows) {
	case 1:
		return &rows[0], nil
	case 0:
		return nil, apperror.Forbidden("no user record for this identity")
	default:
		s.logger.Warn("identity has several user records", slog.String("identityID", identityID),
			slog.Int("rows", len(rows)))
		return nil, apperror.Forbidden("ambiguous user record for this identity")
	}
}

// Caller returns the profile row of the signed-in identity. Used by the websocket
// endpoints to decide which room a connection may join.
func (s *SubmissionService) Caller(ctx context.Context, identityID string) (*model.User, error) {
	return s.caller(ctx, identityID)
}

func (s *SubmissionService) admin(ctx context.Context, identityID string) (*model.User, error) {
	u, err := s.caller(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if !u.Admin {
		return nil, apperror.Forbidden("admin privileges required")
	}
	return u, nil
}

// ListUsers returns the profile rows linked to authID. Callers may read their own
// rows; admins may read anyone's. Zero or several rows are returned as they are.
func (s *SubmissionService) ListUsers(ctx context.Context, identityID, authID string) ([]model.User, error) {
	if authID == "" {
		return nil, apperror.ValidationFailed("authid", "authid filter is required")
	}
	if authID != identityID {
		if _, err := s.admin(ctx, identityID); err != nil {
			return nil, err
		}
	}
	users, err := s.users.ListUsersByAuthID(ctx, authID)
	if err != nil {
		return nil, fmt.Errorf("service/submission: listing users: %w", err)
	}
	return users, nil
}

// UpdateProfile edits the caller's own profile. The admin flag is not part of the patch.
func (s *SubmissionService) UpdateProfile(ctx context.Context, identityID, authID string, patch model.ProfilePatch) (*model.User, error) {
	if authID != identityID {
		return nil, apperror.Forbidden("profiles can only be edited by their owner")
	}
	u, err := s.caller(ctx, identityID)
	if err != nil {
		return nil, err
	}
	patch.Apply(u)
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("service/submission: updating profile: %w", err)
	}
	return u, nil
}

// ListSubmissions returns rows matching filter. A filter on the caller's own user ID
// is always allowed; anything else needs admin.
func (s *SubmissionService) ListSubmissions(ctx context.Context, identityID string, filter model.SubmissionFilter) ([]model.Submission, error) {
	u, err := s.caller(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if filter.UserID != u.ID && !u.Admin {
		return nil, apperror.Forbidden("submissions can only be listed by their owner")
	}
	subs, err := s.submissions.ListSubmissions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/submission: listing submissions: %w", err)
	}
	return subs, nil
}

// ListSubmissionsWithOwner is the admin read model: every row with its owner's name.
func (s *SubmissionService) ListSubmissionsWithOwner(ctx context.Context, identityID string, filter model.SubmissionFilter) ([]model.Submission, error) {
	if _, err := s.admin(ctx, identityID); err != nil {
		return nil, err
	}
	subs, err := s.submissions.ListSubmissionsWithOwner(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/submission: listing submissions with owner: %w", err)
	}
	return subs, nil
}

// CreateSubmission inserts a pending submission owned by the caller.
func (s *SubmissionService) CreateSubmission(ctx context.Context, identityID string, in NewSubmission) (*model.Submission, error) {
	u, err := s.caller(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if in.UserID != "" && in.UserID != u.ID {
		return nil, apperror.Forbidden("submissions can only be created for yourself")
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := in.Metadata.Validate(); err != nil {
		return nil, err
	}

	sub := &model.Submission{
		Title:       in.Title,
		Genre:       in.Genre,
		BPM:         in.BPM,
		Key:         in.Key,
		Description: in.Description,
		Files:       in.Files,
		Status:      model.StatusPending,
		UserID:      u.ID,
	}
	if err := s.submissions.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("service/submission: creating submission: %w", err)
	}

	s.logger.Info("submission created",
		slog.String("submissionID", sub.ID),
		slog.String("userID", u.ID),
		slog.Int("files", len(sub.Files)),
	)
	return sub, nil
}

// UpdateOwned applies an owner patch to one of the caller's submissions.
// A row owned by someone else is reported as not found.
func (s *SubmissionService) UpdateOwned(ctx context.Context, identityID, id, userID string, patch model.OwnerPatch) (*model.Submission, error) {
	u, err := s.caller(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if userID != u.ID {
		return nil, apperror.Forbidden("submissions can only be edited by their owner")
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	return s.update(ctx, model.SubmissionFilter{ID: id, UserID: u.ID}, func(sub *model.Submission) error {
		patch.Apply(sub)
		return nil
	})
}

// Review applies an admin review patch to any submission.
func (s *SubmissionService) Review(ctx context.Context, identityID, id string, patch model.ReviewPatch) (*model.Submission, error) {
	reviewer, err := s.admin(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	after, err := s.update(ctx, model.SubmissionFilter{ID: id}, func(sub *model.Submission) error {
		patch.Apply(sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("submission reviewed",
		slog.String("submissionID", after.ID),
		slog.String("reviewer", reviewer.ID),
		slog.String("status", string(after.Status)),
	)
	return after, nil
}

func (s *SubmissionService) update(ctx context.Context, filter model.SubmissionFilter, apply func(*model.Submission) error) (*model.Submission, error) {
	before, after, err := s.submissions.UpdateSubmission(ctx, filter, apply)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("service/submission: updating %s: %w", filter.ID, err)
	}
	if s.notifier != nil {
		s.notifier.SubmissionChanged(ctx, before, after)
	}
	return after, nil
}
