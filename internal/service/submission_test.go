package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/model"
	"github.com/melotech/melotech/internal/repository/sqlite"
)

// recordingNotifier captures SubmissionChanged calls.
type recordingNotifier struct {
	mu      sync.Mutex
	changes [][2]*model.Submission
}

func (r *recordingNotifier) SubmissionChanged(_ context.Context, before, after *model.Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, [2]*model.Submission{before, after})
}

type submissionFixture struct {
	svc      *SubmissionService
	notifier *recordingNotifier
	artist   *model.User
	other    *model.User
	admin    *model.User
}

// newSubmissionFixture runs the service against an in-memory database with one
// artist, a second artist and an admin.
func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	mkUser := func(email string, admin bool) *model.User {
		identity := &model.Identity{Email: email, PasswordHash: "x"}
		require.NoError(t, db.CreateIdentity(ctx, identity))
		u := &model.User{AuthID: identity.ID, Name: email, Email: email, Admin: admin}
		require.NoError(t, db.CreateUser(ctx, u))
		return u
	}

	n := &recordingNotifier{}
	return &submissionFixture{
		svc:      NewSubmissionService(db, db, n, testLogger()),
		notifier: n,
		artist:   mkUser("luna@example.com", false),
		other:    mkUser("kai@example.com", false),
		admin:    mkUser("boss@example.com", true),
	}
}

func (f *submissionFixture) create(t *testing.T, owner *model.User, title string) *model.Submission {
	t.Helper()
	sub, err := f.svc.CreateSubmission(context.Background(), owner.AuthID, NewSubmission{
		Metadata: model.Metadata{Title: title, Genre: "House", BPM: 124},
		Files:    []string{"a.wav", "b.wav"},
		UserID:   owner.ID,
	})
	require.NoError(t, err)
	return sub
}

func TestCreateSubmission_ForcesPending(t *testing.T) {
	f := newSubmissionFixture(t)

	sub := f.create(t, f.artist, "Night Drive")

	assert.Equal(t, model.StatusPending, sub.Status)
	assert.Nil(t, sub.Rating)
	assert.Nil(t, sub.Feedback)
	assert.Len(t, sub.Files, 2)
	assert.Equal(t, f.artist.ID, sub.UserID)
}

func TestCreateSubmission_Rules(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  string
		in      NewSubmission
		wantErr error
	}{
		{
			name:    "for someone else",
			caller:  f.artist.AuthID,
			in:      NewSubmission{Metadata: model.Metadata{Title: "x", BPM: 120}, UserID: f.other.ID},
			wantErr: apperror.ErrForbidden,
		},
		{
			name:    "missing title",
			caller:  f.artist.AuthID,
			in:      NewSubmission{Metadata: model.Metadata{Title: "  ", BPM: 120}},
			wantErr: apperror.ErrValidation,
		},
		{
			name:    "zero bpm",
			caller:  f.artist.AuthID,
			in:      NewSubmission{Metadata: model.Metadata{Title: "x"}},
			wantErr: apperror.ErrValidation,
		},
		{
			name:    "identity without profile",
			caller:  "unknown-identity",
			in:      NewSubmission{Metadata: model.Metadata{Title: "x", BPM: 120}},
			wantErr: apperror.ErrForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateSubmission(ctx, tt.caller, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListSubmissions_Authorization(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	mine := f.create(t, f.artist, "mine")
	f.create(t, f.other, "theirs")

	t.Run("own rows", func(t *testing.T) {
		got, err := f.svc.ListSubmissions(ctx, f.artist.AuthID, model.SubmissionFilter{UserID: f.artist.ID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, mine.ID, got[0].ID)
	})

	t.Run("someone else's rows", func(t *testing.T) {
		_, err := f.svc.ListSubmissions(ctx, f.artist.AuthID, model.SubmissionFilter{UserID: f.other.ID})
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})

	t.Run("unscoped as artist", func(t *testing.T) {
		_, err := f.svc.ListSubmissions(ctx, f.artist.AuthID, model.SubmissionFilter{})
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})

	t.Run("unscoped as admin", func(t *testing.T) {
		got, err := f.svc.ListSubmissions(ctx, f.admin.AuthID, model.SubmissionFilter{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("owner join is admin only", func(t *testing.T) {
		_, err := f.svc.ListSubmissionsWithOwner(ctx, f.artist.AuthID, model.SubmissionFilter{})
		assert.ErrorIs(t, err, apperror.ErrForbidden)

		got, err := f.svc.ListSubmissionsWithOwner(ctx, f.admin.AuthID, model.SubmissionFilter{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, s := range got {
			assert.NotNil(t, s.Owner)
		}
	})
}

func TestUpdateOwned(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	sub := f.create(t, f.artist, "Night Drive")
	bpm := 126

	updated, err := f.svc.UpdateOwned(ctx, f.artist.AuthID, sub.ID, f.artist.ID, model.OwnerPatch{BPM: &bpm})
	require.NoError(t, err)
	assert.Equal(t, 126, updated.BPM)
	assert.Equal(t, model.StatusPending, updated.Status)
	require.Len(t, f.notifier.changes, 1)

	t.Run("other artist cannot reach it", func(t *testing.T) {
		_, err := f.svc.UpdateOwned(ctx, f.other.AuthID, sub.ID, f.other.ID, model.OwnerPatch{BPM: &bpm})
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("owner filter must be the caller", func(t *testing.T) {
		_, err := f.svc.UpdateOwned(ctx, f.other.AuthID, sub.ID, f.artist.ID, model.OwnerPatch{BPM: &bpm})
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})
}

func TestReview(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	sub := f.create(t, f.artist, "Night Drive")

	status := model.StatusApproved
	rating := 8
	feedback := "Great mix"
	patch := model.ReviewPatch{Status: &status, Rating: &rating, Feedback: &feedback}

	_, err := f.svc.Review(ctx, f.artist.AuthID, sub.ID, patch)
	assert.ErrorIs(t, err, apperror.ErrForbidden, "artists cannot review")

	reviewed, err := f.svc.Review(ctx, f.admin.AuthID, sub.ID, patch)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, reviewed.Status)

	// The owner sees the review on their next read.
	got, err := f.svc.ListSubmissions(ctx, f.artist.AuthID, model.SubmissionFilter{ID: sub.ID, UserID: f.artist.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Rating)
	assert.Equal(t, 8, *got[0].Rating)
	assert.Equal(t, "Great mix", *got[0].Feedback)

	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, model.StatusPending, f.notifier.changes[0][0].Status)
	assert.Equal(t, model.StatusApproved, f.notifier.changes[0][1].Status)
}

func TestReview_Validation(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	sub := f.create(t, f.artist, "Night Drive")

	bad := 11
	_, err := f.svc.Review(ctx, f.admin.AuthID, sub.ID, model.ReviewPatch{Rating: &bad})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	unknown := model.Status("accepted")
	_, err = f.svc.Review(ctx, f.admin.AuthID, sub.ID, model.ReviewPatch{Status: &unknown})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.Review(ctx, f.admin.AuthID, "missing", model.ReviewPatch{Rating: &[]int{5}[0]})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	assert.Empty(t, f.notifier.changes)
}

func TestUsersAndProfile(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()

	rows, err := f.svc.ListUsers(ctx, f.artist.AuthID, f.artist.AuthID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, f.artist.ID, rows[0].ID)

	_, err = f.svc.ListUsers(ctx, f.artist.AuthID, f.other.AuthID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	rows, err = f.svc.ListUsers(ctx, f.admin.AuthID, f.other.AuthID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	bio := "ambient producer"
	u, err := f.svc.UpdateProfile(ctx, f.artist.AuthID, f.artist.AuthID, model.ProfilePatch{Biography: &bio})
	require.NoError(t, err)
	assert.Equal(t, bio, u.Biography)
	assert.False(t, u.Admin)

	_, err = f.svc.UpdateProfile(ctx, f.artist.AuthID, f.other.AuthID, model.ProfilePatch{Biography: &bio})
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}
