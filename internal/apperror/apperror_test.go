package apperror

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case names an error constructor and the sentinel errors.Is should (or should not)
// find in its chain.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("submission", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("bpm", "bpm must be positive"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Unauthenticated wraps ErrUnauthenticated",
			err:       Unauthenticated("no session"),
			target:    ErrUnauthenticated,
			wantMatch: true,
		},
		{
			name:      "LookupFailed wraps ErrLookup",
			err:       LookupFailed("identity-1"),
			target:    ErrLookup,
			wantMatch: true,
		},
		{
			name:      "UploadFailed wraps ErrUploadFailed",
			err:       UploadFailed("mix.wav", io.ErrUnexpectedEOF),
			target:    ErrUploadFailed,
			wantMatch: true,
		},
		{
			name:      "UploadFailed also exposes its cause",
			err:       UploadFailed("mix.wav", io.ErrUnexpectedEOF),
			target:    io.ErrUnexpectedEOF,
			wantMatch: true,
		},
		{
			name:      "wrapped Remote still matches",
			err:       fmt.Errorf("listing: %w", Remote("backend down", nil)),
			target:    ErrRemote,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("submission", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Auth does NOT match ErrUnauthenticated",
			err:       Auth("invalid email or password", nil),
			target:    ErrUnauthenticated,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("submission", "abc123"),
			wantMessage: "submission not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("title", "title is required"),
			wantMessage: "title is required",
		},
		{
			name:        "Conflict message includes resource and id",
			err:         Conflict("identity", "a@b.c"),
			wantMessage: "identity conflict with id a@b.c",
		},
		{
			name:        "cause is appended",
			err:         UploadFailed("a.wav", errors.New("disk full")),
			wantMessage: "uploading a.wav: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestErrorsAs(t *testing.T) {
	err := fmt.Errorf("creating submission: %w", UploadFailed("b.wav", nil))

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As should find the AppError")
	}
	if appErr.Field != "b.wav" {
		t.Errorf("Field = %q, want %q", appErr.Field, "b.wav")
	}
}
