package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthenticated means there is no signed-in session for the call.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAuth covers bad credentials and identity-service transport failures.
	ErrAuth = errors.New("authentication failed")
	// ErrLookup means the profile row for an identity is missing.
	ErrLookup = errors.New("lookup failed")
	// ErrUploadFailed means a file could not be stored.
	ErrUploadFailed = errors.New("upload failed")
	// ErrRemote is a passthrough of a backend failure.
	ErrRemote = errors.New("remote error")
	// ErrChannel is a socket-level failure of the realtime channel.
	ErrChannel = errors.New("channel error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error from a collaborator
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated is returned when an operation needs a session and none exists.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Auth wraps a sign-in / sign-out failure with a message fit for display.
func Auth(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrAuth,
		Message: message,
		Cause:   cause,
	}
}

// LookupFailed reports that no profile row matches the identity.
func LookupFailed(identityID string) *AppError {
	return &AppError{
		Err:     ErrLookup,
		Message: fmt.Sprintf("no user record for identity %s", identityID),
	}
}

// UploadFailed reports which file could not be stored.
func UploadFailed(fileName string, cause error) *AppError {
	return &AppError{
		Err:     ErrUploadFailed,
		Message: fmt.Sprintf("uploading %s", fileName),
		Field:   fileName,
		Cause:   cause,
	}
}

// Remote wraps a backend failure that has no more specific meaning.
func Remote(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrRemote,
		Message: message,
		Cause:   cause,
	}
}

// Channel wraps a realtime socket failure.
func Channel(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrChannel,
		Message: message,
		Cause:   cause,
	}
}
