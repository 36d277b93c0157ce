// Package webhook turns database change events on the submissions table into
// status emails and realtime pushes.
//
// Events arrive two ways: as signed HTTP webhooks (see handler.WebhookHandler),
// and in-process from the table API through Dispatcher. Both feed the same
// processors.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/melotech/melotech/internal/model"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

const (
	EventUpdate      = "UPDATE"
	TableSubmissions = "submissions"
)

var (
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
)

// Event is a database webhook payload for one changed row.
type Event struct {
	Type      string            `json:"type"`
	Table     string            `json:"table"`
	Schema    string            `json:"schema"`
	Record    *model.Submission `json:"record"`
	OldRecord *model.Submission `json:"old_record"`
}

// Result is the JSON body returned to the webhook caller.
type Result struct {
	Message      string                  `json:"message"`
	SubmissionID string                  `json:"submission_id,omitempty"`
	Status       model.Status            `json:"status,omitempty"`
	UserEmail    string                  `json:"user_email,omitempty"`
	Update       *model.SubmissionUpdate `json:"update,omitempty"`
}

// Processor handles one event. Errors are reserved for malformed events and
// infrastructure failures; an event that needs no action returns a Result.
type Processor interface {
	Name() string
	Process(ctx context.Context, ev Event) (Result, error)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body. With an empty secret every
// request is accepted; otherwise the signature is mandatory.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// submissionsOnly reports events for other tables as ignorable.
func submissionsOnly(ev Event) (Result, bool) {
	if ev.Table != TableSubmissions {
		return Result{Message: "Unsupported table: " + ev.Table}, false
	}
	return Result{}, true
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameText treats an unset feedback and an empty one as equal.
func sameText(a, b *string) bool {
	var x, y string
	if a != nil {
		x = *a
	}
	if b != nil {
		y = *b
	}
	return x == y
}
