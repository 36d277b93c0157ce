package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/melotech/melotech/internal/apperror"
)

// Status is the review state of a submission.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInReview Status = "in-review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Rating bounds. A rating is optional; when set it must fall inside [MinRating, MaxRating].
const (
	MinRating = 1
	MaxRating = 10
)

// Valid reports whether s is one of the four review states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Submission is one artist track under review.
//
// Rating and Feedback are pointers because "unset" is a real state distinct from 0 / "".
// UserID is the owner's internal User.ID and never changes after creation.
// Owner is only populated by the admin read model (submissions joined with users).
type Submission struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Genre       string    `json:"genre"`
	BPM         int       `json:"bpm"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	Files       []string  `json:"files"`
	Status      Status    `json:"status"`
	Rating      *int      `json:"rating"`
	Feedback    *string   `json:"feedback"`
	UserID      string    `json:"userid"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Owner       *Owner    `json:"users,omitempty"`
}

// Owner is the display slice of a User attached to admin listings.
type Owner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SubmissionFilter selects submissions by equality. Empty fields do not filter.
type SubmissionFilter struct {
	ID     string
	UserID string
}

// Metadata is what an artist fills in when creating a submission.
type Metadata struct {
	Title       string `json:"title"`
	Genre       string `json:"genre"`
	BPM         int    `json:"bpm"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

// Validate enforces the creation rules: a title and a positive BPM.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return apperror.ValidationFailed("title", "submission title is required")
	}
	if m.BPM <= 0 {
		return apperror.ValidationFailed("bpm", "bpm must be a positive integer")
	}
	return nil
}

// OwnerPatch holds the pre-review fields an artist may change on their own submission.
type OwnerPatch struct {
	Title       *string `json:"title,omitempty"`
	Genre       *string `json:"genre,omitempty"`
	BPM         *int    `json:"bpm,omitempty"`
	Key         *string `json:"key,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Validate checks the fields that are present.
func (p OwnerPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return apperror.ValidationFailed("title", "submission title cannot be empty")
	}
	if p.BPM != nil && *p.BPM <= 0 {
		return apperror.ValidationFailed("bpm", "bpm must be a positive integer")
	}
	return nil
}

// Apply copies the non-nil fields of p onto s.
func (p OwnerPatch) Apply(s *Submission) {
	if p.Title != nil {
		s.Title = strings.TrimSpace(*p.Title)
	}
	if p.Genre != nil {
		s.Genre = *p.Genre
	}
	if p.BPM != nil {
		s.BPM = *p.BPM
	}
	if p.Key != nil {
		s.Key = *p.Key
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
}

// ReviewPatch holds the fields an admin sets while reviewing.
type ReviewPatch struct {
	Status   *Status `json:"status,omitempty"`
	Rating   *int    `json:"rating,omitempty"`
	Feedback *string `json:"feedback,omitempty"`
}

// Validate checks the status enum and the rating range.
func (p ReviewPatch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", *p.Status))
	}
	if p.Rating != nil && (*p.Rating < MinRating || *p.Rating > MaxRating) {
		return apperror.ValidationFailed("rating",
			fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	if p.Status == nil && p.Rating == nil && p.Feedback == nil {
		return apperror.ValidationFailed("", "review update has no fields")
	}
	return nil
}

// Apply copies the non-nil fields of p onto s.
func (p ReviewPatch) Apply(s *Submission) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Rating != nil {
		r := *p.Rating
		s.Rating = &r
	}
	if p.Feedback != nil {
		f := *p.Feedback
		s.Feedback = &f
	}
}
