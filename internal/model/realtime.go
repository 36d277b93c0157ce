package model

import "encoding/json"

// MessageSubmissionUpdate is the envelope type pushed to the admin room after a review change.
const MessageSubmissionUpdate = "submission_update"

// Envelope is the JSON frame carried over the realtime sockets.
// Timestamp is seconds since the Unix epoch, fractional.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// ReviewState is the status/rating/feedback triple after an update.
type ReviewState struct {
	Status   Status  `json:"status"`
	Rating   *int    `json:"rating"`
	Feedback *string `json:"feedback"`
}

// SubmissionUpdate is the payload of a submission_update envelope.
type SubmissionUpdate struct {
	SubmissionID  string      `json:"submission_id"`
	Title         string      `json:"title"`
	UpdatedFields []string    `json:"updated_fields"`
	NewData       ReviewState `json:"new_data"`
	Timestamp     string      `json:"timestamp"`
}
