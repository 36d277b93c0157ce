package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/metrics"
	"github.com/melotech/melotech/internal/model"
	"github.com/melotech/melotech/internal/realtime"
)

const unknownTitle = "Unknown Title"

// Broadcaster is the part of realtime.Hub the relay pushes through.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, env model.Envelope) int
	SendToUser(ctx context.Context, userID string, env model.Envelope) int
}

// RealtimeRelay pushes a submission_update envelope to the admin room and to
// the owning artist's connections.
type RealtimeRelay struct {
	hub     Broadcaster
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewRealtimeRelay(hub Broadcaster, m *metrics.Metrics, logger *slog.Logger) *RealtimeRelay {
	return &RealtimeRelay{hub: hub, metrics: m, logger: logger}
}

func (r *RealtimeRelay) Name() string { return "realtime" }

func (r *RealtimeRelay) Process(ctx context.Context, ev Event) (Result, error) {
	if res, ok := submissionsOnly(ev); !ok {
		r.metrics.IncWebhookEvent(r.Name(), metrics.OutcomeIgnored)
		return res, nil
	}
	if ev.Record == nil {
		return Result{}, apperror.ValidationFailed("record", "event has no record")
	}

	update := BuildUpdate(ev.Record, ev.OldRecord)
	env, err := realtime.NewEnvelope(model.MessageSubmissionUpdate, update)
	if err != nil {
		r.metrics.IncWebhookEvent(r.Name(), metrics.OutcomeFailed)
		return Result{}, fmt.Errorf("webhook/realtime: %w", err)
	}

	admins := r.hub.Broadcast(ctx, realtime.RoomAdmin, env)
	artists := 0
	if ev.Record.UserID != "" {
		artists = r.hub.SendToUser(ctx, ev.Record.UserID, env)
	}
	r.logger.Debug("submission update relayed",
		slog.String("submissionID", update.SubmissionID),
		slog.Any("updatedFields", update.UpdatedFields),
		slog.Int("admins", admins),
		slog.Int("artists", artists),
	)

	r.metrics.IncWebhookEvent(r.Name(), metrics.OutcomeProcessed)
	return Result{
		Message:      "Real-time submission update processed",
		SubmissionID: update.SubmissionID,
		Status:       update.NewData.Status,
		Update:       &update,
	}, nil
}

// BuildUpdate diffs the review fields of old and rec. A nil old counts every
// set review field as updated.
func BuildUpdate(rec, old *model.Submission) model.SubmissionUpdate {
	if old == nil {
		old = &model.Submission{}
	}

	fields := []string{}
	if old.Status != rec.Status {
		fields = append(fields, "status")
	}
	if !sameInt(old.Rating, rec.Rating) {
		fields = append(fields, "rating")
	}
	if !sameText(old.Feedback, rec.Feedback) {
		fields = append(fields, "feedback")
	}

	title := rec.Title
	if title == "" {
		title = unknownTitle
	}
	ts := rec.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return model.SubmissionUpdate{
		SubmissionID:  rec.ID,
		Title:         title,
		UpdatedFields: fields,
		NewData: model.ReviewState{
			Status:   rec.Status,
			Rating:   rec.Rating,
			Feedback: rec.Feedback,
		},
		Timestamp: ts.Format(time.RFC3339Nano),
	}
}
