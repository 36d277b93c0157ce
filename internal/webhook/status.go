package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/mailer"
	"github.com/melotech/melotech/internal/metrics"
	"github.com/melotech/melotech/internal/model"
)

// UserLookup finds the owner of a submission by internal user ID.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// StatusNotifier emails the owner when a review moves a submission to
// approved, rejected or in-review.
type StatusNotifier struct {
	users   UserLookup
	mailer  mailer.Mailer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewStatusNotifier(users UserLookup, m mailer.Mailer, mt *metrics.Metrics, logger *slog.Logger) *StatusNotifier {
	return &StatusNotifier{users: users, mailer: m, metrics: mt, logger: logger}
}

func (n *StatusNotifier) Name() string { return "status" }

func (n *StatusNotifier) Process(ctx context.Context, ev Event) (Result, error) {
	if res, ok := submissionsOnly(ev); !ok {
		n.metrics.IncWebhookEvent(n.Name(), metrics.OutcomeIgnored)
		return res, nil
	}
	if ev.Record == nil {
		return Result{}, apperror.ValidationFailed("record", "event has no record")
	}

	rec := ev.Record
	var oldStatus model.Status
	if ev.OldRecord != nil {
		oldStatus = ev.OldRecord.Status
	}
	if oldStatus == rec.Status || !mailer.Notifies(rec.Status) {
		n.metrics.IncWebhookEvent(n.Name(), metrics.OutcomeIgnored)
		return Result{
			Message:      "Status not changed or not a notifying status",
			SubmissionID: rec.ID,
			Status:       rec.Status,
		}, nil
	}
	if rec.UserID == "" {
		n.metrics.IncWebhookEvent(n.Name(), metrics.OutcomeIgnored)
		return Result{Message: "No userid found in submission record", SubmissionID: rec.ID}, nil
	}

	owner, err := n.users.GetUserByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			n.metrics.IncWebhookEvent(n.Name(), metrics.OutcomeIgnored)
			return Result{Message: "User email not found", SubmissionID: rec.ID}, nil
		}
		n.metrics.IncWebhookEvent(n.Name(), metrics.OutcomeFailed)
		return Result{}, fmt.Errorf("webhook/status: looking up owner %s: %w", rec.UserID, err)
	}
	if owner.Email == "" {
		n.metrics.IncWebhookEvent(n.Name(), metrics.OutcomeIgnored)
		return Result{Message: "User email not found", SubmissionID: rec.ID}, nil
	}

	msg := mailer.StatusUpdate{To: owner.Email, Title: rec.Title, Status: rec.Status}
	if rec.Feedback != nil {
		msg.Feedback = *rec.Feedback
	}

	res := Result{SubmissionID: rec.ID, Status: rec.Status, UserEmail: owner.Email}
	err = n.mailer.SendStatusUpdate(ctx, msg)
	n.metrics.IncEmail(string(rec.Status), err)
	if err != nil {
		n.logger.Error("status email failed",
			slog.String("submissionID", rec.ID),
			slog.String("status", string(rec.Status)),
			slog.String("error", err.Error()),
		)
		n.metrics.IncWebhookEvent(n.Name(), metrics.OutcomeFailed)
		res.Message = "Failed to send email notification"
		return res, nil
	}

	n.metrics.IncWebhookEvent(n.Name(), metrics.OutcomeProcessed)
	res.Message = "Email notification sent successfully"
	return res, nil
}
