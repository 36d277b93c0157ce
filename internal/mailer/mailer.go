// Package mailer sends submission status emails through Mailgun.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/melotech/melotech/internal/model"
)

// Mailer sends the email an artist gets when their submission changes status.
type Mailer interface {
	SendStatusUpdate(ctx context.Context, msg StatusUpdate) error
}

// StatusUpdate is everything a status email needs.
type StatusUpdate struct {
	To       string
	Title    string
	Status   model.Status
	Feedback string
}

// Config holds the Mailgun account settings.
type Config struct {
	APIKey  string
	Domain  string
	From    string
	BaseURL string // https://api.mailgun.net, or the EU endpoint
}

// Mailgun posts to the Mailgun messages API.
type Mailgun struct {
	client *resty.Client
	domain string
	from   string
	logger *slog.Logger
}

// NewMailgun builds a Mailgun mailer. The client authenticates as api:<key>.
func NewMailgun(cfg Config, logger *slog.Logger) *Mailgun {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.mailgun.net"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetBasicAuth("api", cfg.APIKey).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Mailgun{client: client, domain: cfg.Domain, from: cfg.From, logger: logger}
}

// SendStatusUpdate renders the template for msg.Status and posts it.
func (m *Mailgun) SendStatusUpdate(ctx context.Context, msg StatusUpdate) error {
	content, err := Render(msg)
	if err != nil {
		return err
	}

	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"from":    m.from,
			"to":      msg.To,
			"subject": content.Subject,
			"text":    content.Text,
			"html":    content.HTML,
		}).
		Post("/v3/" + m.domain + "/messages")
	if err != nil {
		return fmt.Errorf("mailer: posting to mailgun: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mailer: mailgun returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	m.logger.Info("status email sent",
		slog.String("to", msg.To),
		slog.String("title", msg.Title),
		slog.String("status", string(msg.Status)),
	)
	return nil
}

// Noop logs instead of sending. Used when Mailgun is not configured.
type Noop struct {
	Logger *slog.Logger
}

// SendStatusUpdate records the email that would have been sent.
func (n Noop) SendStatusUpdate(_ context.Context, msg StatusUpdate) error {
	n.Logger.Info("mailer disabled, skipping status email",
		slog.String("to", msg.To),
		slog.String("status", string(msg.Status)),
	)
	return nil
}

// Content is a rendered email.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

type emailTemplate struct {
	subject string
	html    *template.Template
	text    *texttemplate.Template
}

const footerHTML = `<hr style="margin: 20px 0;"><p style="color: #6b7280; font-size: 14px;">Best regards,<br>The MeloTech Team</p>`

var templates = map[model.Status]emailTemplate{
	model.StatusApproved: {
		subject: "🎉 Your Submission Has Been Accepted!",
		html: template.Must(template.New("accepted").Parse(`<html><body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #10b981;">Great News!</h2>
<p>Your submission "<strong>{{.Title}}</strong>" has been <strong>accepted</strong>!</p>
<p>Congratulations! We're excited to work with you on this project.</p>
{{if .Feedback}}<p><strong>Feedback:</strong> {{.Feedback}}</p>{{end}}
<p>Thank you for your submission and we look forward to hearing more from you!</p>
` + footerHTML + `</body></html>`)),
		text: texttemplate.Must(texttemplate.New("accepted").Parse(
			`Great News! Your submission '{{.Title}}' has been accepted! Congratulations! We're excited to work with you on this project.{{if .Feedback}} Feedback: {{.Feedback}}{{end}} Thank you for your submission and we look forward to hearing more from you! Best regards, The MeloTech Team`)),
	},
	model.StatusRejected: {
		subject: "Update on Your Submission",
		html: template.Must(template.New("rejected").Parse(`<html><body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #ef4444;">Submission Update</h2>
<p>Thank you for your submission "<strong>{{.Title}}</strong>".</p>
<p>Unfortunately, we won't be able to move forward with this particular submission at this time.</p>
{{if .Feedback}}<p><strong>Feedback:</strong> {{.Feedback}}</p>{{end}}
<p>We encourage you to keep creating and submitting new work. We're always looking for fresh talent!</p>
` + footerHTML + `</body></html>`)),
		text: texttemplate.Must(texttemplate.New("rejected").Parse(
			`Thank you for your submission '{{.Title}}'. Unfortunately, we won't be able to move forward with this particular submission at this time.{{if .Feedback}} Feedback: {{.Feedback}}{{end}} We encourage you to keep creating and submitting new work. We're always looking for fresh talent! Best regards, The MeloTech Team`)),
	},
	model.StatusInReview: {
		subject: "Your Submission is Under Review",
		html: template.Must(template.New("review").Parse(`<html><body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #f59e0b;">Submission Under Review</h2>
<p>Your submission "<strong>{{.Title}}</strong>" is now under review.</p>
<p>We'll get back to you as soon as possible with our decision.</p>
<p>Thank you for your patience!</p>
` + footerHTML + `</body></html>`)),
		text: texttemplate.Must(texttemplate.New("review").Parse(
			`Your submission '{{.Title}}' is now under review. We'll get back to you as soon as possible with our decision. Thank you for your patience! Best regards, The MeloTech Team`)),
	},
}

// Notifies reports whether a change to status triggers an email.
func Notifies(status model.Status) bool {
	_, ok := templates[status]
	return ok
}

// Render fills the template for msg.Status. Statuses without their own template
// use the under-review one. User text is HTML-escaped.
func Render(msg StatusUpdate) (Content, error) {
	tpl, ok := templates[msg.Status]
	if !ok {
		tpl = templates[model.StatusInReview]
	}
	if msg.Title == "" {
		msg.Title = "Your Submission"
	}

	var html, text bytes.Buffer
	if err := tpl.html.Execute(&html, msg); err != nil {
		return Content{}, fmt.Errorf("mailer: rendering html: %w", err)
	}
	if err := tpl.text.Execute(&text, msg); err != nil {
		return Content{}, fmt.Errorf("mailer: rendering text: %w", err)
	}
	return Content{Subject: tpl.subject, Text: text.String(), HTML: html.String()}, nil
}
