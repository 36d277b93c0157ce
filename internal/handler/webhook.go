package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/webhook"
)

// WebhookHandler receives database webhooks for the submissions table.
type WebhookHandler struct {
	secret string
	logger *slog.Logger
}

func NewWebhookHandler(secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, logger: logger}
}

// Handle returns the endpoint for one processor.
//
// HTTP: POST /webhook/submission-status-update  (StatusNotifier)
// HTTP: POST /webhook/submission-update         (RealtimeRelay)
// Header: X-Signature: hex HMAC-SHA256 of the body, required when a secret is configured
func (h *WebhookHandler) Handle(p webhook.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
		if err != nil {
			writeError(w, apperror.ValidationFailed("", "could not read request body"))
			return
		}

		if err := webhook.VerifySignature(h.secret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
			h.logger.Warn("webhook signature rejected",
				slog.String("processor", p.Name()),
				slog.String("remote", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			writeError(w, apperror.Unauthenticated("Invalid webhook signature"))
			return
		}

		var ev webhook.Event
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&ev); err != nil {
			writeError(w, apperror.ValidationFailed("", "Invalid JSON payload"))
			return
		}

		res, err := p.Process(r.Context(), ev)
		if err != nil {
			if !errors.Is(err, apperror.ErrValidation) {
				h.logger.Error("webhook processing failed",
					slog.String("processor", p.Name()),
					slog.String("error", err.Error()),
				)
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
