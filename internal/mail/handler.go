package mail

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/larder-scm/larder-scm/jobs"
)

// NewSendHandler returns the worker-side handler for mail:send tasks. A
// malformed payload is dropped; a delivery failure is returned so asynq
// retries it.
func NewSendHandler(sender *SMTPSender, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload jobs.SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Error("mail task payload unreadable", "error", err)
			return asynq.SkipRetry
		}
		if err := sender.Send(Message{To: payload.To, Subject: payload.Subject, Body: payload.Body}); err != nil {
			logger.Warn("mail delivery failed", "to", payload.To, "error", err)
			return err
		}
		logger.Info("mail delivered", "to", payload.To, "subject", payload.Subject)
		return nil
	}
}
