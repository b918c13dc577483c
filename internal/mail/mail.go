// Package mail queues and delivers the plain-text notification emails the
// workflows produce: purchase orders to suppliers, production requests and
// status notices. Messages are enqueued after the surrounding transaction
// commits; a delivery failure is logged and retried by the worker, it never
// affects the workflow that produced it.
package mail

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/larder-scm/larder-scm/jobs"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Enqueuer hands messages to the background worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Queue enqueues messages on the asynq default queue.
type Queue struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewQueue constructs a Queue.
func NewQueue(client *asynq.Client, logger *slog.Logger) *Queue {
	return &Queue{client: client, logger: logger}
}

// Enqueue submits the message for background delivery.
func (q *Queue) Enqueue(ctx context.Context, msg Message) error {
	task, err := jobs.NewSendEmailTask(jobs.SendEmailPayload{
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(5)); err != nil {
		return err
	}
	q.logger.Debug("email enqueued", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Discard drops every message. Used in test mode and when SMTP is not
// configured.
type Discard struct{}

func (Discard) Enqueue(ctx context.Context, msg Message) error { return nil }
