// Package worker consumes dispatched jobs from the message bus and performs them.
package worker

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/satchwsm/backbeat/pkg/queue"
)

// Runner performs jobs published on the jobs topic.
type Runner struct {
	subscriber message.Subscriber
	handler    queue.Handler
	topic      string
	logger     *slog.Logger
}

func NewRunner(subscriber message.Subscriber, handler queue.Handler, logger *slog.Logger) *Runner {
	return &Runner{
		subscriber: subscriber,
		handler:    handler,
		topic:      queue.JobsTopic,
		logger:     logger.With("component", "runner"),
	}
}

// Run blocks until ctx is cancelled or the subscription closes. A message whose
// job fails is nacked for redelivery; undecodable messages are acked and dropped.
func (r *Runner) Run(ctx context.Context) error {
	messages, err := r.subscriber.Subscribe(ctx, r.topic)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Runner subscribed", "topic", r.topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			r.process(ctx, msg)
		}
	}
}

func (r *Runner) process(ctx context.Context, msg *message.Message) {
	job, err := queue.Decode(msg.Payload)
	if err != nil {
		r.logger.ErrorContext(ctx, "Dropping undecodable job", "message_id", msg.UUID, "error", err)
		msg.Ack()

		return
	}

	logger := r.logger.With("job_id", job.ID, "job_kind", job.Kind, "event", job.Event)

	err = r.handler.HandleJob(ctx, job)
	if err != nil {
		logger.ErrorContext(ctx, "Job failed", "error", err)
		msg.Nack()

		return
	}

	logger.DebugContext(ctx, "Job performed")
	msg.Ack()
}
