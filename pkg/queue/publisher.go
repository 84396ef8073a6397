package queue

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
)

// JobsTopic is the topic due jobs are published on.
const JobsTopic = "backbeat.jobs"

// Publisher is a Handler that publishes due jobs to a watermill topic for workers.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

var _ Handler = (*Publisher)(nil)

// NewPublisher creates a Publisher writing to topic.
func NewPublisher(publisher message.Publisher, topic string) *Publisher {
	return &Publisher{publisher: publisher, topic: topic}
}

func (p *Publisher) HandleJob(ctx context.Context, job *Job) error {
	payload, err := job.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	msg := message.NewMessage(job.ID, payload)
	msg.Metadata.Set("job_kind", string(job.Kind))
	msg.Metadata.Set("event", job.Event)
	msg.SetContext(ctx)

	err = p.publisher.Publish(p.topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}
