package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/satchwsm/backbeat/pkg/channels/gochannel"
	"github.com/satchwsm/backbeat/pkg/channels/kafka"
)

// NewPubSub creates the message bus carrying jobs to workers and activities
// to clients.
func NewPubSub(provider string, brokers []string, serviceName string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, brokers, serviceName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return pub, sub, nil
	case "gochannel", "":
		return gochannel.CreateChannel(wmLogger)
	default:
		return nil, nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
