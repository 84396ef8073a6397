package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/queue/redisqueue"
)

var supportedQueueProviders = []string{"redis", "rediss", "memory"}

// NewQueue opens the delayed-job queue named by the scheme of queueURL.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string) (queue.Queue, error) {
	switch parseProvider(queueURL, supportedQueueProviders) {
	case "redis", "rediss":
		return redisqueue.New(ctx, queueURL, redisqueue.WithLogger(logger))
	case "memory":
		logger.WarnContext(ctx, "Using in-memory job queue, pending jobs are lost on restart")

		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unsupported queue url %q, expected one of %v", queueURL, supportedQueueProviders)
	}
}
