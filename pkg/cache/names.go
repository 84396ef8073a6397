// Package cache keeps read-mostly listings in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamesTTL is how long a user's workflow names stay cached.
const DefaultNamesTTL = time.Hour

// NamesSource loads the distinct workflow names of a user.
type NamesSource interface {
	WorkflowNames(ctx context.Context, userID string) ([]string, error)
}

// Names caches NamesSource results per user. Redis failures fall through to the source.
type Names struct {
	client redis.UniversalClient
	source NamesSource
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewNames(client redis.UniversalClient, source NamesSource, ttl time.Duration, logger *slog.Logger) *Names {
	if ttl <= 0 {
		ttl = DefaultNamesTTL
	}

	return &Names{
		client: client,
		source: source,
		prefix: "backbeat:names:",
		ttl:    ttl,
		logger: logger.With("component", "names_cache"),
	}
}

func (c *Names) key(userID string) string {
	return c.prefix + userID
}

// WorkflowNames returns the cached names of userID, loading them on a miss.
func (c *Names) WorkflowNames(ctx context.Context, userID string) ([]string, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()

	switch {
	case err == nil:
		var names []string

		err = json.Unmarshal(raw, &names)
		if err == nil {
			return names, nil
		}

		c.logger.WarnContext(ctx, "Discarding corrupt cache entry", "user_id", userID, "error", err)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "Names cache unavailable", "error", err)
	}

	names, err := c.source.WorkflowNames(ctx, userID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}

	err = c.client.Set(ctx, c.key(userID), payload, c.ttl).Err()
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to cache workflow names", "user_id", userID, "error", err)
	}

	return names, nil
}

// Invalidate drops the cached names of userID.
func (c *Names) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}
