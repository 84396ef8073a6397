package redisqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/satchwsm/backbeat/pkg/queue"
	"github.com/satchwsm/backbeat/pkg/queue/redisqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() {
		_ = client.Close()
	})

	require.NoError(t, client.Ping(ctx).Err())

	return client
}

func TestRedisQueue(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("claims due jobs in order", func(t *testing.T) {
		q := redisqueue.NewWithClient(client, "test:order")

		late := queue.NewWatchdogJob("dog-late", now.Add(-time.Second))
		early := queue.NewWatchdogJob("dog-early", now.Add(-time.Minute))
		future := queue.NewWatchdogJob("dog-future", now.Add(time.Minute))

		for _, job := range []*queue.Job{late, early, future} {
			require.NoError(t, q.Enqueue(ctx, job))
		}

		due, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "dog-early", due[0].WatchdogID)
		assert.Equal(t, "dog-late", due[1].WatchdogID)

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("cancel removes job", func(t *testing.T) {
		q := redisqueue.NewWithClient(client, "test:cancel")

		job := queue.NewWatchdogJob("dog-1", now.Add(-time.Second))
		require.NoError(t, q.Enqueue(ctx, job))
		require.NoError(t, q.Cancel(ctx, job.ID))
		require.NoError(t, q.Cancel(ctx, job.ID))

		due, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("re-enqueue replaces run time", func(t *testing.T) {
		q := redisqueue.NewWithClient(client, "test:replace")

		job := queue.NewWatchdogJob("dog-1", now.Add(-time.Second))
		require.NoError(t, q.Enqueue(ctx, job))

		job.RunAt = now.Add(time.Hour)
		require.NoError(t, q.Enqueue(ctx, job))

		due, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = q.ClaimDue(ctx, now.Add(2*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, job.ID, due[0].ID)
	})

	t.Run("respects limit", func(t *testing.T) {
		q := redisqueue.NewWithClient(client, "test:limit")

		for range 5 {
			require.NoError(t, q.Enqueue(ctx, queue.NewWatchdogJob("dog", now.Add(-time.Second))))
		}

		due, err := q.ClaimDue(ctx, now, 3)
		require.NoError(t, err)
		assert.Len(t, due, 3)

		due, err = q.ClaimDue(ctx, now, 3)
		require.NoError(t, err)
		assert.Len(t, due, 2)
	})

	t.Run("unacknowledged job comes back after its lease", func(t *testing.T) {
		q := redisqueue.NewWithClient(client, "test:lease", redisqueue.WithLease(time.Minute))

		job := queue.NewWatchdogJob("dog-1", now.Add(-time.Second))
		require.NoError(t, q.Enqueue(ctx, job))

		due, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		inflight, err := q.InFlight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), inflight)

		n, err := q.RequeueExpired(ctx, now.Add(30*time.Second))
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = q.RequeueExpired(ctx, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		due, err = q.ClaimDue(ctx, now.Add(2*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, job.ID, due[0].ID)
	})

	t.Run("ack forgets the job", func(t *testing.T) {
		q := redisqueue.NewWithClient(client, "test:ack", redisqueue.WithLease(time.Minute))

		job := queue.NewWatchdogJob("dog-1", now.Add(-time.Second))
		require.NoError(t, q.Enqueue(ctx, job))

		_, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, job.ID))

		n, err := q.RequeueExpired(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)

		exists, err := client.HExists(ctx, "test:ack:payload", job.ID).Result()
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ack keeps a job enqueued again after its claim", func(t *testing.T) {
		q := redisqueue.NewWithClient(client, "test:ack-requeued")

		job := queue.NewWatchdogJob("dog-1", now.Add(-time.Second))
		require.NoError(t, q.Enqueue(ctx, job))

		_, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)

		job.RunAt = now.Add(time.Minute)
		require.NoError(t, q.Enqueue(ctx, job))
		require.NoError(t, q.Ack(ctx, job.ID))

		due, err := q.ClaimDue(ctx, now.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, job.ID, due[0].ID)
	})

	t.Run("drops undecodable payloads", func(t *testing.T) {
		q := redisqueue.NewWithClient(client, "test:garbage")

		require.NoError(t, client.HSet(ctx, "test:garbage:payload", "broken", "{not json").Err())
		require.NoError(t, client.ZAdd(ctx, "test:garbage:schedule", redis.Z{Score: 0, Member: "broken"}).Err())

		good := queue.NewWatchdogJob("dog-1", now.Add(-time.Second))
		require.NoError(t, q.Enqueue(ctx, good))

		due, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, good.ID, due[0].ID)

		exists, err := client.HExists(ctx, "test:garbage:payload", "broken").Result()
		require.NoError(t, err)
		assert.False(t, exists)

		n, err := q.RequeueExpired(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n, "only the decodable job is leased")
	})
}
