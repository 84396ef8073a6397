// Package redisqueue implements queue.Queue on Redis sorted sets.
package redisqueue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/satchwsm/backbeat/pkg/queue"
)

const defaultPrefix = "backbeat:jobs"

// claimScript atomically leases due jobs so a job goes to one poller per lease.
// It returns id and payload pairs.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local payload = redis.call('HGET', KEYS[2], id)
	if payload then
		redis.call('ZADD', KEYS[3], ARGV[3], id)
		table.insert(out, id)
		table.insert(out, payload)
	end
end
return out
`)

// ackScript keeps the payload when the job was enqueued again after its claim.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[3], ARGV[1])
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('HDEL', KEYS[2], ARGV[1])
end
return 1
`)

var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
local n = 0
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[3], id)
	if redis.call('HEXISTS', KEYS[2], id) == 1 and not redis.call('ZSCORE', KEYS[1], id) then
		redis.call('ZADD', KEYS[1], ARGV[1], id)
		n = n + 1
	end
end
return n
`)

// Queue stores job ids scored by run time in a ZSET, leased job ids scored by
// lease deadline in a second ZSET, and payloads in a HASH.
type Queue struct {
	client      *redis.Client
	scheduleKey string
	payloadKey  string
	inflightKey string
	lease       time.Duration
	logger      *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue)

// WithLease sets how long claimed jobs stay leased.
func WithLease(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger.With("component", "redisqueue")
	}
}

// New connects to the Redis server at url (redis://host:port/db).
func New(ctx context.Context, url string, opts ...Option) (*Queue, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(client, defaultPrefix, opts...), nil
}

// NewWithClient wraps an existing client; keys are namespaced by prefix.
func NewWithClient(client *redis.Client, prefix string, opts ...Option) *Queue {
	q := &Queue{
		client:      client,
		scheduleKey: prefix + ":schedule",
		payloadKey:  prefix + ":payload",
		inflightKey: prefix + ":inflight",
		lease:       queue.DefaultLease,
		logger:      slog.Default().With("component", "redisqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Client exposes the connection so other components can share it.
func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) keys() []string {
	return []string{q.scheduleKey, q.payloadKey, q.inflightKey}
}

func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	payload, err := job.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.payloadKey, job.ID, payload)
		pipe.ZAdd(ctx, q.scheduleKey, redis.Z{Score: score(job.RunAt), Member: job.ID})
		pipe.ZRem(ctx, q.inflightKey, job.ID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	return nil
}

func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.scheduleKey, jobID)
		pipe.ZRem(ctx, q.inflightKey, jobID)
		pipe.HDel(ctx, q.payloadKey, jobID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}

	return nil
}

func (q *Queue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	pairs, err := claimScript.Run(ctx, q.client, q.keys(),
		strconv.FormatInt(now.UnixMilli(), 10), limit,
		strconv.FormatInt(now.Add(q.lease).UnixMilli(), 10),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(pairs)/2)

	for i := 0; i+1 < len(pairs); i += 2 {
		id, payload := pairs[i], pairs[i+1]

		job, err := queue.Decode([]byte(payload))
		if err != nil {
			q.logger.ErrorContext(ctx, "Dropping undecodable job", "job_id", id, "payload", payload, "error", err)

			if cancelErr := q.Cancel(ctx, id); cancelErr != nil {
				q.logger.ErrorContext(ctx, "Failed to drop undecodable job", "job_id", id, "error", cancelErr)
			}

			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (q *Queue) Ack(ctx context.Context, jobID string) error {
	err := ackScript.Run(ctx, q.client, q.keys(), jobID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", jobID, err)
	}

	return nil
}

func (q *Queue) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := requeueScript.Run(ctx, q.client, q.keys(), strconv.FormatInt(now.UnixMilli(), 10)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired jobs: %w", err)
	}

	return n, nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.scheduleKey).Result()
}

// InFlight returns the number of claimed jobs not yet acknowledged.
func (q *Queue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
