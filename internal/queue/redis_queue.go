package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps ready, scheduled, in-flight and dead-letter sets in Redis so
// several dispatcher processes can share one delivery schedule.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	scheduledKey  string
	inflightKey   string
	dlqKey        string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue whose keys share prefix (e.g. "webhooks").
func NewRedisQueue(client *redis.Client, prefix string, visibility time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "webhooks"
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		readyKey:      prefix + ":ready",
		scheduledKey:  prefix + ":scheduled",
		inflightKey:   prefix + ":inflight",
		dlqKey:        prefix + ":dlq",
		visibilityTTL: visibility,
	}
}

// Enqueue makes id ready now, or schedules it when runAt is in the future.
func (q *RedisQueue) Enqueue(ctx context.Context, id string, runAt time.Time) error {
	if runAt.After(time.Now()) {
		return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id}).Err()
	}
	return q.client.RPush(ctx, q.readyKey, id).Err()
}

// Reschedule releases the lease on id and schedules it for runAt in one transaction.
func (q *RedisQueue) Reschedule(ctx context.Context, id string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due entries to the ready list and returns how many moved.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	n, err := moveDueScript.Run(ctx, q.client, []string{q.scheduledKey, q.readyKey}, now.UnixMilli(), limit).Int()
	if err != nil {
		return 0, fmt.Errorf("promote scheduled: %w", err)
	}
	return n, nil
}

// DequeueWithLease pops the next ready id and records it in-flight until the
// visibility timeout elapses. An empty id means nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := leaseScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from lease script: %T", res)
	}
	return id, nil
}

// Ack drops the lease on id.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	return q.client.ZRem(ctx, q.inflightKey, id).Err()
}

// RequeueExpired returns leases whose visibility deadline passed to the ready list.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) (int, error) {
	n, err := moveDueScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, now.UnixMilli(), limit).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	return n, nil
}

// DeadLetter releases the lease and appends id to the dead-letter list.
func (q *RedisQueue) DeadLetter(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.LPush(ctx, q.dlqKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetters returns the most recent dead-lettered ids, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, count int64) ([]string, error) {
	if count <= 0 {
		count = 100
	}
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the ready list length.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// moveDueScript atomically moves members of a sorted set whose score is due
// onto a list. Only the caller that wins ZREM pushes, so concurrent pumps
// never duplicate an id.
var moveDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for _, id in ipairs(ids) do
  if redis.call('ZREM', KEYS[1], id) == 1 then
    redis.call('RPUSH', KEYS[2], id)
    moved = moved + 1
  end
end
return moved
`)

var leaseScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if id then
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  return id
end
return nil
`)
