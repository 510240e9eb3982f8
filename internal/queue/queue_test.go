package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// deliveryQueue is the method set both implementations share.
type deliveryQueue interface {
	Enqueue(ctx context.Context, id string, runAt time.Time) error
	Reschedule(ctx context.Context, id string, runAt time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, id string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) (int, error)
	DeadLetter(ctx context.Context, id string) error
	DeadLetters(ctx context.Context, count int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

func newRedisQueue(t *testing.T, visibility time.Duration) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "test", visibility)
}

func implementations(t *testing.T, visibility time.Duration) map[string]deliveryQueue {
	return map[string]deliveryQueue{
		"memory": NewMemoryQueue(visibility),
		"redis":  newRedisQueue(t, visibility),
	}
}

func TestQueue_ReadyThenLease(t *testing.T) {
	ctx := context.Background()
	for name, q := range implementations(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			if err := q.Enqueue(ctx, "d1", time.Now()); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if depth, _ := q.ReadyDepth(ctx); depth != 1 {
				t.Fatalf("expected depth 1, got %d", depth)
			}
			id, err := q.DequeueWithLease(ctx)
			if err != nil || id != "d1" {
				t.Fatalf("expected d1, got %q err=%v", id, err)
			}
			id, err = q.DequeueWithLease(ctx)
			if err != nil || id != "" {
				t.Fatalf("expected empty queue, got %q err=%v", id, err)
			}
			if err := q.Ack(ctx, "d1"); err != nil {
				t.Fatalf("ack: %v", err)
			}
			if n, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10); n != 0 {
				t.Fatalf("acked lease must not be requeued, got %d", n)
			}
		})
	}
}

func TestQueue_RescheduleAndPromote(t *testing.T) {
	ctx := context.Background()
	for name, q := range implementations(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			_ = q.Enqueue(ctx, "d1", time.Now())
			id, _ := q.DequeueWithLease(ctx)
			runAt := time.Now().Add(2 * time.Second)
			if err := q.Reschedule(ctx, id, runAt); err != nil {
				t.Fatalf("reschedule: %v", err)
			}
			if n, _ := q.PromoteScheduled(ctx, time.Now(), 10); n != 0 {
				t.Fatalf("promoted too early: %d", n)
			}
			n, err := q.PromoteScheduled(ctx, runAt.Add(time.Millisecond), 10)
			if err != nil || n != 1 {
				t.Fatalf("expected one promotion, got %d err=%v", n, err)
			}
			if id, _ := q.DequeueWithLease(ctx); id != "d1" {
				t.Fatalf("expected d1 after promotion, got %q", id)
			}
			if n, _ := q.RequeueExpired(ctx, time.Now(), 10); n != 0 {
				t.Fatalf("fresh lease must stay in flight")
			}
		})
	}
}

func TestQueue_ExpiredLeaseReturnsToReady(t *testing.T) {
	ctx := context.Background()
	for name, q := range implementations(t, 50*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			_ = q.Enqueue(ctx, "d1", time.Now())
			if id, _ := q.DequeueWithLease(ctx); id != "d1" {
				t.Fatalf("expected lease on d1")
			}
			n, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
			if err != nil || n != 1 {
				t.Fatalf("expected requeue of expired lease, got %d err=%v", n, err)
			}
			if id, _ := q.DequeueWithLease(ctx); id != "d1" {
				t.Fatalf("expected d1 to be ready again")
			}
		})
	}
}

func TestQueue_DeadLetters(t *testing.T) {
	ctx := context.Background()
	for name, q := range implementations(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"d1", "d2"} {
				_ = q.Enqueue(ctx, id, time.Now())
				leased, _ := q.DequeueWithLease(ctx)
				if err := q.DeadLetter(ctx, leased); err != nil {
					t.Fatalf("dead letter: %v", err)
				}
			}
			ids, err := q.DeadLetters(ctx, 10)
			if err != nil {
				t.Fatalf("dead letters: %v", err)
			}
			if len(ids) != 2 || ids[0] != "d2" {
				t.Fatalf("expected newest first, got %v", ids)
			}
			if n, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10); n != 0 {
				t.Fatalf("dead-lettered ids must leave the in-flight set")
			}
		})
	}
}
