package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	bucket, err := NewTokenBucket(client, capacity, refill, time.Minute)
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }
	return bucket, &now
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 2, 1)

	for i := 0; i < 2; i++ {
		d, err := bucket.Allow(ctx, "tenant")
		if err != nil || !d.Allowed {
			t.Fatalf("expected token %d allowed got %+v err=%v", i+1, d, err)
		}
	}
	d, err := bucket.Allow(ctx, "tenant")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected third token to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("unexpected retry after %s", d.RetryAfter)
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	ctx := context.Background()
	bucket, now := newTestBucket(t, 1, 2)

	if d, _ := bucket.Allow(ctx, "tenant"); !d.Allowed {
		t.Fatalf("expected first token allowed")
	}
	if d, _ := bucket.Allow(ctx, "tenant"); d.Allowed {
		t.Fatalf("expected empty bucket")
	}
	*now = now.Add(600 * time.Millisecond)
	if d, _ := bucket.Allow(ctx, "tenant"); !d.Allowed {
		t.Fatalf("expected refill after 600ms at 2 tokens/s, got %+v", d)
	}
}

func TestTokenBucket_TenantsAreIndependent(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 1, 0.5)

	if d, _ := bucket.Allow(ctx, "a"); !d.Allowed {
		t.Fatalf("expected tenant a allowed")
	}
	if d, _ := bucket.Allow(ctx, "a"); d.Allowed {
		t.Fatalf("expected tenant a throttled")
	}
	if d, _ := bucket.Allow(ctx, "b"); !d.Allowed {
		t.Fatalf("expected tenant b unaffected by a")
	}
}

func TestNewTokenBucket_Validates(t *testing.T) {
	if _, err := NewTokenBucket(nil, 0, 1, 0); err == nil {
		t.Fatalf("expected capacity error")
	}
	if _, err := NewTokenBucket(nil, 1, 0, 0); err == nil {
		t.Fatalf("expected refill error")
	}
}
