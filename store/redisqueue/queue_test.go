package redisqueue_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kamalhaddad/texttovideo-orchestrator/store/redisqueue"
)

func newTestQueue(t *testing.T) *redisqueue.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisqueue.New(client, "orchestrator:queue")
}

func TestTryClaimOnEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	_, ok, err := q.TryClaim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no claim from an empty queue")
	}
}

func TestEnqueueThenClaimOrdersByPriorityThenSubmission(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	low := uuid.New()
	high := uuid.New()
	mid := uuid.New()

	if err := q.Enqueue(ctx, low, 0, 1000); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, high, 5, 2000); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, mid, 0, 500); err != nil {
		t.Fatal(err)
	}

	first, ok, err := q.TryClaim(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a claim, ok=%v err=%v", ok, err)
	}
	if first != high {
		t.Fatalf("expected higher priority job first, got %v", first)
	}

	second, ok, err := q.TryClaim(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a claim, ok=%v err=%v", ok, err)
	}
	if second != mid {
		t.Fatalf("expected earlier submission among equal priority first, got %v", second)
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := uuid.New()

	if err := q.Enqueue(ctx, id, 0, 1000); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, id, 9, 1); err != nil {
		t.Fatal(err)
	}
	n, err := q.Length(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected a single member after re-enqueue, got %d", n)
	}
}

func TestRemoveIsBestEffort(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := uuid.New()

	if err := q.Remove(ctx, id); err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(ctx, id, 0, 1000); err != nil {
		t.Fatal(err)
	}
	if err := q.Remove(ctx, id); err != nil {
		t.Fatal(err)
	}
	n, err := q.Length(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected queue empty after remove, got %d", n)
	}
}

func TestRequeuePreservesOrderingKey(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	id := uuid.New()
	later := uuid.New()

	if err := q.Enqueue(ctx, later, 3, 200); err != nil {
		t.Fatal(err)
	}
	if err := q.Requeue(ctx, id, 3, 100); err != nil {
		t.Fatal(err)
	}
	claimed, ok, err := q.TryClaim(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a claim, ok=%v err=%v", ok, err)
	}
	if claimed != id {
		t.Fatalf("expected requeued id (earlier key) back first, got %v", claimed)
	}
}
