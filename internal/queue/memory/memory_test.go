package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/jobforge/jobforge/internal/queue"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	ctx := context.Background()
	q := New()

	first := queue.NewBuildRequest("job-a")
	second := queue.NewBuildRequest("job-b")
	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID != first.ID || got.JobID != "job-a" {
		t.Errorf("dequeued %+v, want the first request", got)
	}

	got, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("dequeued %+v, want the second request", got)
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, queue.ErrNoRequests) {
		t.Fatalf("expected ErrNoRequests, got %v", err)
	}
}

func TestDequeueLocksRequest(t *testing.T) {
	ctx := context.Background()
	q := New()

	req := queue.NewBuildRequest("job-a")
	q.Enqueue(ctx, req)

	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// A processing request must not be handed out twice.
	if _, err := q.Dequeue(ctx); !errors.Is(err, queue.ErrNoRequests) {
		t.Fatalf("expected ErrNoRequests while processing, got %v", err)
	}
}

func TestAckRemovesRequest(t *testing.T) {
	ctx := context.Background()
	q := New()

	req := queue.NewBuildRequest("job-a")
	q.Enqueue(ctx, req)
	q.Dequeue(ctx)

	if err := q.Ack(ctx, req.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d after ack, want 0", q.Len())
	}

	if err := q.Ack(ctx, req.ID); !errors.Is(err, queue.ErrRequestNotFound) {
		t.Fatalf("second ack should fail with ErrRequestNotFound, got %v", err)
	}
}

func TestNackRequeuesRequest(t *testing.T) {
	ctx := context.Background()
	q := New()

	req := queue.NewBuildRequest("job-a")
	q.Enqueue(ctx, req)
	q.Dequeue(ctx)

	if err := q.Nack(ctx, req.ID); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after nack: %v", err)
	}
	if got.ID != req.ID {
		t.Errorf("dequeued %+v, want the nacked request", got)
	}
}

func TestAckPendingRequestFails(t *testing.T) {
	ctx := context.Background()
	q := New()

	req := queue.NewBuildRequest("job-a")
	q.Enqueue(ctx, req)

	// Only processing requests can be acked.
	if err := q.Ack(ctx, req.ID); !errors.Is(err, queue.ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}
