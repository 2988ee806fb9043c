// Package memory provides an in-memory implementation of the build
// request queue, used for tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/jobforge/jobforge/internal/queue"
)

type requestState string

const (
	statePending    requestState = "pending"
	stateProcessing requestState = "processing"
)

type entry struct {
	req   *queue.BuildRequest
	state requestState
}

// Queue is a mutex-guarded FIFO queue.
type Queue struct {
	mu      sync.Mutex
	entries []*entry
}

var _ queue.Queue = (*Queue)(nil)

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue adds a build request to the queue.
func (q *Queue) Enqueue(_ context.Context, req *queue.BuildRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	clone := *req
	q.entries = append(q.entries, &entry{req: &clone, state: statePending})
	return nil
}

// Dequeue returns the oldest pending request and marks it processing.
func (q *Queue) Dequeue(_ context.Context) (*queue.BuildRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.state != statePending {
			continue
		}
		e.state = stateProcessing
		clone := *e.req
		return &clone, nil
	}
	return nil, queue.ErrNoRequests
}

// Ack removes a processing request from the queue.
func (q *Queue) Ack(_ context.Context, requestID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.req.ID == requestID && e.state == stateProcessing {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return queue.ErrRequestNotFound
}

// Nack returns a processing request to the pending state.
func (q *Queue) Nack(_ context.Context, requestID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.req.ID == requestID && e.state == stateProcessing {
			e.state = statePending
			return nil
		}
	}
	return queue.ErrRequestNotFound
}

// Len reports how many requests are currently held, in any state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
