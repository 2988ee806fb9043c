// Package queue provides build request queue interfaces and
// implementations.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by queue operations.
var (
	// ErrNoRequests is returned when no build requests are pending.
	ErrNoRequests = errors.New("no build requests available")
	// ErrRequestNotFound is returned when a request cannot be found.
	ErrRequestNotFound = errors.New("build request not found")
)

// BuildRequest is a queued instruction to build a job. The dependency
// handling flags travel with the request so workers honor the
// semantics the submitter asked for.
type BuildRequest struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	DependencyPolicy string    `json:"dependency_policy,omitempty"`
	BuildDependents  bool      `json:"build_dependents,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewBuildRequest creates a request for the given job with a fresh id.
func NewBuildRequest(jobID string) *BuildRequest {
	return &BuildRequest{
		ID:        uuid.New().String(),
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
	}
}

// Queue defines the interface for build request queue operations.
type Queue interface {
	// Enqueue adds a build request to the queue.
	Enqueue(ctx context.Context, req *BuildRequest) error

	// Dequeue retrieves and locks the oldest pending request.
	// Returns ErrNoRequests if none are pending.
	Dequeue(ctx context.Context) (*BuildRequest, error)

	// Ack acknowledges successful processing of a request, removing it
	// from the queue.
	Ack(ctx context.Context, requestID string) error

	// Nack marks processing of a request as failed, making it
	// available again.
	Nack(ctx context.Context, requestID string) error
}
