// Package runctx carries the ambient (job, build) pair available to
// code running inside a build, used for progress and log reporting.
//
// Each call chain owns its own Stack; the stack is never shared across
// goroutines. The active execution also travels on the
// context.Context passed into job functions, so nested calls can
// discover "which build am I" without an explicit parameter.
package runctx

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoActiveContext is returned when execution context is requested
// outside a running build.
var ErrNoActiveContext = errors.New("no active execution context")

// Execution identifies one running build. App is the orchestrator
// handle that created the build.
type Execution struct {
	App     any
	JobID   string
	BuildID int64
}

// Stack is a LIFO of execution frames, one push per nested build on a
// single logical thread of control. The zero value is ready to use.
type Stack struct {
	frames []*Execution
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push appends a frame.
func (s *Stack) Push(e *Execution) {
	s.frames = append(s.frames, e)
}

// Pop removes the top frame. Popping a frame other than the one on top
// is a programming error and panics.
func (s *Stack) Pop(e *Execution) {
	if len(s.frames) == 0 {
		panic("runctx: pop from empty execution stack")
	}
	top := s.frames[len(s.frames)-1]
	if top != e {
		panic(fmt.Sprintf("runctx: popped wrong context: job %q build %d instead of job %q build %d",
			top.JobID, top.BuildID, e.JobID, e.BuildID))
	}
	s.frames = s.frames[:len(s.frames)-1]
}

// Current returns the top frame, or ErrNoActiveContext if the stack is
// empty.
func (s *Stack) Current() (*Execution, error) {
	if len(s.frames) == 0 {
		return nil, ErrNoActiveContext
	}
	return s.frames[len(s.frames)-1], nil
}

// Depth returns the number of active frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Activate pushes e and returns the release function that pops it.
// Intended for defer, so the frame is released on every exit path.
func (s *Stack) Activate(e *Execution) func() {
	s.Push(e)
	return func() { s.Pop(e) }
}

type executionKey struct{}

type stackKey struct{}

// NewContext returns a context carrying e as the active execution.
func NewContext(ctx context.Context, e *Execution) context.Context {
	return context.WithValue(ctx, executionKey{}, e)
}

// FromContext returns the active execution, or ErrNoActiveContext when
// the context is not running inside a build.
func FromContext(ctx context.Context) (*Execution, error) {
	e, ok := ctx.Value(executionKey{}).(*Execution)
	if !ok || e == nil {
		return nil, ErrNoActiveContext
	}
	return e, nil
}

// WithStack returns a context carrying the given stack.
func WithStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}

// StackFromContext returns the stack owned by this call chain, or nil
// if none has been installed.
func StackFromContext(ctx context.Context) *Stack {
	s, _ := ctx.Value(stackKey{}).(*Stack)
	return s
}
