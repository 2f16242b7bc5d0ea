package lcl

import (
	"fmt"
	"sync"

	"github.com/gomlx/clvirt/opencl"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EventStatus is the execution status of the command associated with an Event. Negative values are the
// opencl.ErrorCode of a failed command.
type EventStatus int32

const (
	EventComplete  EventStatus = 0
	EventRunning   EventStatus = 1
	EventSubmitted EventStatus = 2
	EventQueued    EventStatus = 3
)

// String implements fmt.Stringer.
func (s EventStatus) String() string {
	switch s {
	case EventComplete:
		return "complete"
	case EventRunning:
		return "running"
	case EventSubmitted:
		return "submitted"
	case EventQueued:
		return "queued"
	}
	if s < 0 {
		return fmt.Sprintf("failed(%s)", opencl.ErrorCode(s))
	}
	return fmt.Sprintf("EventStatus(%d)", int32(s))
}

// Event tracks the completion of an enqueued command, or of a user event.
//
// Events of commands deferred by an evaluation window only complete when the window ends, or when the commands
// are drained by a blocking read or Runtime.Finish.
type Event struct {
	id      uuid.UUID
	command string
	user    bool

	done chan struct{}

	mu     sync.Mutex
	status EventStatus
	err    error

	// staged is the buffer holding the write of this event until it is flushed. Protected by Runtime.mu.
	staged *VirtualBuffer
}

func newEvent(command string) *Event {
	return &Event{
		id:      uuid.New(),
		command: command,
		done:    make(chan struct{}),
		status:  EventQueued,
	}
}

// NewUserEvent creates an event completed by the caller with SetComplete. It can be used in wait lists to hold
// commands back.
func NewUserEvent() *Event {
	e := newEvent("user")
	e.user = true
	e.status = EventSubmitted
	return e
}

// ID is a unique identifier of the event.
func (e *Event) ID() uuid.UUID {
	return e.id
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	return fmt.Sprintf("Event[%s, %s, %s]", e.command, e.id, e.Status())
}

// Status returns the current status of the event.
func (e *Event) Status() EventStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Wait blocks until the event completes, and returns the error of its command, if any.
func (e *Event) Wait() error {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done returns a channel closed when the event completes.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// SetComplete completes a user event. A non-nil err marks it failed, which fails the commands waiting for it.
func (e *Event) SetComplete(err error) error {
	if !e.user {
		return opencl.NewError(opencl.InvalidEvent, "%s is not a user event", e)
	}
	if !e.complete(err) {
		return opencl.NewError(opencl.InvalidOperation, "%s already completed", e)
	}
	return nil
}

// complete sets the final status of the event. It returns false if it was already completed.
func (e *Event) complete(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.done:
		return false
	default:
	}
	if err != nil {
		e.err = errors.WithMessagef(err, "%s command failed", e.command)
		e.status = EventStatus(opencl.CodeOf(err))
	} else {
		e.status = EventComplete
	}
	close(e.done)
	return true
}

// WaitForEvents waits for all events, and returns the first error found.
func WaitForEvents(events ...*Event) error {
	var firstErr error
	for _, e := range events {
		if err := e.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
