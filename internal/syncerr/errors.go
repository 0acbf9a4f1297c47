package syncerr

import (
	"errors"
	"fmt"
)

// Validation errors are raised before any network activity.
var (
	ErrInvalidRoomName = errors.New("invalid room name")
	ErrDuplicateRoom   = errors.New("room already joined")
	ErrRoomNotFound    = errors.New("room not found")
)

// Lifecycle and transport errors.
var (
	ErrNotConnected    = errors.New("room not connected")
	ErrRoomClosed      = errors.New("room closed")
	ErrAborted         = errors.New("call aborted")
	ErrWorkerStopped   = errors.New("worker stopped")
	ErrUnknownFunction = errors.New("unknown worker function")
	ErrUnknownPeer     = errors.New("unknown peer id")
	ErrBadArguments    = errors.New("bad call arguments")
	ErrSessionClosed   = errors.New("transport session closed")

	// ErrOrchestratorClosed rejects joins after the room registry was closed.
	ErrOrchestratorClosed = errors.New("orchestrator closed")
)

// Error annotates a failure with the operation and room it happened in.
type Error struct {
	Op      string
	Room    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Room != "" {
		if e.Details != "" {
			return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.Room, e.Err, e.Details)
		}
		return fmt.Sprintf("%s %s: %v", e.Op, e.Room, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewRoomError(op, room string, err error) *Error {
	return &Error{Op: op, Room: room, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// RemoteError is a failure reported by the worker in a response envelope.
type RemoteError struct {
	Function string
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %s failed: %s", e.Function, e.Message)
}

// IsRemote reports whether err carries a worker-reported failure.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}
