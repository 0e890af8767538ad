// internal/room/lifecycle.go
package room

import (
	"fmt"

	"github.com/jason-s-yu/gameroom/internal/models"
)

// Status is the room lifecycle as seen by this client.
type Status string

const (
	StatusLoading  Status = "loading"
	StatusWaiting  Status = "waiting"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusErrored  Status = "errored"
)

// Lifecycle is the room state machine:
//
//	loading -> waiting -> started -> finished
//	any     -> errored
//
// errored is terminal.
type Lifecycle struct {
	status Status
	reason string
}

func NewLifecycle() Lifecycle {
	return Lifecycle{status: StatusLoading}
}

func (l *Lifecycle) Status() Status { return l.status }

// Reason is the user-facing message of an errored lifecycle.
func (l *Lifecycle) Reason() string { return l.reason }

// Hydrate takes the server's status from a snapshot. It replaces whatever the client
// believed before, except that an errored lifecycle stays errored.
func (l *Lifecycle) Hydrate(s models.RoomStatus) error {
	if l.status == StatusErrored {
		return nil
	}
	switch s {
	case models.RoomWaiting, "":
		l.status = StatusWaiting
	case models.RoomStarted:
		l.status = StatusStarted
	case models.RoomFinished:
		l.status = StatusFinished
	default:
		l.status = StatusWaiting
		return fmt.Errorf("%w: unknown room status %q", ErrReconciliationAnomaly, s)
	}
	return nil
}

// Start moves waiting to started. Starting an already started room is a no-op.
func (l *Lifecycle) Start() error {
	switch l.status {
	case StatusWaiting:
		l.status = StatusStarted
		return nil
	case StatusStarted:
		return nil
	}
	return fmt.Errorf("%w: start while %s", ErrReconciliationAnomaly, l.status)
}

// Unstart undoes an optimistic Start. Only a started room is moved back.
func (l *Lifecycle) Unstart() {
	if l.status == StatusStarted {
		l.status = StatusWaiting
	}
}

// Finish moves started to finished. Finishing an already finished room is a no-op.
func (l *Lifecycle) Finish() error {
	switch l.status {
	case StatusStarted:
		l.status = StatusFinished
		return nil
	case StatusFinished:
		return nil
	}
	return fmt.Errorf("%w: finish while %s", ErrReconciliationAnomaly, l.status)
}

// Fail moves to errored with a message for the user. The first reason wins.
func (l *Lifecycle) Fail(reason string) {
	if l.status == StatusErrored {
		return
	}
	l.status = StatusErrored
	l.reason = reason
}
