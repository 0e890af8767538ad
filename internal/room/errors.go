// internal/room/errors.go
package room

import "errors"

var (
	// ErrCapabilityDenied means the actor lacks the permission or role an action needs.
	// Nothing was mutated and nothing was sent.
	ErrCapabilityDenied = errors.New("capability denied")
	// ErrActionRejected means the server refused an action; the optimistic change was undone.
	ErrActionRejected = errors.New("action rejected")
	// ErrActionTimeout means the server neither acknowledged nor confirmed an action in time;
	// the optimistic change was undone.
	ErrActionTimeout = errors.New("action timed out")
	// ErrInvalidAction is returned for malformed actions, e.g. an unknown transfer target.
	ErrInvalidAction = errors.New("invalid action")
	// ErrRoomUnavailable means the room does not exist or the actor was removed from it.
	ErrRoomUnavailable = errors.New("room unavailable")
	// ErrReconciliationAnomaly tags events that could not be applied. They are logged and
	// counted, never returned to callers.
	ErrReconciliationAnomaly = errors.New("reconciliation anomaly")
	// ErrSessionClosed is returned by every call made after the session has ended.
	ErrSessionClosed = errors.New("session closed")
)
