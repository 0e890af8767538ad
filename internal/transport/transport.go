// internal/transport/transport.go
package transport

import (
	"context"
	"errors"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when the room no longer exists on the server.
	ErrNotFound = errors.New("room not found")
	// ErrRejected is returned when the server refused a command.
	ErrRejected = errors.New("rejected by server")
	// ErrNotSubscribed is returned by Emit when no event stream is open.
	ErrNotSubscribed = errors.New("no open event stream")
)

// Stream is one subscription to a room's event stream. Events is closed when the stream
// ends; Err then reports why, or nil after Close.
type Stream interface {
	Events() <-chan models.Event
	Err() error
	Close() error
}

// Transport carries the snapshot fetch and the realtime event stream.
type Transport interface {
	FetchSnapshot(ctx context.Context, roomID string) (models.Snapshot, error)
	Subscribe(ctx context.Context, roomID string) (Stream, error)
	Emit(ctx context.Context, name models.EventType, payload any) error
	UnsubscribeAll() error
}

// Commander issues the room commands that go through the request/response API.
// A nil error is the server's acknowledgement.
type Commander interface {
	StartGame(ctx context.Context, roomID string) error
	AddBot(ctx context.Context, roomID string) error
	SetReady(ctx context.Context, roomID string, ready bool) error
	TransferCreator(ctx context.Context, roomID, newCreatorID string) error
	Leave(ctx context.Context, roomID string) error
}

// Client talks to a room server over HTTP for snapshots and commands and over a
// websocket for events. It satisfies Transport, Commander and auth.RoomVerifier.
type Client struct {
	*HTTPClient
	*WSClient
}

// New builds a Client. token is sent as a bearer token on every request and dial.
func New(apiURL, wsURL, token string, logger *logrus.Logger) *Client {
	return &Client{
		HTTPClient: NewHTTPClient(apiURL, token, nil),
		WSClient:   NewWSClient(wsURL, token, logger),
	}
}
