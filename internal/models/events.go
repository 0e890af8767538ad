// internal/models/events.go
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType names a frame on the room event stream. The names and payload shapes below
// are the wire contract shared with the room server and must not change.
type EventType string

// Server -> client events.
const (
	EventPlayerJoined   EventType = "playerJoined"
	EventPlayerLeft     EventType = "playerLeft"
	EventPlayerKicked   EventType = "playerKicked"
	EventPlayerReady    EventType = "playerReady"
	EventCreatorChanged EventType = "creatorChanged"
	EventGameStarted    EventType = "gameStarted"
	EventGameFinished   EventType = "gameFinished"
	EventChatMessage    EventType = "chatMessage"
	// EventError is a negative acknowledgement of an emitted command.
	EventError EventType = "error"
)

// Client -> server commands sent over the event stream.
const (
	CommandKickPlayer  EventType = "kickPlayer"
	CommandLeaveRoom   EventType = "leaveRoom"
	CommandChatMessage EventType = "chatMessage"
)

// ErrUnknownEvent is returned when decoding a frame whose type is not part of the contract.
var ErrUnknownEvent = errors.New("unknown event type")

// Envelope is the JSON framing of every message on the stream.
//
//	{"type": "playerReady", "seq": 42, "payload": {"nickname": "A"}}
//
// Seq is optional; servers without sequencing omit it.
type Envelope struct {
	Type    EventType       `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlayerJoined announces a player. ID is an optional extension; servers that only send
// display attributes omit it.
type PlayerJoined struct {
	ID       string `json:"id,omitempty"`
	Nickname string `json:"nickname"`
	Ready    bool   `json:"ready"`
	Alive    bool   `json:"alive"`
}

type PlayerLeft struct {
	Nickname string `json:"nickname"`
}

type PlayerKicked struct {
	RoomID   string `json:"roomId"`
	Nickname string `json:"nickname"`
}

// PlayerReady marks a player ready. Ready is an optional extension used for unready
// updates; when absent the player is ready.
type PlayerReady struct {
	Nickname string `json:"nickname"`
	Ready    *bool  `json:"ready,omitempty"`
}

// IsReady resolves the optional Ready field.
func (p PlayerReady) IsReady() bool {
	return p.Ready == nil || *p.Ready
}

type CreatorChanged struct {
	NewCreatorID string `json:"newCreatorId"`
}

type GameStarted struct{}

type GameFinished struct{}

// ChatMessage is opaque to the synchronization core and forwarded as-is.
type ChatMessage json.RawMessage

type ErrorFrame struct {
	Message string    `json:"message"`
	Command EventType `json:"command,omitempty"`
}

type KickPlayer struct {
	RoomID   string `json:"roomId"`
	Nickname string `json:"nickname"`
}

type PlayerRef struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

type LeaveRoom struct {
	RoomID string    `json:"roomId"`
	Player PlayerRef `json:"player"`
}

// Undecodable stands in for a frame the transport received but could not decode.
type Undecodable struct {
	Reason string
}

// Event is a decoded Envelope. Payload holds one of the typed payload structs above.
type Event struct {
	Type    EventType
	Seq     uint64
	Payload any
}

// NewEnvelope marshals payload into a frame of the given type.
func NewEnvelope(t EventType, seq uint64, payload any) (Envelope, error) {
	env := Envelope{Type: t, Seq: seq}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(ChatMessage); ok {
		env.Payload = json.RawMessage(raw)
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// DecodeEvent parses a raw frame.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Decode()
}

// Decode resolves the payload of the envelope into its typed form.
func (env Envelope) Decode() (Event, error) {
	ev := Event{Type: env.Type, Seq: env.Seq}
	var err error
	switch env.Type {
	case EventPlayerJoined:
		var p PlayerJoined
		err = unmarshalPayload(env.Payload, &p)
		ev.Payload = p
	case EventPlayerLeft:
		var p PlayerLeft
		err = unmarshalPayload(env.Payload, &p)
		ev.Payload = p
	case EventPlayerKicked:
		var p PlayerKicked
		err = unmarshalPayload(env.Payload, &p)
		ev.Payload = p
	case EventPlayerReady:
		var p PlayerReady
		err = unmarshalPayload(env.Payload, &p)
		ev.Payload = p
	case EventCreatorChanged:
		var p CreatorChanged
		err = unmarshalPayload(env.Payload, &p)
		ev.Payload = p
	case EventGameStarted:
		ev.Payload = GameStarted{}
	case EventGameFinished:
		ev.Payload = GameFinished{}
	case EventChatMessage:
		ev.Payload = ChatMessage(append([]byte(nil), env.Payload...))
	case EventError:
		var p ErrorFrame
		err = unmarshalPayload(env.Payload, &p)
		ev.Payload = p
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
