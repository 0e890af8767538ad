// internal/room/state.go
package room

import (
	"maps"
	"slices"

	"github.com/jason-s-yu/gameroom/internal/models"
)

// State is a copy of the session's view of the room, handed to the renderer. The session
// never touches a State after publishing it.
type State struct {
	Room    models.Room
	Players []models.Player
	Status  Status
	// Error is the user-facing reason when Status is errored.
	Error string

	// Annotations maps nickname to highlight color.
	Annotations map[string]string

	Self      models.Actor
	IsCreator bool

	// Alive is the number of players still alive.
	Alive int
	// AllReady is set while waiting once every player but the creator is ready.
	AllReady bool

	// Seq is the last applied stream sequence number, 0 without sequencing.
	Seq uint64
	// Epoch counts subscription attempts.
	Epoch uint64
	// Buffered is the number of events held until the current attempt's snapshot lands.
	Buffered int
	// Pending is the number of dispatched actions awaiting the server.
	Pending int
	// Anomalies counts events that could not be applied.
	Anomalies int
	// Closed is set once the session has ended.
	Closed bool
}

// Header renders the room summary line, e.g. "[Fun] Partie : Friday night (3/8)".
func (s State) Header() string {
	return s.Room.Header(len(s.Players))
}

// Player returns the roster entry for nickname.
func (s State) Player(nickname string) (models.Player, bool) {
	for _, p := range s.Players {
		if p.Nickname == nickname {
			return p, true
		}
	}
	return models.Player{}, false
}

func (s State) clone() State {
	s.Players = slices.Clone(s.Players)
	s.Annotations = maps.Clone(s.Annotations)
	return s
}

// ActionKind names a user intent.
type ActionKind string

const (
	ActionStartGame       ActionKind = "startGame"
	ActionAddBot          ActionKind = "addBot"
	ActionSetReady        ActionKind = "setReady"
	ActionKickPlayer      ActionKind = "kickPlayer"
	ActionTransferCreator ActionKind = "transferCreator"
	ActionLeaveRoom       ActionKind = "leaveRoom"
)

// Action is a user intent handed to Dispatch.
type Action struct {
	Kind ActionKind
	// Target is the nickname a kick or transfer applies to.
	Target string
	// Ready is the desired flag for setReady.
	Ready bool
}

func StartGame() Action { return Action{Kind: ActionStartGame} }

func AddBot() Action { return Action{Kind: ActionAddBot} }

func SetReady(ready bool) Action { return Action{Kind: ActionSetReady, Ready: ready} }

func KickPlayer(nickname string) Action { return Action{Kind: ActionKickPlayer, Target: nickname} }

func TransferCreator(nickname string) Action {
	return Action{Kind: ActionTransferCreator, Target: nickname}
}

func LeaveRoom() Action { return Action{Kind: ActionLeaveRoom} }

// Result describes a dispatched action that did not fail.
type Result struct {
	// ID identifies the action in logs. Empty for actions that never left the client.
	ID string
	// Ignored is set when the action was a no-op, e.g. kicking the creator.
	Ignored bool
	// Confirmed is set when a stream event settled the action before the server's reply.
	Confirmed bool
}
