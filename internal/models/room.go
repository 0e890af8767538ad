// internal/models/room.go
package models

import "fmt"

// GameType is the game mode a room was created with.
type GameType int

const (
	GameTypeNormal GameType = iota
	GameTypeFun
	GameTypeSerious
	GameTypeCarnage
)

var gameTypeNames = map[GameType]string{
	GameTypeNormal:  "Normal",
	GameTypeFun:     "Fun",
	GameTypeSerious: "Sérieuse",
	GameTypeCarnage: "Carnage",
}

// String returns the display name shown in the room header.
func (t GameType) String() string {
	if name, ok := gameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("GameType(%d)", int(t))
}

// Valid reports whether t is one of the known game modes.
func (t GameType) Valid() bool {
	_, ok := gameTypeNames[t]
	return ok
}

// RoomStatus is the lifecycle status as reported by the server.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomStarted  RoomStatus = "started"
	RoomFinished RoomStatus = "finished"
)

// Room is the authoritative description of a single game room.
type Room struct {
	ID         string   `json:"id"`
	Type       GameType `json:"type"`
	Name       string   `json:"name"`
	MaxPlayers int      `json:"maxPlayers"`

	// CreatorID is the stable id of the creator. Creator carries the creator's nickname,
	// which is what older servers send on its own.
	CreatorID string `json:"creatorId,omitempty"`
	Creator   string `json:"creator"`

	Status            RoomStatus `json:"status"`
	PasswordProtected bool       `json:"passwordProtected"`
}

// Header renders the summary line shown above the room,
// e.g. "[Fun] Partie : Friday night (3/8)".
func (r Room) Header(players int) string {
	return fmt.Sprintf("[%s] Partie : %s (%d/%d)", r.Type, r.Name, players, r.MaxPlayers)
}
