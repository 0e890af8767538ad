package models

// Player is a single participant in a room's roster.
type Player struct {
	// ID is empty when the player was learned from a playerJoined event, which only
	// carries display attributes.
	ID       string `json:"id,omitempty"`
	Nickname string `json:"nickname"`
	Ready    bool   `json:"ready"`
	Alive    bool   `json:"alive"`
	Bot      bool   `json:"bot,omitempty"`
}
