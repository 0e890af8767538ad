package models

// Snapshot is an authoritative, point-in-time fetch of a room and its roster.
type Snapshot struct {
	Room    Room     `json:"room"`
	Players []Player `json:"players"`

	// Seq is the stream sequence number the snapshot reflects, 0 if the server
	// does not sequence its events.
	Seq uint64 `json:"seq,omitempty"`
}
