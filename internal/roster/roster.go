// internal/roster/roster.go
package roster

import (
	"github.com/jason-s-yu/gameroom/internal/models"
)

// Roster is the ordered-by-join list of players in a room, keyed by nickname.
// It is not safe for concurrent use; the room session owns it exclusively.
type Roster struct {
	players []models.Player
}

// New builds a roster from a snapshot's player list. Players whose nickname already
// appeared earlier in the list are dropped and returned so the caller can report them.
func New(players []models.Player) (*Roster, []string) {
	r := &Roster{players: make([]models.Player, 0, len(players))}
	var dupes []string
	for _, p := range players {
		if !r.Add(p) {
			dupes = append(dupes, p.Nickname)
		}
	}
	return r, dupes
}

func (r *Roster) indexOf(nickname string) int {
	for i, p := range r.players {
		if p.Nickname == nickname {
			return i
		}
	}
	return -1
}

// Len returns the number of players.
func (r *Roster) Len() int { return len(r.players) }

// Contains reports whether a player with this nickname is present.
func (r *Roster) Contains(nickname string) bool {
	return r.indexOf(nickname) >= 0
}

// Get returns the player with the given nickname.
func (r *Roster) Get(nickname string) (models.Player, bool) {
	i := r.indexOf(nickname)
	if i < 0 {
		return models.Player{}, false
	}
	return r.players[i], true
}

// FindByID looks a player up by stable id. Players without a known id never match.
func (r *Roster) FindByID(id string) (models.Player, bool) {
	if id == "" {
		return models.Player{}, false
	}
	for _, p := range r.players {
		if p.ID == id {
			return p, true
		}
	}
	return models.Player{}, false
}

// Add appends p at the end of the join order. It returns false and leaves the roster
// untouched if the nickname is already present.
func (r *Roster) Add(p models.Player) bool {
	if r.indexOf(p.Nickname) >= 0 {
		return false
	}
	r.players = append(r.players, p)
	return true
}

// Update overwrites the display attributes of an existing player, keeping its position
// and any stable id already known. It returns false if the player is absent.
func (r *Roster) Update(p models.Player) bool {
	i := r.indexOf(p.Nickname)
	if i < 0 {
		return false
	}
	if p.ID == "" {
		p.ID = r.players[i].ID
	}
	r.players[i] = p
	return true
}

// Insert places p at position idx, clamped to the roster bounds. Used to undo a removal.
func (r *Roster) Insert(idx int, p models.Player) bool {
	if r.indexOf(p.Nickname) >= 0 {
		return false
	}
	if idx < 0 {
		idx = 0
	}
	if idx > len(r.players) {
		idx = len(r.players)
	}
	r.players = append(r.players, models.Player{})
	copy(r.players[idx+1:], r.players[idx:])
	r.players[idx] = p
	return true
}

// Remove deletes the player and returns it with the position it held.
func (r *Roster) Remove(nickname string) (models.Player, int, bool) {
	i := r.indexOf(nickname)
	if i < 0 {
		return models.Player{}, -1, false
	}
	p := r.players[i]
	r.players = append(r.players[:i], r.players[i+1:]...)
	return p, i, true
}

// SetReady sets the ready flag and returns the previous value.
func (r *Roster) SetReady(nickname string, ready bool) (prev bool, ok bool) {
	i := r.indexOf(nickname)
	if i < 0 {
		return false, false
	}
	prev = r.players[i].Ready
	r.players[i].Ready = ready
	return prev, true
}

// Players returns a copy of the roster in join order.
func (r *Roster) Players() []models.Player {
	out := make([]models.Player, len(r.players))
	copy(out, r.players)
	return out
}

// AliveCount returns how many players are still alive.
func (r *Roster) AliveCount() int {
	n := 0
	for _, p := range r.players {
		if p.Alive {
			n++
		}
	}
	return n
}

// AllReady reports whether every player other than except is ready. An empty roster
// is never ready.
func (r *Roster) AllReady(except string) bool {
	seen := 0
	for _, p := range r.players {
		if p.Nickname == except {
			continue
		}
		seen++
		if !p.Ready {
			return false
		}
	}
	return seen > 0
}
