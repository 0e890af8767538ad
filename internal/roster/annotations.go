package roster

import (
	"fmt"
	"math/rand"
)

// ColorFunc picks the highlight color for a newly annotated player.
type ColorFunc func() string

// RandomColor returns a random "#rrggbb" color.
func RandomColor() string {
	return fmt.Sprintf("#%06x", rand.Intn(0x1000000))
}

// Annotations holds client-local highlight colors keyed by nickname. Nothing here is
// authoritative or ever sent to the server.
type Annotations struct {
	colors map[string]string
	color  ColorFunc
}

// NewAnnotations returns an empty annotation map. A nil color func uses RandomColor.
func NewAnnotations(color ColorFunc) *Annotations {
	if color == nil {
		color = RandomColor
	}
	return &Annotations{
		colors: make(map[string]string),
		color:  color,
	}
}

// Toggle removes the highlight if present, otherwise assigns a fresh color.
// It returns the color now assigned and whether the player is highlighted.
func (a *Annotations) Toggle(nickname string) (string, bool) {
	if _, ok := a.colors[nickname]; ok {
		delete(a.colors, nickname)
		return "", false
	}
	c := a.color()
	a.colors[nickname] = c
	return c, true
}

// Get returns the color assigned to nickname.
func (a *Annotations) Get(nickname string) (string, bool) {
	c, ok := a.colors[nickname]
	return c, ok
}

// Set restores a previously captured color.
func (a *Annotations) Set(nickname, color string) {
	a.colors[nickname] = color
}

// Remove drops any highlight for nickname.
func (a *Annotations) Remove(nickname string) {
	delete(a.colors, nickname)
}

// Retain drops every highlight whose nickname is not kept.
func (a *Annotations) Retain(keep func(nickname string) bool) {
	for nick := range a.colors {
		if !keep(nick) {
			delete(a.colors, nick)
		}
	}
}

// Snapshot returns a copy of the current highlights.
func (a *Annotations) Snapshot() map[string]string {
	out := make(map[string]string, len(a.colors))
	for k, v := range a.colors {
		out[k] = v
	}
	return out
}
