// cmd/gameroom/render.go
package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/room"
)

// renderState draws the room the way the terminal shows it:
//
//	[Fun] Partie : Friday (3/8) - waiting - 3/3 alive
//	* alice (creator)
//	  bob ready
//	  carol [#abcdef]
func renderState(st room.State) string {
	var b strings.Builder
	switch st.Status {
	case room.StatusLoading:
		return "loading room...\n"
	case room.StatusErrored:
		return fmt.Sprintf("error: %s\n", st.Error)
	}

	fmt.Fprintf(&b, "%s - %s - %d/%d alive", st.Header(), st.Status, st.Alive, len(st.Players))
	if st.AllReady {
		b.WriteString(" - all ready")
	}
	if st.Pending > 0 {
		fmt.Fprintf(&b, " - %d pending", st.Pending)
	}
	b.WriteByte('\n')

	for _, p := range st.Players {
		mark := " "
		if p.Nickname == st.Self.Nickname {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %s", mark, p.Nickname)
		switch {
		case p.Nickname == st.Room.Creator:
			b.WriteString(" (creator)")
		case p.Ready:
			b.WriteString(" ready")
		}
		if p.Bot {
			b.WriteString(" [bot]")
		}
		if !p.Alive {
			b.WriteString(" (dead)")
		}
		if color, ok := st.Annotations[p.Nickname]; ok {
			fmt.Fprintf(&b, " [%s]", color)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// renderChat prints chat sent by this client's format and falls back to the raw payload.
func renderChat(m models.ChatMessage) string {
	var p chatPayload
	if err := json.Unmarshal(m, &p); err == nil && p.Message != "" {
		return fmt.Sprintf("<%s> %s", p.Nickname, p.Message)
	}
	return "chat: " + string(m)
}
