// cmd/gameroom/commands.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/room"
)

const helpText = `commands:
  ready | unready        toggle your ready flag
  start                  start the game (creator)
  bot                    add a bot
  kick <nick>            kick a player (creator)
  transfer <nick>        hand the room to another player (creator)
  hl <nick>              toggle a local highlight
  say <text>             send a chat message
  reconnect              resubscribe to the room
  leave                  leave the room and exit
  quit                   exit without leaving`

var (
	errQuit    = errors.New("quit")
	errUnknown = errors.New("unknown command")
)

// command is one parsed input line. Exactly one of action, chat or local is set.
type command struct {
	action *room.Action
	chat   string
	local  string
	arg    string
}

func parseCommand(line string) (command, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	needArg := func(a room.Action) (command, error) {
		if rest == "" {
			return command{}, fmt.Errorf("%s needs a nickname", verb)
		}
		return command{action: &a}, nil
	}
	act := func(a room.Action) (command, error) { return command{action: &a}, nil }

	switch strings.ToLower(verb) {
	case "":
		return command{}, nil
	case "ready":
		return act(room.SetReady(true))
	case "unready":
		return act(room.SetReady(false))
	case "start":
		return act(room.StartGame())
	case "bot":
		return act(room.AddBot())
	case "kick":
		return needArg(room.KickPlayer(rest))
	case "transfer":
		return needArg(room.TransferCreator(rest))
	case "leave":
		return act(room.LeaveRoom())
	case "say":
		if rest == "" {
			return command{}, errors.New("say needs a message")
		}
		return command{chat: rest}, nil
	case "hl":
		if rest == "" {
			return command{}, errors.New("hl needs a nickname")
		}
		return command{local: "hl", arg: rest}, nil
	case "reconnect", "help":
		return command{local: verb}, nil
	case "quit", "exit":
		return command{}, errQuit
	}
	return command{}, fmt.Errorf("%w %q, try help", errUnknown, verb)
}

// chatPayload is what this client puts in a chatMessage. Other clients may send anything.
type chatPayload struct {
	Nickname string `json:"nickname"`
	Message  string `json:"message"`
}

// emitter is the part of the transport the CLI writes chat with.
type emitter interface {
	Emit(ctx context.Context, name models.EventType, payload any) error
}

type runner struct {
	session *room.Session
	emit    emitter
	self    models.Actor
	out     io.Writer
}

// run executes c. It returns errQuit once the CLI should exit.
func (r *runner) run(ctx context.Context, c command) error {
	switch {
	case c.action != nil:
		res, err := r.session.Dispatch(ctx, *c.action)
		if err != nil {
			return err
		}
		switch {
		case res.Ignored:
			fmt.Fprintf(r.out, "%s ignored\n", c.action.Kind)
		case c.action.Kind == room.ActionLeaveRoom:
			fmt.Fprintln(r.out, "left the room")
			return errQuit
		}
		return nil
	case c.chat != "":
		data, err := json.Marshal(chatPayload{Nickname: r.self.Nickname, Message: c.chat})
		if err != nil {
			return err
		}
		return r.emit.Emit(ctx, models.CommandChatMessage, models.ChatMessage(data))
	case c.local == "hl":
		color, on, err := r.session.ToggleHighlight(c.arg)
		if err != nil {
			return err
		}
		if on {
			fmt.Fprintf(r.out, "%s highlighted in %s\n", c.arg, color)
		} else {
			fmt.Fprintf(r.out, "%s no longer highlighted\n", c.arg)
		}
		return nil
	case c.local == "reconnect":
		return r.session.Reconnect()
	case c.local == "help":
		fmt.Fprintln(r.out, helpText)
	}
	return nil
}
