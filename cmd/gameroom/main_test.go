package main

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	c, err := parseCommand("  kick  bob ")
	require.NoError(t, err)
	require.NotNil(t, c.action)
	assert.Equal(t, room.KickPlayer("bob"), *c.action)

	c, err = parseCommand("unready")
	require.NoError(t, err)
	assert.Equal(t, room.SetReady(false), *c.action)

	c, err = parseCommand("transfer carol")
	require.NoError(t, err)
	assert.Equal(t, room.TransferCreator("carol"), *c.action)

	c, err = parseCommand("say hello there")
	require.NoError(t, err)
	assert.Equal(t, "hello there", c.chat)

	c, err = parseCommand("hl bob")
	require.NoError(t, err)
	assert.Equal(t, "hl", c.local)
	assert.Equal(t, "bob", c.arg)

	c, err = parseCommand("")
	require.NoError(t, err)
	assert.Nil(t, c.action)

	_, err = parseCommand("kick")
	assert.Error(t, err)
	_, err = parseCommand("dance")
	assert.ErrorIs(t, err, errUnknown)
	_, err = parseCommand("quit")
	assert.ErrorIs(t, err, errQuit)
}

func TestRenderState(t *testing.T) {
	st := room.State{
		Room:   models.Room{Type: models.GameTypeFun, Name: "Friday", MaxPlayers: 8, Creator: "alice"},
		Status: room.StatusWaiting,
		Players: []models.Player{
			{Nickname: "alice", Alive: true},
			{Nickname: "bob", Ready: true, Alive: true},
			{Nickname: "Bot 1", Ready: true, Bot: true},
		},
		Annotations: map[string]string{"bob": "#abcdef"},
		Self:        models.Actor{Nickname: "bob"},
		Alive:       2,
		Pending:     1,
	}
	want := "[Fun] Partie : Friday (3/8) - waiting - 2/3 alive - 1 pending\n" +
		"  alice (creator)\n" +
		"* bob ready [#abcdef]\n" +
		"  Bot 1 ready [bot] (dead)\n"
	assert.Equal(t, want, renderState(st))

	st.AllReady, st.Pending = true, 0
	assert.Equal(t, "[Fun] Partie : Friday (3/8) - waiting - 2/3 alive - all ready\n",
		strings.SplitAfter(renderState(st), "\n")[0])

	assert.Equal(t, "error: You have been kicked from this room.\n",
		renderState(room.State{Status: room.StatusErrored, Error: "You have been kicked from this room."}))
}

func TestRenderChat(t *testing.T) {
	assert.Equal(t, "<bob> hi", renderChat(models.ChatMessage(`{"nickname":"bob","message":"hi"}`)))
	assert.Equal(t, `chat: {"text":"hi"}`, renderChat(models.ChatMessage(`{"text":"hi"}`)))
}

type verifier struct {
	password string
	calls    int
}

func (v *verifier) PasswordProtected(context.Context, string) (bool, error) { return true, nil }

func (v *verifier) VerifyPassword(_ context.Context, _ string, password string) (bool, error) {
	v.calls++
	return password == v.password, nil
}

func TestAdmitPromptsForPassword(t *testing.T) {
	v := &verifier{password: "hunter2"}
	gate := auth.NewGate(v, nil, nil)
	var out strings.Builder
	in := bufio.NewScanner(strings.NewReader("wrong\nhunter2\n"))

	require.NoError(t, admit(context.Background(), gate, "r1", "", in, &out))
	assert.True(t, gate.Admitted("r1"))
	assert.Equal(t, 2, v.calls)
	assert.Equal(t, "password required, password: incorrect password, password: ", out.String())
}

func TestAdmitGivesUp(t *testing.T) {
	gate := auth.NewGate(&verifier{password: "hunter2"}, nil, nil)
	in := bufio.NewScanner(strings.NewReader("a\nb\nc\nd\n"))
	err := admit(context.Background(), gate, "r1", "nope", in, &strings.Builder{})
	assert.ErrorIs(t, err, auth.ErrSessionUnauthorized)
	assert.False(t, gate.Admitted("r1"))
}
