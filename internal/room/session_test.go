package room

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/permission"
	"github.com/jason-s-yu/gameroom/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoom = "room-1"

var (
	alice = models.Actor{ID: "u-alice", Nickname: "alice", Role: models.RolePlayer}
	bob   = models.Actor{ID: "u-bob", Nickname: "bob", Role: models.RolePlayer}
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// waitingSnapshot is a waiting room created by alice with bob and carol in it.
func waitingSnapshot() models.Snapshot {
	return models.Snapshot{
		Room: models.Room{
			ID:         testRoom,
			Type:       models.GameTypeFun,
			Name:       "Friday",
			MaxPlayers: 8,
			CreatorID:  alice.ID,
			Creator:    alice.Nickname,
			Status:     models.RoomWaiting,
		},
		Players: []models.Player{
			{ID: alice.ID, Nickname: "alice", Alive: true},
			{ID: bob.ID, Nickname: "bob", Alive: true},
			{ID: "u-carol", Nickname: "carol", Alive: true},
		},
	}
}

func ev(t models.EventType, payload any) models.Event {
	return models.Event{Type: t, Payload: payload}
}

func chat(body string) models.Event {
	return ev(models.EventChatMessage, models.ChatMessage(body))
}

// fakeStream is an in-memory event stream the test feeds directly.
type fakeStream struct {
	mu     sync.Mutex
	ch     chan models.Event
	closed bool
	err    error
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan models.Event, 64)}
}

func (f *fakeStream) Events() <-chan models.Event { return f.ch }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func (f *fakeStream) send(e models.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.ch <- e
	return true
}

func (f *fakeStream) end(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	_ = f.Close()
}

type emitted struct {
	name    models.EventType
	payload any
}

type fakeTransport struct {
	mu       sync.Mutex
	snapshot models.Snapshot
	snapErr  error
	// hold, when set, keeps FetchSnapshot blocked until it is closed.
	hold    chan struct{}
	fetches int
	streams []*fakeStream
	emitted []emitted
	emitErr error
	unsubs  int
}

func (f *fakeTransport) FetchSnapshot(ctx context.Context, _ string) (models.Snapshot, error) {
	f.mu.Lock()
	f.fetches++
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return models.Snapshot{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.snapshot
	snap.Players = slices.Clone(snap.Players)
	return snap, f.snapErr
}

func (f *fakeTransport) Subscribe(context.Context, string) (transport.Stream, error) {
	s := newFakeStream()
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeTransport) Emit(_ context.Context, name models.EventType, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, emitted{name: name, payload: payload})
	return f.emitErr
}

func (f *fakeTransport) UnsubscribeAll() error {
	f.mu.Lock()
	f.unsubs++
	streams := slices.Clone(f.streams)
	f.mu.Unlock()
	for _, s := range streams {
		_ = s.Close()
	}
	return nil
}

func (f *fakeTransport) setSnapshot(snap models.Snapshot) {
	f.mu.Lock()
	f.snapshot = snap
	f.mu.Unlock()
}

func (f *fakeTransport) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeTransport) latest() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

func (f *fakeTransport) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeTransport) emits() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.emitted)
}

func (f *fakeTransport) unsubscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubs
}

// fakeCommander records every command and answers with err, or never answers when block
// is set.
type fakeCommander struct {
	mu    sync.Mutex
	calls []string
	err   error
	block bool
}

func (f *fakeCommander) do(ctx context.Context, call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err, block := f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeCommander) StartGame(ctx context.Context, _ string) error { return f.do(ctx, "start") }

func (f *fakeCommander) AddBot(ctx context.Context, _ string) error { return f.do(ctx, "bot") }

func (f *fakeCommander) SetReady(ctx context.Context, _ string, ready bool) error {
	if ready {
		return f.do(ctx, "ready")
	}
	return f.do(ctx, "unready")
}

func (f *fakeCommander) TransferCreator(ctx context.Context, _ string, id string) error {
	return f.do(ctx, "transfer:"+id)
}

func (f *fakeCommander) Leave(ctx context.Context, _ string) error { return f.do(ctx, "leave") }

func (f *fakeCommander) set(err error, block bool) {
	f.mu.Lock()
	f.err, f.block = err, block
	f.mu.Unlock()
}

func (f *fakeCommander) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type harness struct {
	t   *testing.T
	s   *Session
	tr  *fakeTransport
	cmd *fakeCommander

	chats atomic.Int32
}

func newHarness(t *testing.T, actor models.Actor, opts ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		tr:  &fakeTransport{snapshot: waitingSnapshot()},
		cmd: &fakeCommander{},
	}
	deps := Deps{
		Transport:      h.tr,
		Commands:       h.cmd,
		Permissions:    permission.NewStatic(actor.Role, nil),
		Actor:          actor,
		Logger:         quietLogger(),
		CommandTimeout: time.Second,
		ReconnectDelay: -1,
		Color:          func() string { return "#abcdef" },
	}
	for _, o := range opts {
		o(&deps)
	}
	s, err := New(testRoom, deps)
	require.NoError(t, err)
	s.OnChat(func(models.ChatMessage) { h.chats.Add(1) })
	h.s = s
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.s.Start(context.Background()))
}

// startLoaded starts the session and waits for the first snapshot to land.
func (h *harness) startLoaded() {
	h.t.Helper()
	h.start()
	h.waitFor(func(st State) bool { return st.Status != StatusLoading })
}

func (h *harness) waitFor(cond func(State) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return cond(h.s.CurrentSnapshot()) }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) push(events ...models.Event) {
	h.t.Helper()
	s := h.tr.latest()
	for _, e := range events {
		require.True(h.t, s.send(e), "stream already closed")
	}
}

// pushAndSettle pushes events followed by a chat marker and waits until the marker has
// been forwarded, so every event before it has been applied.
func (h *harness) pushAndSettle(events ...models.Event) {
	h.t.Helper()
	want := h.chats.Load() + 1
	h.push(append(events, chat(`{"text":"marker"}`))...)
	require.Eventually(h.t, func() bool { return h.chats.Load() >= want }, 2*time.Second, 5*time.Millisecond)
}

type dispatched struct {
	res Result
	err error
}

func (h *harness) dispatchAsync(a Action) <-chan dispatched {
	out := make(chan dispatched, 1)
	go func() {
		res, err := h.s.Dispatch(context.Background(), a)
		out <- dispatched{res, err}
	}()
	return out
}

func (h *harness) await(ch <-chan dispatched) dispatched {
	h.t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(3 * time.Second):
		h.t.Fatal("dispatch never returned")
		return dispatched{}
	}
}

func nicknames(players []models.Player) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		out = append(out, p.Nickname)
	}
	return out
}

// lockedRoom is a password-protected room for gate tests.
type lockedRoom struct{ password string }

func (lockedRoom) PasswordProtected(context.Context, string) (bool, error) { return true, nil }

func (r lockedRoom) VerifyPassword(_ context.Context, _ string, password string) (bool, error) {
	return password == r.password, nil
}

func TestStartRequiresAdmission(t *testing.T) {
	gate := auth.NewGate(lockedRoom{password: "pw"}, nil, quietLogger())
	h := newHarness(t, bob, func(d *Deps) { d.Gate = gate })

	err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, auth.ErrSessionUnauthorized)
	assert.Zero(t, h.tr.streamCount())

	_, err = gate.Admit(context.Background(), testRoom, "pw")
	require.NoError(t, err)
	h.startLoaded()
	assert.Equal(t, StatusWaiting, h.s.CurrentSnapshot().Status)
}

func TestHydrateFromSnapshot(t *testing.T) {
	h := newHarness(t, alice)
	assert.Equal(t, StatusLoading, h.s.CurrentSnapshot().Status)

	h.startLoaded()
	st := h.s.CurrentSnapshot()
	assert.Equal(t, StatusWaiting, st.Status)
	assert.Equal(t, []string{"alice", "bob", "carol"}, nicknames(st.Players))
	assert.True(t, st.IsCreator)
	assert.Equal(t, "[Fun] Partie : Friday (3/8)", st.Header())
	assert.Equal(t, 3, st.Alive)
	assert.False(t, st.AllReady)
	assert.Equal(t, uint64(1), st.Epoch)
	assert.Equal(t, 1, h.tr.fetchCount())
}

func TestRoomNotFoundIsTerminal(t *testing.T) {
	h := newHarness(t, bob)
	h.tr.snapErr = transport.ErrNotFound
	h.start()

	h.waitFor(func(st State) bool { return st.Closed })
	st := h.s.CurrentSnapshot()
	assert.Equal(t, StatusErrored, st.Status)
	assert.NotEmpty(t, st.Error)
	assert.GreaterOrEqual(t, h.tr.unsubscribed(), 1)

	_, err := h.s.Dispatch(context.Background(), SetReady(true))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestEventsBeforeSnapshotAreBuffered(t *testing.T) {
	h := newHarness(t, alice)
	hold := make(chan struct{})
	h.tr.hold = hold
	h.start()

	require.Eventually(t, func() bool { return h.tr.streamCount() == 1 }, time.Second, 5*time.Millisecond)
	h.push(
		ev(models.EventPlayerJoined, models.PlayerJoined{Nickname: "dave", Alive: true}),
		ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob"}),
	)
	h.waitFor(func(st State) bool { return st.Buffered == 2 })
	assert.Equal(t, StatusLoading, h.s.CurrentSnapshot().Status)

	close(hold)
	h.waitFor(func(st State) bool { return st.Status == StatusWaiting })
	st := h.s.CurrentSnapshot()
	assert.Zero(t, st.Buffered)
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, nicknames(st.Players))
	p, _ := st.Player("bob")
	assert.True(t, p.Ready)
}

func TestBufferedEventsCoveredBySnapshotAreSkipped(t *testing.T) {
	h := newHarness(t, alice)
	snap := waitingSnapshot()
	snap.Seq = 5
	h.tr.setSnapshot(snap)
	hold := make(chan struct{})
	h.tr.hold = hold
	h.start()

	require.Eventually(t, func() bool { return h.tr.streamCount() == 1 }, time.Second, 5*time.Millisecond)
	left := ev(models.EventPlayerLeft, models.PlayerLeft{Nickname: "carol"})
	left.Seq = 4
	joined := ev(models.EventPlayerJoined, models.PlayerJoined{Nickname: "dave", Alive: true})
	joined.Seq = 6
	h.push(left, joined)
	h.waitFor(func(st State) bool { return st.Buffered == 2 })

	close(hold)
	h.waitFor(func(st State) bool { return st.Status == StatusWaiting })
	st := h.s.CurrentSnapshot()
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, nicknames(st.Players))
	assert.Equal(t, uint64(6), st.Seq)
	assert.Zero(t, st.Anomalies)
}

func TestApplyingEventsTwiceEqualsOnce(t *testing.T) {
	h := newHarness(t, alice)
	h.startLoaded()

	batch := []models.Event{
		ev(models.EventPlayerJoined, models.PlayerJoined{Nickname: "dave", Alive: true}),
		ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob"}),
		ev(models.EventPlayerLeft, models.PlayerLeft{Nickname: "carol"}),
		ev(models.EventCreatorChanged, models.CreatorChanged{NewCreatorID: bob.ID}),
		ev(models.EventGameStarted, models.GameStarted{}),
	}
	h.pushAndSettle(batch...)
	once := h.s.CurrentSnapshot()

	h.pushAndSettle(batch...)
	twice := h.s.CurrentSnapshot()

	assert.Equal(t, once.Room, twice.Room)
	assert.Equal(t, once.Players, twice.Players)
	assert.Equal(t, once.Status, twice.Status)
	assert.Equal(t, StatusStarted, twice.Status)
	assert.Equal(t, "bob", twice.Room.Creator)
	assert.False(t, twice.IsCreator)
}

func TestIndependentEventsConvergeInAnyOrder(t *testing.T) {
	events := []models.Event{
		ev(models.EventPlayerJoined, models.PlayerJoined{Nickname: "dave", Alive: true}),
		ev(models.EventPlayerJoined, models.PlayerJoined{Nickname: "erin", Ready: true, Alive: true}),
		ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob"}),
		ev(models.EventPlayerLeft, models.PlayerLeft{Nickname: "carol"}),
	}
	reversed := slices.Clone(events)
	slices.Reverse(reversed)

	a := newHarness(t, alice)
	a.startLoaded()
	a.pushAndSettle(events...)

	b := newHarness(t, alice)
	b.startLoaded()
	b.pushAndSettle(reversed...)

	byNick := func(players []models.Player) []models.Player {
		sort.Slice(players, func(i, j int) bool { return players[i].Nickname < players[j].Nickname })
		return players
	}
	assert.Equal(t, byNick(a.s.CurrentSnapshot().Players), byNick(b.s.CurrentSnapshot().Players))
}

func TestSamePlayerUpdatesAreLastWriteWins(t *testing.T) {
	h := newHarness(t, alice)
	h.startLoaded()

	off := false
	h.pushAndSettle(
		ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob"}),
		ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob", Ready: &off}),
	)
	p, ok := h.s.CurrentSnapshot().Player("bob")
	require.True(t, ok)
	assert.False(t, p.Ready)
}

func TestStaleSequenceNumbersAreDropped(t *testing.T) {
	h := newHarness(t, alice)
	snap := waitingSnapshot()
	snap.Seq = 10
	h.tr.setSnapshot(snap)
	h.startLoaded()

	off := false
	ready := ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob"})
	ready.Seq = 11
	dup := ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob", Ready: &off})
	dup.Seq = 11
	old := ev(models.EventPlayerLeft, models.PlayerLeft{Nickname: "carol"})
	old.Seq = 9
	h.pushAndSettle(ready, dup, old)

	st := h.s.CurrentSnapshot()
	p, _ := st.Player("bob")
	assert.True(t, p.Ready)
	assert.True(t, slices.Contains(nicknames(st.Players), "carol"))
	assert.Equal(t, uint64(11), st.Seq)
	assert.Equal(t, 2, st.Anomalies)
}

func TestAnomaliesAreCountedNotFatal(t *testing.T) {
	h := newHarness(t, alice)
	h.startLoaded()

	h.pushAndSettle(
		ev(models.EventGameFinished, models.GameFinished{}),
		ev(models.EventPlayerReady, models.PlayerReady{Nickname: "ghost"}),
		ev(models.EventPlayerKicked, models.PlayerKicked{RoomID: "elsewhere", Nickname: "bob"}),
		models.Event{Payload: models.Undecodable{Reason: `unknown event "playerTeleported"`}},
	)
	st := h.s.CurrentSnapshot()
	assert.Equal(t, StatusWaiting, st.Status)
	assert.Equal(t, 4, st.Anomalies)
	assert.Len(t, st.Players, 3)
}

func TestOverCapacityIsAnAnomaly(t *testing.T) {
	h := newHarness(t, alice)
	snap := waitingSnapshot()
	snap.Room.MaxPlayers = 3
	h.tr.setSnapshot(snap)
	h.startLoaded()
	assert.Zero(t, h.s.CurrentSnapshot().Anomalies)

	dave := ev(models.EventPlayerJoined, models.PlayerJoined{Nickname: "dave", Alive: true})
	h.pushAndSettle(dave, dave)
	st := h.s.CurrentSnapshot()
	assert.Equal(t, 1, st.Anomalies, "a repeated join is not counted twice")
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, nicknames(st.Players))

	crowded := waitingSnapshot()
	crowded.Room.MaxPlayers = 2
	h2 := newHarness(t, alice)
	h2.tr.setSnapshot(crowded)
	h2.startLoaded()
	assert.Equal(t, 1, h2.s.CurrentSnapshot().Anomalies)
	assert.Len(t, h2.s.CurrentSnapshot().Players, 3)
}

func TestLifecycleEvents(t *testing.T) {
	h := newHarness(t, bob)
	h.startLoaded()

	h.pushAndSettle(ev(models.EventGameStarted, models.GameStarted{}))
	assert.Equal(t, StatusStarted, h.s.CurrentSnapshot().Status)

	h.pushAndSettle(ev(models.EventGameFinished, models.GameFinished{}))
	assert.Equal(t, StatusFinished, h.s.CurrentSnapshot().Status)
}

func TestSelfKickEndsSession(t *testing.T) {
	h := newHarness(t, bob)
	h.startLoaded()

	h.push(ev(models.EventPlayerKicked, models.PlayerKicked{RoomID: testRoom, Nickname: "bob"}))
	h.waitFor(func(st State) bool { return st.Closed })

	st := h.s.CurrentSnapshot()
	assert.Equal(t, StatusErrored, st.Status)
	assert.Equal(t, kickedReason, st.Error)
	assert.GreaterOrEqual(t, h.tr.unsubscribed(), 1)

	_, err := h.s.Dispatch(context.Background(), SetReady(true))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestReconnectReplacesModel(t *testing.T) {
	h := newHarness(t, alice)
	h.startLoaded()
	first := h.tr.latest()

	h.pushAndSettle(ev(models.EventPlayerJoined, models.PlayerJoined{Nickname: "dave", Alive: true}))
	_, on, err := h.s.ToggleHighlight("carol")
	require.NoError(t, err)
	require.True(t, on)
	_, _, err = h.s.ToggleHighlight("bob")
	require.NoError(t, err)

	snap := waitingSnapshot()
	snap.Players = []models.Player{
		{ID: alice.ID, Nickname: "alice", Alive: true},
		{ID: bob.ID, Nickname: "bob", Ready: true, Alive: true},
		{ID: "u-erin", Nickname: "erin", Alive: true},
	}
	h.tr.setSnapshot(snap)
	require.NoError(t, h.s.Reconnect())

	h.waitFor(func(st State) bool {
		_, ok := st.Player("erin")
		return st.Epoch == 2 && ok
	})
	st := h.s.CurrentSnapshot()
	assert.Equal(t, []string{"alice", "bob", "erin"}, nicknames(st.Players))
	assert.Equal(t, map[string]string{"bob": "#abcdef"}, st.Annotations)
	assert.Equal(t, 2, h.tr.fetchCount())
	assert.False(t, first.send(chat(`{}`)), "previous stream should be closed")
}

func TestStreamDropTriggersReconnect(t *testing.T) {
	h := newHarness(t, alice, func(d *Deps) { d.ReconnectDelay = 10 * time.Millisecond })
	h.startLoaded()

	h.tr.latest().end(errors.New("connection reset"))
	h.waitFor(func(st State) bool { return st.Epoch == 2 && st.Status == StatusWaiting })
	require.Eventually(t, func() bool { return h.tr.fetchCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.tr.streamCount())
}

func TestChatIsForwardedVerbatim(t *testing.T) {
	h := newHarness(t, alice)
	var (
		mu  sync.Mutex
		got []json.RawMessage
	)
	h.s.OnChat(func(c models.ChatMessage) {
		mu.Lock()
		got = append(got, json.RawMessage(c))
		mu.Unlock()
	})
	h.startLoaded()
	before := h.s.CurrentSnapshot()

	h.pushAndSettle(chat(`{"from":"bob","text":"gl hf","color":"#123456"}`))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), 1)
	assert.JSONEq(t, `{"from":"bob","text":"gl hf","color":"#123456"}`, string(got[0]))
	assert.Equal(t, before.Players, h.s.CurrentSnapshot().Players)
}

func TestHighlightsSurviveUpdatesButNotRemoval(t *testing.T) {
	h := newHarness(t, alice)
	h.startLoaded()

	color, on, err := h.s.ToggleHighlight("bob")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, "#abcdef", color)
	assert.Equal(t, map[string]string{"bob": "#abcdef"}, h.s.CurrentAnnotations())

	h.pushAndSettle(ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob"}))
	assert.Contains(t, h.s.CurrentAnnotations(), "bob")

	h.pushAndSettle(ev(models.EventPlayerLeft, models.PlayerLeft{Nickname: "bob"}))
	assert.Empty(t, h.s.CurrentAnnotations())

	h.pushAndSettle(ev(models.EventPlayerJoined, models.PlayerJoined{Nickname: "bob", Alive: true}))
	assert.Empty(t, h.s.CurrentAnnotations())

	_, on, err = h.s.ToggleHighlight("bob")
	require.NoError(t, err)
	assert.True(t, on)
	_, on, err = h.s.ToggleHighlight("bob")
	require.NoError(t, err)
	assert.False(t, on)

	_, _, err = h.s.ToggleHighlight("zed")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestStateListenersGetCopies(t *testing.T) {
	h := newHarness(t, alice)
	h.s.OnStateChange(func(st State) {
		if len(st.Players) > 0 {
			st.Players[0].Nickname = "mallory"
		}
		st.Annotations["x"] = "y"
	})
	h.startLoaded()
	h.pushAndSettle(ev(models.EventPlayerReady, models.PlayerReady{Nickname: "bob"}))

	st := h.s.CurrentSnapshot()
	assert.Equal(t, "alice", st.Players[0].Nickname)
	assert.NotContains(t, st.Annotations, "x")
}

func TestCloseEndsSession(t *testing.T) {
	h := newHarness(t, bob)

	_, err := h.s.Dispatch(context.Background(), SetReady(true))
	assert.ErrorIs(t, err, errNotStarted)

	h.startLoaded()
	require.NoError(t, h.s.Close())

	assert.True(t, h.s.CurrentSnapshot().Closed)
	_, err = h.s.Dispatch(context.Background(), SetReady(true))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, h.s.Start(context.Background()), ErrSessionClosed)
}

func TestParentContextCancelsSession(t *testing.T) {
	h := newHarness(t, bob)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.s.Start(ctx))
	h.waitFor(func(st State) bool { return st.Status == StatusWaiting })

	cancel()
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.True(t, h.s.CurrentSnapshot().Closed)
}
