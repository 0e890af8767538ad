// internal/room/session.go
package room

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/permission"
	"github.com/jason-s-yu/gameroom/internal/roster"
	"github.com/jason-s-yu/gameroom/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultReconnectDelay = 2 * time.Second
)

var errNotStarted = errors.New("session not started")

// Deps are the collaborators a Session is built from.
type Deps struct {
	Transport   transport.Transport
	Commands    transport.Commander
	Permissions permission.Gate
	// Gate must have admitted the room before Start. A nil Gate skips the check.
	Gate   *auth.Gate
	Actor  models.Actor
	Logger *logrus.Logger

	// CommandTimeout bounds the wait for the server to settle an action.
	// Zero uses DefaultCommandTimeout.
	CommandTimeout time.Duration
	// ReconnectDelay is the pause before resubscribing after the stream drops. Zero uses
	// DefaultReconnectDelay; a negative value disables automatic reconnects.
	ReconnectDelay time.Duration
	// Color picks highlight colors. Nil uses roster.RandomColor.
	Color roster.ColorFunc
}

// Session keeps a local view of one room in sync with the server and dispatches the
// actor's intents against it.
//
// All room state is owned by a single goroutine that handles snapshot results, stream
// events, dispatches and command replies one at a time from its inbox. Everything handed
// out is a copy. State and chat callbacks run on that goroutine and must not call
// Dispatch, ToggleHighlight or Reconnect synchronously.
type Session struct {
	roomID string
	deps   Deps
	log    *logrus.Entry

	inbox   chan msg
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	current atomic.Pointer[State]

	subsMu    sync.Mutex
	stateSubs []func(State)
	chatSubs  []func(models.ChatMessage)

	// Owned by the loop goroutine.
	lc        Lifecycle
	room      models.Room
	roster    *roster.Roster
	notes     *roster.Annotations
	epoch     uint64
	hydrated  bool
	buffer    []models.Event
	lastSeq   uint64
	anomalies int
	stream    transport.Stream
	pending   map[string]*pending
	order     []string
	leaving   bool
	closed    bool
}

// New builds a session for roomID. It does nothing until Start.
func New(roomID string, deps Deps) (*Session, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: empty room id", ErrInvalidAction)
	}
	if deps.Transport == nil || deps.Commands == nil {
		return nil, errors.New("room session needs a transport and a commander")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.CommandTimeout <= 0 {
		deps.CommandTimeout = DefaultCommandTimeout
	}
	if deps.ReconnectDelay == 0 {
		deps.ReconnectDelay = DefaultReconnectDelay
	}

	r, _ := roster.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID: roomID,
		deps:   deps,
		log: deps.Logger.WithFields(logrus.Fields{
			"room":  roomID,
			"actor": deps.Actor.Nickname,
		}),
		inbox:   make(chan msg, 64),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		lc:      NewLifecycle(),
		roster:  r,
		notes:   roster.NewAnnotations(deps.Color),
		pending: make(map[string]*pending),
	}
	s.publish()
	return s, nil
}

// RoomID returns the room this session follows.
func (s *Session) RoomID() string { return s.roomID }

// Start subscribes to the room. The session runs until ctx is cancelled, Close is
// called, the actor leaves or the room becomes unavailable.
func (s *Session) Start(ctx context.Context) error {
	if s.deps.Gate != nil && !s.deps.Gate.Admitted(s.roomID) {
		return fmt.Errorf("%w: room %s", auth.ErrSessionUnauthorized, s.roomID)
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}
	context.AfterFunc(ctx, s.cancel)
	go s.loop()
	return nil
}

// Close ends the session and waits for it to release the stream.
func (s *Session) Close() error {
	s.cancel()
	if s.started.Load() {
		<-s.done
	}
	return nil
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// CurrentSnapshot returns a copy of the latest published state.
func (s *Session) CurrentSnapshot() State {
	return s.current.Load().clone()
}

// CurrentAnnotations returns a copy of the highlight colors keyed by nickname.
func (s *Session) CurrentAnnotations() map[string]string {
	return maps.Clone(s.current.Load().Annotations)
}

// OnStateChange registers cb to receive every published state.
func (s *Session) OnStateChange(cb func(State)) {
	s.subsMu.Lock()
	s.stateSubs = append(s.stateSubs, cb)
	s.subsMu.Unlock()
}

// OnChat registers cb to receive chat payloads exactly as the server sent them.
func (s *Session) OnChat(cb func(models.ChatMessage)) {
	s.subsMu.Lock()
	s.chatSubs = append(s.chatSubs, cb)
	s.subsMu.Unlock()
}

// ToggleHighlight flips the local highlight of a player. It returns the color and
// whether the player is now highlighted.
func (s *Session) ToggleHighlight(nickname string) (string, bool, error) {
	reply := make(chan highlightReply, 1)
	if err := s.send(context.Background(), highlightReq{nickname: nickname, reply: reply}); err != nil {
		return "", false, err
	}
	select {
	case r := <-reply:
		return r.color, r.on, r.err
	case <-s.done:
		return "", false, ErrSessionClosed
	}
}

// Reconnect drops the current subscription and starts a fresh one. The model is
// replaced once the new snapshot arrives.
func (s *Session) Reconnect() error {
	return s.send(context.Background(), reconnectReq{})
}

func (s *Session) send(ctx context.Context, m msg) error {
	if !s.started.Load() {
		return errNotStarted
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is used by helper goroutines to hand results back to the loop.
func (s *Session) post(m msg) {
	select {
	case s.inbox <- m:
	case <-s.done:
	}
}

type msg interface{ isSessionMsg() }

type streamOpened struct {
	epoch  uint64
	stream transport.Stream
	err    error
}

type snapshotLoaded struct {
	epoch uint64
	snap  models.Snapshot
	err   error
}

type streamEvent struct {
	epoch uint64
	ev    models.Event
}

type streamEnded struct {
	epoch uint64
	err   error
}

// reconnectReq with a zero epoch always resubscribes; otherwise only if that epoch is
// still current.
type reconnectReq struct{ epoch uint64 }

type dispatchReq struct {
	action Action
	reply  chan outcome
}

type commandDone struct {
	id  string
	err error
}

type commandExpired struct{ id string }

type leaveDone struct{}

type highlightReq struct {
	nickname string
	reply    chan highlightReply
}

type highlightReply struct {
	color string
	on    bool
	err   error
}

func (streamOpened) isSessionMsg()   {}
func (snapshotLoaded) isSessionMsg() {}
func (streamEvent) isSessionMsg()    {}
func (streamEnded) isSessionMsg()    {}
func (reconnectReq) isSessionMsg()   {}
func (dispatchReq) isSessionMsg()    {}
func (commandDone) isSessionMsg()    {}
func (commandExpired) isSessionMsg() {}
func (leaveDone) isSessionMsg()      {}
func (highlightReq) isSessionMsg()   {}

func (s *Session) loop() {
	defer close(s.done)
	s.subscribe()
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case m := <-s.inbox:
			if s.ctx.Err() != nil {
				continue
			}
			s.handle(m)
		}
	}
}

func (s *Session) handle(m msg) {
	switch m := m.(type) {
	case streamOpened:
		s.onStreamOpened(m)
	case snapshotLoaded:
		s.onSnapshot(m)
	case streamEvent:
		s.onEvent(m)
	case streamEnded:
		s.onStreamEnded(m)
	case reconnectReq:
		if m.epoch != 0 && m.epoch != s.epoch {
			return
		}
		if s.leaving || s.lc.Status() == StatusErrored {
			return
		}
		s.subscribe()
		s.publish()
	case dispatchReq:
		s.onDispatch(m)
	case commandDone:
		s.onCommandDone(m)
	case commandExpired:
		if p, ok := s.pending[m.id]; ok {
			s.expire(p)
			s.publish()
		}
	case leaveDone:
		s.cancel()
	case highlightReq:
		s.onHighlight(m)
	}
}

// subscribe starts a new subscription attempt, abandoning the previous one.
func (s *Session) subscribe() {
	s.closeStream()
	s.epoch++
	s.hydrated = false
	s.buffer = nil
	s.log.WithField("epoch", s.epoch).Debug("subscribing to room events")

	epoch := s.epoch
	go func() {
		stream, err := s.deps.Transport.Subscribe(s.ctx, s.roomID)
		s.post(streamOpened{epoch: epoch, stream: stream, err: err})
	}()
}

func (s *Session) onStreamOpened(m streamOpened) {
	if m.epoch != s.epoch {
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return
	}
	if m.err != nil {
		s.attemptFailed(m.err)
		return
	}
	s.stream = m.stream
	go s.pump(m.epoch, m.stream)
	go func() {
		snap, err := s.deps.Transport.FetchSnapshot(s.ctx, s.roomID)
		s.post(snapshotLoaded{epoch: m.epoch, snap: snap, err: err})
	}()
}

// pump forwards one stream's events to the loop, tagged with the attempt they belong to.
func (s *Session) pump(epoch uint64, st transport.Stream) {
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				s.post(streamEnded{epoch: epoch, err: st.Err()})
				return
			}
			s.post(streamEvent{epoch: epoch, ev: ev})
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) onStreamEnded(m streamEnded) {
	if m.epoch != s.epoch {
		return
	}
	s.stream = nil
	if m.err != nil {
		s.log.Warnf("event stream ended: %v", m.err)
	} else {
		s.log.Info("event stream ended")
	}
	s.scheduleReconnect()
}

func (s *Session) attemptFailed(err error) {
	if errors.Is(err, transport.ErrNotFound) {
		s.fail("This room does not exist.", err)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.log.WithField("epoch", s.epoch).Warnf("subscription attempt failed: %v", err)
	s.closeStream()
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	if s.deps.ReconnectDelay < 0 || s.leaving {
		return
	}
	epoch := s.epoch
	time.AfterFunc(s.deps.ReconnectDelay, func() {
		s.post(reconnectReq{epoch: epoch})
	})
}

func (s *Session) closeStream() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		s.log.Debugf("closing event stream: %v", err)
	}
	s.stream = nil
}

// fail moves the room to errored and ends the session.
func (s *Session) fail(reason string, cause error) {
	s.lc.Fail(reason)
	s.log.WithError(cause).Warn(reason)
	for _, p := range s.pendingInOrder() {
		s.settle(p, outcome{err: fmt.Errorf("%w: %s", ErrRoomUnavailable, reason)})
	}
	s.publish()
	s.cancel()
}

func (s *Session) teardown() {
	for _, p := range s.pendingInOrder() {
		s.settle(p, outcome{err: ErrSessionClosed})
	}
	s.closeStream()
	if err := s.deps.Transport.UnsubscribeAll(); err != nil {
		s.log.Warnf("unsubscribe: %v", err)
	}
	s.closed = true
	s.publish()
	s.log.Info("room session closed")
}

func (s *Session) onHighlight(m highlightReq) {
	if !s.roster.Contains(m.nickname) {
		m.reply <- highlightReply{err: fmt.Errorf("%w: no player %q in room", ErrInvalidAction, m.nickname)}
		return
	}
	color, on := s.notes.Toggle(m.nickname)
	m.reply <- highlightReply{color: color, on: on}
	s.publish()
}

func (s *Session) isCreator() bool {
	if s.room.CreatorID == "" && s.room.Creator == "" {
		return false
	}
	self := s.deps.Actor
	if s.room.CreatorID != "" && self.ID != "" {
		return s.room.CreatorID == self.ID
	}
	return self.Nickname != "" && s.room.Creator == self.Nickname
}

func (s *Session) isCreatorNick(nickname string) bool {
	if s.room.CreatorID != "" {
		if p, ok := s.roster.Get(nickname); ok && p.ID != "" {
			return p.ID == s.room.CreatorID
		}
	}
	return nickname == s.room.Creator
}

// publish stores a fresh State and hands a copy to every state listener.
func (s *Session) publish() {
	st := State{
		Room:        s.room,
		Players:     s.roster.Players(),
		Status:      s.lc.Status(),
		Error:       s.lc.Reason(),
		Annotations: s.notes.Snapshot(),
		Self:        s.deps.Actor,
		IsCreator:   s.isCreator(),
		Alive:       s.roster.AliveCount(),
		AllReady:    s.lc.Status() == StatusWaiting && s.roster.AllReady(s.room.Creator),
		Seq:         s.lastSeq,
		Epoch:       s.epoch,
		Buffered:    len(s.buffer),
		Pending:     len(s.pending),
		Anomalies:   s.anomalies,
		Closed:      s.closed,
	}
	s.current.Store(&st)

	s.subsMu.Lock()
	subs := slices.Clone(s.stateSubs)
	s.subsMu.Unlock()
	for _, cb := range subs {
		cb(st.clone())
	}
}

func (s *Session) forwardChat(c models.ChatMessage) {
	s.subsMu.Lock()
	subs := slices.Clone(s.chatSubs)
	s.subsMu.Unlock()
	for _, cb := range subs {
		cb(slices.Clone(c))
	}
}
