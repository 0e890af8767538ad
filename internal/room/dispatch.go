// internal/room/dispatch.go
package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/permission"
	"github.com/sirupsen/logrus"
)

type outcome struct {
	res Result
	err error
}

// pending is an action sent to the server and not yet settled. It settles exactly once:
// on the server's reply, a confirming event, a rejection or the timeout.
type pending struct {
	id     string
	action Action
	reply  chan outcome

	// rollback undoes the optimistic change. Nil once the model it applied to is gone.
	rollback func()
	// confirm reports whether a stream event proves the action took effect.
	confirm func(models.Event) bool
	// overrides reports whether a stream event sets what the optimistic change touched.
	// The server's value then stands and rollback is dropped.
	overrides func(models.Event) bool
	// command is set for actions emitted on the stream; the server rejects those with an
	// error frame and never replies directly.
	command models.EventType

	timer  *time.Timer
	cancel context.CancelFunc
}

// Dispatch runs an action against the room. Permission failures return
// ErrCapabilityDenied without touching anything. Otherwise the change is applied locally
// at once and Dispatch waits for the server, undoing the change if it rejects the action
// (ErrActionRejected) or does not answer within the command timeout (ErrActionTimeout).
func (s *Session) Dispatch(ctx context.Context, a Action) (Result, error) {
	reply := make(chan outcome, 1)
	if err := s.send(ctx, dispatchReq{action: a, reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case o := <-reply:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.done:
		select {
		case o := <-reply:
			return o.res, o.err
		default:
			return Result{}, ErrSessionClosed
		}
	}
}

func (s *Session) onDispatch(m dispatchReq) {
	a := m.action
	log := s.log.WithFields(logrus.Fields{"action": a.Kind, "target": a.Target})

	if s.leaving {
		m.reply <- outcome{err: ErrSessionClosed}
		return
	}
	switch a.Kind {
	case ActionLeaveRoom:
		s.leave(m.reply)
		return
	case ActionKickPlayer:
		s.kick(a, m.reply, log)
		return
	case ActionStartGame, ActionAddBot, ActionSetReady, ActionTransferCreator:
	default:
		m.reply <- outcome{err: fmt.Errorf("%w: unknown action %q", ErrInvalidAction, a.Kind)}
		return
	}

	if s.lc.Status() == StatusLoading {
		m.reply <- outcome{err: fmt.Errorf("%w: room is still loading", ErrInvalidAction)}
		return
	}

	if err := s.check(a); err != nil {
		log.Info(err)
		m.reply <- outcome{err: err}
		return
	}

	p := &pending{action: a, reply: m.reply}
	var call func(context.Context) error

	switch a.Kind {
	case ActionStartGame:
		_ = s.lc.Start()
		p.rollback = s.lc.Unstart
		p.confirm = func(ev models.Event) bool { return ev.Type == models.EventGameStarted }
		p.overrides = func(ev models.Event) bool { return ev.Type == models.EventGameFinished }
		call = func(ctx context.Context) error { return s.deps.Commands.StartGame(ctx, s.roomID) }

	case ActionAddBot:
		call = func(ctx context.Context) error { return s.deps.Commands.AddBot(ctx, s.roomID) }

	case ActionSetReady:
		self, ready := s.deps.Actor.Nickname, a.Ready
		prev, _ := s.roster.SetReady(self, ready)
		p.rollback = func() { s.roster.SetReady(self, prev) }
		p.confirm = func(ev models.Event) bool {
			pr, ok := ev.Payload.(models.PlayerReady)
			return ok && pr.Nickname == self && pr.IsReady() == ready
		}
		p.overrides = func(ev models.Event) bool { return touchesPlayer(ev, self) }
		call = func(ctx context.Context) error { return s.deps.Commands.SetReady(ctx, s.roomID, ready) }

	case ActionTransferCreator:
		target, err := s.transferTarget(a.Target)
		if err != nil {
			log.Info(err)
			m.reply <- outcome{err: err}
			return
		}
		prevID, prevNick := s.room.CreatorID, s.room.Creator
		s.room.CreatorID, s.room.Creator = target.ID, target.Nickname
		p.rollback = func() { s.room.CreatorID, s.room.Creator = prevID, prevNick }
		p.confirm = func(ev models.Event) bool {
			cc, ok := ev.Payload.(models.CreatorChanged)
			return ok && cc.NewCreatorID == target.ID
		}
		p.overrides = func(ev models.Event) bool { return ev.Type == models.EventCreatorChanged }
		call = func(ctx context.Context) error { return s.deps.Commands.TransferCreator(ctx, s.roomID, target.ID) }
	}

	s.launch(p, call)
}

// check enforces who may run an action and when.
func (s *Session) check(a Action) error {
	switch a.Kind {
	case ActionAddBot:
		if !s.isCreator() {
			return fmt.Errorf("%w: only the creator can %s", ErrCapabilityDenied, a.Kind)
		}
		if !permission.Allowed(s.deps.Permissions, permission.AddBot) {
			return fmt.Errorf("%w: missing %s", ErrCapabilityDenied, permission.AddBot)
		}
	case ActionStartGame, ActionTransferCreator:
		if !s.isCreator() {
			return fmt.Errorf("%w: only the creator can %s", ErrCapabilityDenied, a.Kind)
		}
	case ActionSetReady:
		if s.isCreator() {
			return fmt.Errorf("%w: the creator has no ready flag", ErrCapabilityDenied)
		}
		if !s.roster.Contains(s.deps.Actor.Nickname) {
			return fmt.Errorf("%w: not a player in this room", ErrCapabilityDenied)
		}
	}
	if s.lc.Status() != StatusWaiting {
		return fmt.Errorf("%w: room is %s", ErrCapabilityDenied, s.lc.Status())
	}
	return nil
}

func (s *Session) transferTarget(nickname string) (models.Player, error) {
	target, ok := s.roster.Get(nickname)
	if !ok {
		return models.Player{}, fmt.Errorf("%w: no player %q in room", ErrInvalidAction, nickname)
	}
	if target.ID == "" {
		return models.Player{}, fmt.Errorf("%w: player %q has no known id", ErrInvalidAction, nickname)
	}
	if s.isCreatorNick(nickname) {
		return models.Player{}, fmt.Errorf("%w: %q is already the creator", ErrInvalidAction, nickname)
	}
	return target, nil
}

// kick removes a player on the creator's behalf. Kicks that make no sense are dropped
// without error: the room is not waiting, the actor is not the creator, or the target is
// absent, the actor or the creator.
func (s *Session) kick(a Action, reply chan outcome, log *logrus.Entry) {
	target := a.Target
	if s.lc.Status() != StatusWaiting ||
		!s.isCreator() ||
		target == "" ||
		target == s.deps.Actor.Nickname ||
		s.isCreatorNick(target) ||
		!s.roster.Contains(target) {
		log.Debug("kick ignored")
		reply <- outcome{res: Result{Ignored: true}}
		return
	}

	player, idx, _ := s.roster.Remove(target)
	color, highlighted := s.notes.Get(target)
	s.notes.Remove(target)

	p := &pending{
		action:  a,
		reply:   reply,
		command: models.CommandKickPlayer,
		rollback: func() {
			if s.roster.Insert(idx, player) && highlighted {
				s.notes.Set(target, color)
			}
		},
		confirm: func(ev models.Event) bool {
			switch e := ev.Payload.(type) {
			case models.PlayerKicked:
				return e.Nickname == target
			case models.PlayerLeft:
				return e.Nickname == target
			}
			return false
		},
		overrides: func(ev models.Event) bool {
			j, ok := ev.Payload.(models.PlayerJoined)
			return ok && j.Nickname == target
		},
	}
	s.launch(p, func(ctx context.Context) error {
		return s.deps.Transport.Emit(ctx, models.CommandKickPlayer, models.KickPlayer{RoomID: s.roomID, Nickname: target})
	})
}

// leave always succeeds locally. The server is told on a best-effort basis and the
// session ends once that attempt is over.
func (s *Session) leave(reply chan outcome) {
	self := s.deps.Actor
	s.leaving = true
	for _, p := range s.pendingInOrder() {
		s.settle(p, outcome{err: ErrSessionClosed})
	}
	s.removePlayer(self.Nickname)
	if s.deps.Gate != nil {
		if err := s.deps.Gate.Forget(s.ctx, s.roomID); err != nil {
			s.log.Warnf("failed to forget room credential: %v", err)
		}
	}

	id := uuid.NewString()
	reply <- outcome{res: Result{ID: id}}
	s.publish()
	s.log.WithField("id", id).Info("leaving room")

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.deps.CommandTimeout)
		defer cancel()
		payload := models.LeaveRoom{
			RoomID: s.roomID,
			Player: models.PlayerRef{ID: self.ID, Nickname: self.Nickname},
		}
		if err := s.deps.Transport.Emit(ctx, models.CommandLeaveRoom, payload); err != nil {
			s.log.Warnf("leaveRoom emit failed: %v", err)
		}
		if err := s.deps.Commands.Leave(ctx, s.roomID); err != nil {
			s.log.Warnf("leave request failed: %v", err)
		}
		s.post(leaveDone{})
	}()
}

// launch registers p and runs call in the background with the command timeout.
func (s *Session) launch(p *pending, call func(context.Context) error) {
	id := uuid.NewString()
	p.id = id
	ctx, cancel := context.WithTimeout(s.ctx, s.deps.CommandTimeout)
	p.cancel = cancel
	p.timer = time.AfterFunc(s.deps.CommandTimeout, func() {
		s.post(commandExpired{id: id})
	})
	s.pending[id] = p
	s.order = append(s.order, id)

	go func() {
		err := call(ctx)
		s.post(commandDone{id: id, err: err})
	}()

	s.log.WithFields(logrus.Fields{"action": p.action.Kind, "id": id}).Debug("action sent")
	s.publish()
}

func (s *Session) onCommandDone(m commandDone) {
	p, ok := s.pending[m.id]
	if !ok {
		return
	}
	switch {
	case m.err == nil:
		if p.command != "" {
			// Written to the stream; the outcome arrives as an event.
			return
		}
		s.settle(p, outcome{res: Result{ID: p.id}})
	case errors.Is(m.err, context.DeadlineExceeded):
		s.expire(p)
	case errors.Is(m.err, context.Canceled):
		return
	default:
		s.reject(p, m.err)
	}
	s.publish()
}

// confirmPending settles the actions ev confirms. Actions whose change ev overwrites stay
// pending but can no longer be rolled back.
func (s *Session) confirmPending(ev models.Event) {
	for _, p := range s.pendingInOrder() {
		switch {
		case p.confirm != nil && p.confirm(ev):
			s.log.WithFields(logrus.Fields{"action": p.action.Kind, "id": p.id}).Debugf("confirmed by %s", ev.Type)
			s.settle(p, outcome{res: Result{ID: p.id, Confirmed: true}})
		case p.rollback != nil && p.overrides != nil && p.overrides(ev):
			s.log.WithFields(logrus.Fields{"action": p.action.Kind, "id": p.id}).Debugf("overridden by %s", ev.Type)
			p.rollback = nil
		}
	}
}

// touchesPlayer reports whether ev updates the given player's own fields.
func touchesPlayer(ev models.Event, nickname string) bool {
	switch e := ev.Payload.(type) {
	case models.PlayerReady:
		return e.Nickname == nickname
	case models.PlayerJoined:
		return e.Nickname == nickname
	case models.PlayerLeft:
		return e.Nickname == nickname
	case models.PlayerKicked:
		return e.Nickname == nickname
	}
	return false
}

func (s *Session) reject(p *pending, cause error) {
	if p.rollback != nil {
		p.rollback()
	}
	err := fmt.Errorf("%w: %w", ErrActionRejected, cause)
	s.log.WithFields(logrus.Fields{"action": p.action.Kind, "id": p.id}).Warn(err)
	s.settle(p, outcome{err: err})
}

func (s *Session) expire(p *pending) {
	if p.rollback != nil {
		p.rollback()
	}
	s.log.WithFields(logrus.Fields{"action": p.action.Kind, "id": p.id}).Warn(ErrActionTimeout)
	s.settle(p, outcome{err: fmt.Errorf("%w after %s", ErrActionTimeout, s.deps.CommandTimeout)})
}

func (s *Session) settle(p *pending, o outcome) {
	p.timer.Stop()
	p.cancel()
	delete(s.pending, p.id)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == p.id })
	p.reply <- o
}

func (s *Session) pendingInOrder() []*pending {
	out := make([]*pending, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pending[id])
	}
	return out
}
