// internal/room/reconcile.go
package room

import (
	"errors"
	"fmt"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/roster"
	"github.com/sirupsen/logrus"
)

const kickedReason = "You have been kicked from this room."

func (s *Session) onSnapshot(m snapshotLoaded) {
	if m.epoch != s.epoch {
		return
	}
	if m.err != nil {
		s.attemptFailed(m.err)
		return
	}

	s.hydrate(m.snap)

	buffered := s.buffer
	s.buffer = nil
	for _, ev := range buffered {
		if ev.Seq != 0 && ev.Seq <= s.lastSeq {
			s.log.Debugf("skipping buffered %s seq %d already in snapshot", ev.Type, ev.Seq)
			continue
		}
		s.apply(ev)
		if s.ctx.Err() != nil {
			return
		}
	}
	s.publish()
}

// hydrate replaces the whole model with the snapshot.
func (s *Session) hydrate(snap models.Snapshot) {
	r, dupes := roster.New(snap.Players)
	for _, nick := range dupes {
		s.anomaly("duplicate nickname %q in snapshot", nick)
	}
	s.room = snap.Room
	s.roster = r
	s.checkCapacity()
	s.notes.Retain(r.Contains)
	s.lastSeq = snap.Seq
	if err := s.lc.Hydrate(snap.Room.Status); err != nil {
		s.anomaly("%v", err)
	}
	s.hydrated = true

	// Optimistic changes made against the old model are gone with it.
	for _, p := range s.pending {
		p.rollback = nil
	}

	s.log.WithFields(logrus.Fields{
		"epoch":   s.epoch,
		"players": r.Len(),
		"seq":     snap.Seq,
		"status":  s.lc.Status(),
	}).Info("room state loaded")
}

func (s *Session) onEvent(m streamEvent) {
	if m.epoch != s.epoch {
		s.log.Debugf("dropping %s from a previous subscription", m.ev.Type)
		return
	}
	if s.leaving {
		return
	}
	if !s.hydrated {
		s.buffer = append(s.buffer, m.ev)
		s.publish()
		return
	}
	if s.apply(m.ev) && s.ctx.Err() == nil {
		s.publish()
	}
}

// apply folds one event into the model. Every branch is idempotent. It reports whether
// the published state may have changed.
func (s *Session) apply(ev models.Event) bool {
	if ev.Seq != 0 {
		if ev.Seq <= s.lastSeq {
			s.anomaly("stale %s seq %d (last %d)", ev.Type, ev.Seq, s.lastSeq)
			return true
		}
		s.lastSeq = ev.Seq
	}

	switch p := ev.Payload.(type) {
	case models.PlayerJoined:
		player := models.Player{ID: p.ID, Nickname: p.Nickname, Ready: p.Ready, Alive: p.Alive}
		if !s.roster.Update(player) && s.roster.Add(player) {
			s.checkCapacity()
		}
	case models.PlayerLeft:
		s.removePlayer(p.Nickname)
	case models.PlayerKicked:
		if p.RoomID != "" && p.RoomID != s.roomID {
			s.anomaly("kick for room %q", p.RoomID)
			return true
		}
		if p.Nickname == s.deps.Actor.Nickname {
			s.fail(kickedReason, ErrRoomUnavailable)
			return false
		}
		s.removePlayer(p.Nickname)
	case models.PlayerReady:
		if _, ok := s.roster.SetReady(p.Nickname, p.IsReady()); !ok {
			s.anomaly("ready flag for unknown player %q", p.Nickname)
		}
	case models.CreatorChanged:
		if p.NewCreatorID == "" {
			s.anomaly("creator change without an id")
			return true
		}
		s.setCreator(p.NewCreatorID)
	case models.GameStarted:
		if err := s.lc.Start(); err != nil {
			s.anomaly("%v", err)
		}
	case models.GameFinished:
		if err := s.lc.Finish(); err != nil {
			s.anomaly("%v", err)
		}
	case models.ChatMessage:
		s.forwardChat(p)
		return false
	case models.ErrorFrame:
		s.onErrorFrame(p)
	case models.Undecodable:
		s.anomaly("undecodable frame: %s", p.Reason)
		return true
	default:
		s.anomaly("unexpected %T payload for %s", ev.Payload, ev.Type)
		return true
	}

	s.confirmPending(ev)
	return true
}

func (s *Session) removePlayer(nickname string) {
	s.roster.Remove(nickname)
	s.notes.Remove(nickname)
}

// checkCapacity flags a roster larger than the room allows. The players are kept.
func (s *Session) checkCapacity() {
	if limit := s.room.MaxPlayers; limit > 0 && s.roster.Len() > limit {
		s.anomaly("%d players in a room for %d", s.roster.Len(), limit)
	}
}

func (s *Session) setCreator(id string) {
	s.room.CreatorID = id
	if id == s.deps.Actor.ID {
		s.room.Creator = s.deps.Actor.Nickname
		return
	}
	s.room.Creator = ""
	if p, ok := s.roster.FindByID(id); ok {
		s.room.Creator = p.Nickname
	}
}

// onErrorFrame treats a server error frame as the rejection of the oldest pending command
// it names, or of the oldest stream command when it names none.
func (s *Session) onErrorFrame(f models.ErrorFrame) {
	for _, p := range s.pendingInOrder() {
		if p.command == "" {
			continue
		}
		if f.Command == "" || f.Command == p.command {
			s.reject(p, errors.New(f.Message))
			return
		}
	}
	s.log.WithField("command", f.Command).Warnf("server error: %s", f.Message)
}

func (s *Session) anomaly(format string, args ...any) {
	s.anomalies++
	err := fmt.Errorf("%w: %s", ErrReconciliationAnomaly, fmt.Sprintf(format, args...))
	s.log.WithField("anomalies", s.anomalies).Warn(err)
}
