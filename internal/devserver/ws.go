// internal/devserver/ws.go
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/gameroom/internal/middleware"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/transport"
	"github.com/sirupsen/logrus"
)

// Close codes sent on the event stream, in the private 3000-3999 range.
const (
	StatusBadSubprotocol websocket.StatusCode = 3000 // client did not negotiate the room subprotocol
	StatusJoinRefused    websocket.StatusCode = 3004 // password missing, room full or already started
)

// serveStream upgrades the request to the room's event stream, seating the actor if
// needed. It blocks until the connection ends.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, room *Room, actor models.Actor) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{transport.Subprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != transport.Subprotocol {
		c.Close(StatusBadSubprotocol, "client must speak the gameroom subprotocol")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := s.logger.WithFields(logrus.Fields{"room": room.Info.ID, "user": actor.Nickname})
	conn := newConn(actor, cancel, log)

	room.Mu.Lock()
	if err := room.JoinUnsafe(actor); err != nil {
		room.Mu.Unlock()
		log.Infof("join refused: %v", err)
		c.Close(StatusJoinRefused, err.Error())
		return
	}
	room.AttachUnsafe(conn)
	room.Mu.Unlock()

	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, room.Info.ID, actor.Nickname)

	go s.writePump(ctx, c, conn)
	err = s.readPump(ctx, c, room, conn, actor)

	room.Detach(conn)
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, room.Info.ID, actor.Nickname, err)
}

// readPump handles commands from the client until the connection fails or ctx ends.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, room *Room, conn *Conn, actor models.Actor) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			conn.log.Warnf("ignoring non-text frame type %d", typ)
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			conn.log.Warnf("invalid json: %v", err)
			conn.WriteError("Invalid JSON format", "")
			continue
		}
		s.handleCommand(env, room, conn, actor)
	}
}

func (s *Server) handleCommand(env models.Envelope, room *Room, conn *Conn, actor models.Actor) {
	switch env.Type {
	case models.CommandKickPlayer:
		var p models.KickPlayer
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			conn.WriteError("Invalid payload for kickPlayer", env.Type)
			return
		}
		if p.RoomID != "" && p.RoomID != room.Info.ID {
			conn.WriteError("kickPlayer for another room", env.Type)
			return
		}
		if err := room.Kick(actor, p.Nickname); err != nil {
			conn.log.Info(err)
			conn.WriteError(err.Error(), env.Type)
		}
	case models.CommandLeaveRoom:
		room.Leave(actor)
	case models.CommandChatMessage:
		if err := room.Chat(actor, env.Payload); err != nil {
			conn.WriteError(err.Error(), env.Type)
		}
	default:
		conn.log.Warnf("unknown command %q", env.Type)
		conn.WriteError("Unknown command: "+string(env.Type), env.Type)
	}
}

// writePump flushes queued frames and pings the client. It closes the connection once
// OutChan is closed, which is how a kick or leave ends the stream.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer conn.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-conn.OutChan:
			if !ok {
				c.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				conn.log.Warnf("failed to marshal %s frame: %v", env.Type, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				conn.log.Warnf("write failed: %v", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.log.Debugf("ping failed: %v", err)
				return
			}
		}
	}
}
