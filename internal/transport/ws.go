// internal/transport/ws.go
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/sirupsen/logrus"
)

// Subprotocol is negotiated on every event stream connection.
const Subprotocol = "gameroom"

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
	eventBuffer  = 64
)

// WSClient opens event streams over websockets and emits commands on them.
type WSClient struct {
	baseURL string
	token   string
	logger  *logrus.Logger

	mu      sync.Mutex
	streams []*wsStream
}

func NewWSClient(wsURL, token string, logger *logrus.Logger) *WSClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WSClient{baseURL: strings.TrimRight(wsURL, "/"), token: token, logger: logger}
}

// Subscribe dials the room's event stream. The stream lives until Close, ctx is
// cancelled or the server closes the connection.
func (w *WSClient) Subscribe(ctx context.Context, roomID string) (Stream, error) {
	u := w.baseURL + "/ws/games/" + url.PathEscape(roomID)
	opts := &websocket.DialOptions{Subprotocols: []string{Subprotocol}}
	if w.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + w.token}}
	}

	c, resp, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &wsStream{
		owner:  w,
		conn:   c,
		cancel: cancel,
		events: make(chan models.Event, eventBuffer),
		log:    w.logger.WithField("room", roomID),
	}
	w.mu.Lock()
	w.streams = append(w.streams, s)
	w.mu.Unlock()

	go s.readPump(sctx)
	go s.pingPump(sctx)
	return s, nil
}

// Emit writes a command frame on the most recently opened stream.
func (w *WSClient) Emit(ctx context.Context, name models.EventType, payload any) error {
	w.mu.Lock()
	var s *wsStream
	if n := len(w.streams); n > 0 {
		s = w.streams[n-1]
	}
	w.mu.Unlock()
	if s == nil {
		return ErrNotSubscribed
	}

	env, err := models.NewEnvelope(name, 0, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", name, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s frame: %w", name, err)
	}
	return nil
}

// UnsubscribeAll closes every open stream.
func (w *WSClient) UnsubscribeAll() error {
	w.mu.Lock()
	streams := w.streams
	w.streams = nil
	w.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WSClient) drop(s *wsStream) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, o := range w.streams {
		if o == s {
			w.streams = append(w.streams[:i], w.streams[i+1:]...)
			return
		}
	}
}

type wsStream struct {
	owner  *WSClient
	conn   *websocket.Conn
	cancel context.CancelFunc
	events chan models.Event
	log    *logrus.Entry

	closeOnce sync.Once

	errMu  sync.Mutex
	closed bool
	err    error
}

func (s *wsStream) Events() <-chan models.Event { return s.events }

func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.closed = true
		s.errMu.Unlock()
		s.owner.drop(s)
		err = s.conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		s.cancel()
	})
	return err
}

func (s *wsStream) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.closed || s.err != nil {
		return
	}
	s.err = err
}

// readPump decodes frames into events until the connection ends.
func (s *wsStream) readPump(ctx context.Context) {
	defer close(s.events)
	defer s.owner.drop(s)

	for {
		typ, msg, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				s.log.Info("event stream closed by server")
				s.fail(fmt.Errorf("stream closed: %w", err))
			case ctx.Err() != nil:
			default:
				s.log.Warnf("event stream read error: %v", err)
				s.fail(err)
			}
			return
		}
		var ev models.Event
		if typ != websocket.MessageText {
			ev.Payload = models.Undecodable{Reason: fmt.Sprintf("non-text frame of type %d", typ)}
		} else if ev, err = models.DecodeEvent(msg); err != nil {
			s.log.Debugf("undecodable frame: %v", err)
			ev = models.Event{Payload: models.Undecodable{Reason: err.Error()}}
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *wsStream) pingPump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				s.log.Warnf("ping failed: %v", err)
				s.fail(fmt.Errorf("ping: %w", err))
				s.cancel()
				return
			}
		}
	}
}
