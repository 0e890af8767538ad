// internal/devserver/server.go
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/middleware"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/sirupsen/logrus"
)

// Server is a reference room server speaking the same HTTP and websocket contract the
// client transport uses. It keeps everything in memory.
type Server struct {
	Store   *Store
	logger  *logrus.Logger
	catalog RoomCatalog
}

// RoomCatalog persists rooms across restarts.
type RoomCatalog interface {
	Save(ctx context.Context, r models.Room, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

func New(logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{Store: NewStore(logger), logger: logger}
}

// UseCatalog records created rooms in c and drops them once they empty out.
func (s *Server) UseCatalog(c RoomCatalog) {
	s.catalog = c
	s.Store.OnDelete = func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Delete(ctx, id); err != nil {
			s.logger.Warnf("failed to drop room %s from catalog: %v", id, err)
		}
	}
}

// Restore reopens a room from the catalog, waiting and with only its creator seated.
func (s *Server) Restore(info models.Room, passwordHash string) error {
	if info.ID == "" || info.CreatorID == "" || info.Creator == "" {
		return fmt.Errorf("%w: catalog room needs an id and a creator", ErrBadInput)
	}
	if !info.Type.Valid() || info.MaxPlayers < 2 {
		return fmt.Errorf("%w: catalog room %s is malformed", ErrBadInput, info.ID)
	}
	s.Store.Add(newRoom(info, passwordHash, s.logger))
	return nil
}

type actorKey struct{}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(s.logger))
	r.Use(chimw.Heartbeat("/ping"))

	r.Post("/api/tokens", s.issueToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireActor)

		r.Route("/api/games", func(r chi.Router) {
			r.Get("/", s.listRooms)
			r.Post("/", s.createRoom)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.withRoom(s.getSnapshot))
				r.Get("/access", s.withRoom(s.getAccess))
				r.Post("/password", s.withRoom(s.postPassword))
				r.Post("/start", s.withRoom(s.command(func(rm *Room, a models.Actor, _ *http.Request) error { return rm.Start(a) })))
				r.Post("/finish", s.withRoom(s.command(func(rm *Room, a models.Actor, _ *http.Request) error { return rm.Finish(a) })))
				r.Post("/bot", s.withRoom(s.command(func(rm *Room, a models.Actor, _ *http.Request) error { return rm.AddBot(a) })))
				r.Post("/ready", s.withRoom(s.command(postReady)))
				r.Post("/transfer", s.withRoom(s.command(postTransfer)))
				r.Post("/leave", s.withRoom(s.command(func(rm *Room, a models.Actor, _ *http.Request) error {
					rm.Leave(a)
					return nil
				})))
			})
		})

		r.Get("/ws/games/{id}", s.withRoom(s.serveStream))
	})
	return r
}

// requireActor authenticates the bearer token on every request.
func (s *Server) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := auth.Authenticate(token)
		if err != nil {
			s.logger.Debugf("rejected token: %v", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) models.Actor {
	a, _ := ctx.Value(actorKey{}).(models.Actor)
	return a
}

type roomHandler func(w http.ResponseWriter, r *http.Request, room *Room, actor models.Actor)

// withRoom resolves {id} and answers 404 for unknown rooms.
func (s *Server) withRoom(h roomHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := s.Store.Get(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		h(w, r, room, actorFrom(r.Context()))
	}
}

// command runs fn and answers 204, or maps its error onto a status code.
func (s *Server) command(fn func(*Room, models.Actor, *http.Request) error) roomHandler {
	return func(w http.ResponseWriter, r *http.Request, room *Room, actor models.Actor) {
		if err := fn(room, actor, r); err != nil {
			s.logger.WithFields(logrus.Fields{
				"room": room.Info.ID,
				"user": actor.Nickname,
				"path": r.URL.Path,
			}).Info(err)
			writeError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type readyRequest struct {
	Ready bool `json:"ready"`
}

type transferRequest struct {
	NewCreatorID string `json:"newCreatorId"`
}

func postReady(room *Room, actor models.Actor, r *http.Request) error {
	var body readyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ErrBadInput
	}
	return room.SetReady(actor, body.Ready)
}

func postTransfer(room *Room, actor models.Actor, r *http.Request) error {
	var body transferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ErrBadInput
	}
	return room.Transfer(actor, body.NewCreatorID)
}

// tokenRequest asks for a signed token for a development identity.
type tokenRequest struct {
	ID       string      `json:"id,omitempty"`
	Nickname string      `json:"nickname"`
	Role     models.Role `json:"role,omitempty"`
}

// issueToken signs a token for any nickname. There are no accounts on this server.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nickname == "" {
		writeError(w, http.StatusBadRequest, "nickname is required")
		return
	}
	role, err := models.ParseRole(string(req.Role))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	token, err := auth.CreateJWT(models.Actor{ID: req.ID, Nickname: req.Nickname, Role: role})
	if err != nil {
		s.logger.Errorf("failed to sign token: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "id": req.ID})
}

func (s *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := s.Store.List()
	out := make([]models.Room, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, rm.Snapshot().Room)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	room, err := NewRoom(actorFrom(r.Context()), req, s.logger)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.Store.Add(room)
	if s.catalog != nil {
		if err := s.catalog.Save(r.Context(), room.Snapshot().Room, room.PasswordHash()); err != nil {
			s.logger.Warnf("failed to save room %s to catalog: %v", room.Info.ID, err)
		}
	}
	writeJSON(w, http.StatusCreated, room.Snapshot())
}

func (s *Server) getSnapshot(w http.ResponseWriter, _ *http.Request, room *Room, _ models.Actor) {
	writeJSON(w, http.StatusOK, room.Snapshot())
}

func (s *Server) getAccess(w http.ResponseWriter, _ *http.Request, room *Room, _ models.Actor) {
	room.Mu.Lock()
	protected := room.Info.PasswordProtected
	room.Mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"passwordProtected": protected})
}

func (s *Server) postPassword(w http.ResponseWriter, r *http.Request, room *Room, actor models.Actor) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ok, err := room.CheckPassword(actor, body.Password)
	if err != nil {
		s.logger.Warnf("room %s: password check failed: %v", room.Info.ID, err)
		writeError(w, http.StatusInternalServerError, "password check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict), errors.Is(err, ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, ErrBadInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
