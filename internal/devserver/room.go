// internal/devserver/room.go
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/permission"
	"github.com/jason-s-yu/gameroom/internal/roster"
	"github.com/sirupsen/logrus"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
	ErrNotMember = errors.New("not a member of this room")
	ErrRoomFull  = errors.New("room is full")
	ErrBadInput  = errors.New("bad request")
)

// Room is one hosted game room. All fields are guarded by Mu; methods suffixed Unsafe
// expect the caller to hold it.
type Room struct {
	Info models.Room

	players      *roster.Roster
	passwordHash string
	seq          uint64
	bots         int

	// admitted holds the user ids that passed the password check.
	admitted map[string]bool
	conns    map[string]*Conn

	// OnEmpty is called once the last human player is gone.
	OnEmpty func(roomID string)

	log *logrus.Entry
	Mu  sync.Mutex
}

// CreateRequest is the body of POST /api/games.
type CreateRequest struct {
	Name       string          `json:"name"`
	Type       models.GameType `json:"type"`
	MaxPlayers int             `json:"maxPlayers"`
	Password   string          `json:"password,omitempty"`
}

// NewRoom builds a waiting room owned by creator. The creator is its first player.
func NewRoom(creator models.Actor, req CreateRequest, logger *logrus.Logger) (*Room, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrBadInput)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown game type %d", ErrBadInput, req.Type)
	}
	if req.MaxPlayers < 2 {
		return nil, fmt.Errorf("%w: a room needs at least 2 seats", ErrBadInput)
	}

	var hash string
	if req.Password != "" {
		var err error
		if hash, err = auth.HashPassword(req.Password, auth.RoomPasswordParams); err != nil {
			return nil, fmt.Errorf("hash room password: %w", err)
		}
	}
	return newRoom(models.Room{
		ID:         uuid.NewString(),
		Type:       req.Type,
		Name:       req.Name,
		MaxPlayers: req.MaxPlayers,
		CreatorID:  creator.ID,
		Creator:    creator.Nickname,
	}, hash, logger), nil
}

// newRoom builds a waiting room from info with its creator seated.
func newRoom(info models.Room, passwordHash string, logger *logrus.Logger) *Room {
	info.Status = models.RoomWaiting
	info.PasswordProtected = passwordHash != ""
	r := &Room{
		Info:         info,
		passwordHash: passwordHash,
		admitted:     make(map[string]bool),
		conns:        make(map[string]*Conn),
		log:          logger.WithField("room", info.ID),
	}
	r.players, _ = roster.New([]models.Player{{ID: info.CreatorID, Nickname: info.Creator, Alive: true}})
	return r
}

// PasswordHash returns the encoded room password hash, empty for open rooms.
func (r *Room) PasswordHash() string {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.passwordHash
}

// Conn is one live event-stream connection.
type Conn struct {
	UserID   string
	Nickname string
	Cancel   func()
	OutChan  chan models.Envelope

	mu     sync.Mutex
	closed bool
	log    *logrus.Entry
}

func newConn(actor models.Actor, cancel func(), log *logrus.Entry) *Conn {
	return &Conn{
		UserID:   actor.ID,
		Nickname: actor.Nickname,
		Cancel:   cancel,
		OutChan:  make(chan models.Envelope, 32),
		log:      log.WithField("user", actor.Nickname),
	}
}

// Write queues env without blocking. Frames for a full or closed connection are dropped.
func (c *Conn) Write(env models.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.OutChan <- env:
	default:
		c.log.Warnf("OutChan full, dropped %s frame", env.Type)
	}
}

// WriteError sends an error frame answering command.
func (c *Conn) WriteError(msg string, command models.EventType) {
	env, err := models.NewEnvelope(models.EventError, 0, models.ErrorFrame{Message: msg, Command: command})
	if err != nil {
		c.log.Warnf("failed to build error frame: %v", err)
		return
	}
	c.Write(env)
}

// closeOut stops the write pump once the queued frames are flushed.
func (c *Conn) closeOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.OutChan)
	}
}

// SnapshotUnsafe returns the room as clients fetch it.
func (r *Room) SnapshotUnsafe() models.Snapshot {
	return models.Snapshot{Room: r.Info, Players: r.players.Players(), Seq: r.seq}
}

func (r *Room) Snapshot() models.Snapshot {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.SnapshotUnsafe()
}

// broadcastUnsafe stamps the next sequence number on an event and queues it for every
// connection.
func (r *Room) broadcastUnsafe(t models.EventType, payload any) {
	r.seq++
	env, err := models.NewEnvelope(t, r.seq, payload)
	if err != nil {
		r.log.Warnf("failed to build %s frame: %v", t, err)
		return
	}
	for _, c := range r.conns {
		c.Write(env)
	}
}

// CheckPassword reports whether password opens the room and records the admission.
func (r *Room) CheckPassword(actor models.Actor, password string) (bool, error) {
	r.Mu.Lock()
	hash := r.passwordHash
	r.Mu.Unlock()
	if hash == "" {
		return true, nil
	}

	// Argon2 is slow; hash outside the lock.
	ok, err := auth.VerifyPassword(password, hash)
	if err != nil || !ok {
		return false, err
	}
	r.Mu.Lock()
	r.admitted[actor.ID] = true
	r.Mu.Unlock()
	return true, nil
}

func (r *Room) memberUnsafe(actor models.Actor) bool {
	p, ok := r.players.Get(actor.Nickname)
	return ok && p.ID == actor.ID
}

func (r *Room) isCreatorUnsafe(actor models.Actor) bool {
	return r.Info.CreatorID == actor.ID
}

// JoinUnsafe seats actor, or does nothing if they are already seated.
func (r *Room) JoinUnsafe(actor models.Actor) error {
	if r.memberUnsafe(actor) {
		return nil
	}
	if r.Info.PasswordProtected && !r.admitted[actor.ID] {
		return fmt.Errorf("%w: password required", ErrForbidden)
	}
	if r.Info.Status != models.RoomWaiting {
		return fmt.Errorf("%w: room is %s", ErrConflict, r.Info.Status)
	}
	if r.players.Len() >= r.Info.MaxPlayers {
		return ErrRoomFull
	}
	p := models.Player{ID: actor.ID, Nickname: actor.Nickname, Alive: true}
	if !r.players.Add(p) {
		return fmt.Errorf("%w: nickname %q is taken", ErrConflict, actor.Nickname)
	}
	r.broadcastUnsafe(models.EventPlayerJoined, models.PlayerJoined{ID: p.ID, Nickname: p.Nickname, Ready: p.Ready, Alive: p.Alive})
	r.log.WithField("user", actor.Nickname).Info("player joined")
	return nil
}

// AttachUnsafe registers c as the actor's stream, replacing any older one.
func (r *Room) AttachUnsafe(c *Conn) {
	if old, ok := r.conns[c.UserID]; ok && old != c {
		old.closeOut()
	}
	r.conns[c.UserID] = c
}

// Detach forgets c if it is still the actor's current stream. The player keeps the seat.
func (r *Room) Detach(c *Conn) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.conns[c.UserID] == c {
		delete(r.conns, c.UserID)
	}
	c.closeOut()
}

// Leave removes actor from the room. Leaving twice is not an error.
func (r *Room) Leave(actor models.Actor) {
	r.Mu.Lock()
	if !r.memberUnsafe(actor) {
		r.Mu.Unlock()
		return
	}
	r.players.Remove(actor.Nickname)
	delete(r.admitted, actor.ID)
	r.broadcastUnsafe(models.EventPlayerLeft, models.PlayerLeft{Nickname: actor.Nickname})
	if c, ok := r.conns[actor.ID]; ok {
		delete(r.conns, actor.ID)
		c.closeOut()
	}

	if r.isCreatorUnsafe(actor) {
		r.handOverUnsafe()
	}
	empty := r.humansUnsafe() == 0
	onEmpty := r.OnEmpty
	r.Mu.Unlock()

	r.log.WithField("user", actor.Nickname).Info("player left")
	if empty && onEmpty != nil {
		onEmpty(r.Info.ID)
	}
}

// handOverUnsafe makes the first remaining human the creator.
func (r *Room) handOverUnsafe() {
	for _, p := range r.players.Players() {
		if p.Bot || p.ID == "" {
			continue
		}
		r.setCreatorUnsafe(p)
		return
	}
}

func (r *Room) setCreatorUnsafe(p models.Player) {
	r.Info.CreatorID, r.Info.Creator = p.ID, p.Nickname
	r.broadcastUnsafe(models.EventCreatorChanged, models.CreatorChanged{NewCreatorID: p.ID})
}

func (r *Room) humansUnsafe() int {
	n := 0
	for _, p := range r.players.Players() {
		if !p.Bot {
			n++
		}
	}
	return n
}

// Kick removes nickname on the creator's behalf and ends the kicked player's stream.
func (r *Room) Kick(actor models.Actor, nickname string) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if !r.isCreatorUnsafe(actor) {
		return fmt.Errorf("%w: only the creator can kick", ErrForbidden)
	}
	if r.Info.Status != models.RoomWaiting {
		return fmt.Errorf("%w: room is %s", ErrConflict, r.Info.Status)
	}
	target, ok := r.players.Get(nickname)
	if !ok {
		return fmt.Errorf("%w: no player %q", ErrBadInput, nickname)
	}
	if target.ID == r.Info.CreatorID {
		return fmt.Errorf("%w: the creator cannot be kicked", ErrForbidden)
	}

	r.players.Remove(nickname)
	delete(r.admitted, target.ID)
	r.broadcastUnsafe(models.EventPlayerKicked, models.PlayerKicked{RoomID: r.Info.ID, Nickname: nickname})
	if c, ok := r.conns[target.ID]; ok && target.ID != "" {
		delete(r.conns, target.ID)
		c.closeOut()
	}
	r.log.WithFields(logrus.Fields{"by": actor.Nickname, "user": nickname}).Info("player kicked")
	return nil
}

// SetReady updates actor's ready flag. The creator has none.
func (r *Room) SetReady(actor models.Actor, ready bool) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if !r.memberUnsafe(actor) {
		return ErrNotMember
	}
	if r.isCreatorUnsafe(actor) {
		return fmt.Errorf("%w: the creator has no ready flag", ErrForbidden)
	}
	if r.Info.Status != models.RoomWaiting {
		return fmt.Errorf("%w: room is %s", ErrConflict, r.Info.Status)
	}
	r.players.SetReady(actor.Nickname, ready)
	r.broadcastUnsafe(models.EventPlayerReady, models.PlayerReady{Nickname: actor.Nickname, Ready: &ready})
	return nil
}

// Start moves the room to started.
func (r *Room) Start(actor models.Actor) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if !r.isCreatorUnsafe(actor) {
		return fmt.Errorf("%w: only the creator can start the game", ErrForbidden)
	}
	if r.Info.Status != models.RoomWaiting {
		return fmt.Errorf("%w: room is %s", ErrConflict, r.Info.Status)
	}
	r.Info.Status = models.RoomStarted
	r.broadcastUnsafe(models.EventGameStarted, nil)
	r.log.Info("game started")
	return nil
}

// Finish ends a started game.
func (r *Room) Finish(actor models.Actor) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if !r.isCreatorUnsafe(actor) {
		return fmt.Errorf("%w: only the creator can finish the game", ErrForbidden)
	}
	if r.Info.Status != models.RoomStarted {
		return fmt.Errorf("%w: room is %s", ErrConflict, r.Info.Status)
	}
	r.Info.Status = models.RoomFinished
	r.broadcastUnsafe(models.EventGameFinished, nil)
	r.log.Info("game finished")
	return nil
}

// AddBot seats a bot. Only a creator whose role holds the addBot capability may do this.
func (r *Room) AddBot(actor models.Actor) error {
	if !permission.Allowed(permission.NewStatic(actor.Role, nil), permission.AddBot) {
		return fmt.Errorf("%w: missing %s", ErrForbidden, permission.AddBot)
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if !r.isCreatorUnsafe(actor) {
		return fmt.Errorf("%w: only the creator can add bots", ErrForbidden)
	}
	if r.Info.Status != models.RoomWaiting {
		return fmt.Errorf("%w: room is %s", ErrConflict, r.Info.Status)
	}
	if r.players.Len() >= r.Info.MaxPlayers {
		return ErrRoomFull
	}

	var bot models.Player
	for {
		r.bots++
		bot = models.Player{
			ID:       "bot-" + uuid.NewString(),
			Nickname: fmt.Sprintf("Bot %d", r.bots),
			Ready:    true,
			Alive:    true,
			Bot:      true,
		}
		if r.players.Add(bot) {
			break
		}
	}
	r.broadcastUnsafe(models.EventPlayerJoined, models.PlayerJoined{ID: bot.ID, Nickname: bot.Nickname, Ready: bot.Ready, Alive: bot.Alive})
	return nil
}

// Transfer hands the creator role to the player with id newCreatorID.
func (r *Room) Transfer(actor models.Actor, newCreatorID string) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if !r.isCreatorUnsafe(actor) {
		return fmt.Errorf("%w: only the creator can transfer the room", ErrForbidden)
	}
	if r.Info.Status != models.RoomWaiting {
		return fmt.Errorf("%w: room is %s", ErrConflict, r.Info.Status)
	}
	target, ok := r.players.FindByID(newCreatorID)
	if !ok || target.Bot {
		return fmt.Errorf("%w: no player with id %q", ErrBadInput, newCreatorID)
	}
	if target.ID == actor.ID {
		return fmt.Errorf("%w: already the creator", ErrConflict)
	}
	// The new creator has no ready flag.
	if prev, _ := r.players.SetReady(target.Nickname, false); prev {
		notReady := false
		r.broadcastUnsafe(models.EventPlayerReady, models.PlayerReady{Nickname: target.Nickname, Ready: &notReady})
	}
	r.setCreatorUnsafe(target)
	return nil
}

// Chat relays a chat payload verbatim to every connection.
func (r *Room) Chat(actor models.Actor, payload json.RawMessage) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if !r.memberUnsafe(actor) {
		return ErrNotMember
	}
	r.broadcastUnsafe(models.EventChatMessage, models.ChatMessage(payload))
	return nil
}
