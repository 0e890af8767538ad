// internal/auth/gate.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSessionUnauthorized is returned while the actor has not proven access to a
// password-protected room. It is always recoverable by retrying with a password.
var ErrSessionUnauthorized = errors.New("session unauthorized")

// RoomVerifier answers the two questions the gate asks the room server.
type RoomVerifier interface {
	PasswordProtected(ctx context.Context, roomID string) (bool, error)
	VerifyPassword(ctx context.Context, roomID, password string) (bool, error)
}

// Credential records that the actor supplied the right password for a room.
// Only an Argon2id hash of the password is kept.
type Credential struct {
	RoomID    string    `json:"roomId"`
	Hash      string    `json:"hash"`
	GrantedAt time.Time `json:"grantedAt"`
}

// CredentialStore holds session credentials for the lifetime of the session.
type CredentialStore interface {
	Get(ctx context.Context, roomID string) (Credential, bool, error)
	Put(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, roomID string) error
}

// Admission is the outcome of Gate.Admit.
type Admission struct {
	RoomID     string
	Authorized bool
	Reason     string
}

// Gate decides whether the actor may view a room at all, independent of in-room
// permissions.
type Gate struct {
	verifier RoomVerifier
	store    CredentialStore
	logger   *logrus.Logger

	mu       sync.Mutex
	admitted map[string]bool
}

// NewGate builds a gate. A nil store keeps credentials in memory.
func NewGate(verifier RoomVerifier, store CredentialStore, logger *logrus.Logger) *Gate {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{
		verifier: verifier,
		store:    store,
		logger:   logger,
		admitted: make(map[string]bool),
	}
}

// Admit checks access to roomID, verifying password if the room requires one and no
// credential is held yet. An unauthorized admission is returned together with an error
// wrapping ErrSessionUnauthorized; transport failures are returned as-is.
func (g *Gate) Admit(ctx context.Context, roomID, password string) (Admission, error) {
	adm := Admission{RoomID: roomID}
	log := g.logger.WithField("room", roomID)

	protected, err := g.verifier.PasswordProtected(ctx, roomID)
	if err != nil {
		return adm, fmt.Errorf("check room access: %w", err)
	}
	if !protected {
		g.markAdmitted(roomID)
		adm.Authorized = true
		return adm, nil
	}

	if cred, held, err := g.store.Get(ctx, roomID); err != nil {
		log.Warnf("credential lookup failed: %v", err)
	} else if held && g.reuse(ctx, log, cred, password) {
		g.markAdmitted(roomID)
		adm.Authorized = true
		return adm, nil
	}

	if password == "" {
		adm.Reason = "password required"
		return adm, fmt.Errorf("%w: %s", ErrSessionUnauthorized, adm.Reason)
	}

	ok, err := g.verifier.VerifyPassword(ctx, roomID, password)
	if err != nil {
		return adm, fmt.Errorf("verify room password: %w", err)
	}
	if !ok {
		log.Info("room password rejected")
		adm.Reason = "incorrect password"
		return adm, fmt.Errorf("%w: %s", ErrSessionUnauthorized, adm.Reason)
	}

	hash, err := HashPassword(password, CredentialParams)
	if err != nil {
		return adm, fmt.Errorf("hash credential: %w", err)
	}
	if err := g.store.Put(ctx, Credential{RoomID: roomID, Hash: hash, GrantedAt: time.Now()}); err != nil {
		// The actor is still admitted for this process; only reuse across restarts is lost.
		log.Warnf("failed to store credential: %v", err)
	}

	g.markAdmitted(roomID)
	adm.Authorized = true
	log.Info("room password accepted")
	return adm, nil
}

// reuse reports whether a held credential admits the actor. Without a password the
// credential only has to be well formed; a supplied password must match its hash, or the
// server is asked again. Malformed credentials are dropped.
func (g *Gate) reuse(ctx context.Context, log *logrus.Entry, cred Credential, password string) bool {
	if _, _, _, err := decodeHash(cred.Hash); err != nil {
		log.Warnf("discarding unreadable credential: %v", err)
		if err := g.store.Delete(ctx, cred.RoomID); err != nil {
			log.Warnf("failed to drop credential: %v", err)
		}
		return false
	}
	if password == "" {
		return true
	}
	ok, err := VerifyPassword(password, cred.Hash)
	return err == nil && ok
}

// Admitted reports whether Admit has authorized roomID during this session.
func (g *Gate) Admitted(roomID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admitted[roomID]
}

// Forget drops the admission and any stored credential for roomID.
func (g *Gate) Forget(ctx context.Context, roomID string) error {
	g.mu.Lock()
	delete(g.admitted, roomID)
	g.mu.Unlock()
	return g.store.Delete(ctx, roomID)
}

func (g *Gate) markAdmitted(roomID string) {
	g.mu.Lock()
	g.admitted[roomID] = true
	g.mu.Unlock()
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (s *MemoryStore) Get(_ context.Context, roomID string) (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[roomID]
	return c, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.RoomID] = cred
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, roomID)
	return nil
}
