// internal/devserver/store.go
package devserver

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Store manages the hosted rooms in memory.
type Store struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	logger *logrus.Logger

	// OnDelete runs after a room is removed, outside the store lock.
	OnDelete func(id string)
}

func NewStore(logger *logrus.Logger) *Store {
	return &Store{rooms: make(map[string]*Room), logger: logger}
}

// Add registers room and wires its OnEmpty callback to delete it again.
func (s *Store) Add(room *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.Info.ID]; exists {
		s.logger.Warnf("room %s already exists", room.Info.ID)
		return
	}
	room.Mu.Lock()
	room.OnEmpty = s.Delete
	room.Mu.Unlock()
	s.rooms[room.Info.ID] = room
	s.logger.WithField("room", room.Info.ID).Info("room created")
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	if _, exists := s.rooms[id]; !exists {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, id)
	onDelete := s.OnDelete
	s.mu.Unlock()

	s.logger.WithField("room", id).Info("room deleted")
	if onDelete != nil {
		onDelete(id)
	}
}

func (s *Store) Get(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

// List returns the hosted rooms ordered by name.
func (s *Store) List() []*Room {
	s.mu.Lock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Name < out[j].Info.Name })
	return out
}
