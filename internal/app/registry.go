package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lhaverkamp/kurento-webrtc/internal/core"
	"github.com/lhaverkamp/kurento-webrtc/internal/domain"
)

// nameKey scopes display names: globally for sessions registered without a
// room, per-room otherwise. Two sessions may share a name as long as their
// scopes differ.
type nameKey struct {
	Room domain.RoomName
	Name string
}

// Registry is the process-wide session registrar. The id and name indices
// are mutated only here and stay consistent: an entry exists in one iff it
// exists in the other for that session.
type Registry struct {
	mu     sync.RWMutex
	byID   map[core.SessionID]*Session
	byName map[nameKey]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[core.SessionID]*Session),
		byName: make(map[nameKey]*Session),
	}
}

func (r *Registry) key(s *Session) nameKey {
	return nameKey{Room: s.Room, Name: s.User.Name}
}

func (r *Registry) Register(s *Session) error {
	if s.User == nil || s.User.Name == "" {
		return ErrEmptyIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// One registration per connection: a second register on a live session
	// id would leave the old name's index entry pointing at a ghost.
	if _, exists := r.byID[s.ID]; exists {
		return ErrSessionRegistered
	}
	key := r.key(s)
	if _, taken := r.byName[key]; taken {
		return ErrIdentityTaken
	}
	r.byID[s.ID] = s
	r.byName[key] = s
	log.Info().Str("module", "app.registry").Str("sid", string(s.ID)).Str("name", s.User.Name).Str("room", string(s.Room)).Msg("session registered")
	return nil
}

// Unregister removes the session from both indices. No-op if absent.
func (r *Registry) Unregister(id core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byName, r.key(s))
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("session unregistered")
}

func (r *Registry) GetByID(id core.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// GetByName resolves a name in the global scope.
func (r *Registry) GetByName(name string) (*Session, bool) {
	return r.lookup(nameKey{Name: name})
}

// GetByRoomName resolves a name within one room's scope.
func (r *Registry) GetByRoomName(room domain.RoomName, name string) (*Session, bool) {
	return r.lookup(nameKey{Room: room, Name: name})
}

func (r *Registry) lookup(key nameKey) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[key]
	return s, ok
}
