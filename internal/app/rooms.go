package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lhaverkamp/kurento-webrtc/internal/core"
	"github.com/lhaverkamp/kurento-webrtc/internal/domain"
)

// Room is a named, insertion-ordered set of sessions. Membership order is
// join order; removal works by identity regardless of position.
type Room struct {
	room    *domain.Room
	mu      sync.RWMutex
	members []*Session
}

func newRoom(name domain.RoomName) *Room {
	return &Room{room: &domain.Room{Name: name}}
}

func (r *Room) Name() domain.RoomName { return r.room.Name }

func (r *Room) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, s)
	log.Info().Str("module", "app.room").Str("room", string(r.room.Name)).Str("sid", string(s.ID)).Msg("member added")
}

// Remove deletes the member with the given session id. Returns true if it
// was present.
func (r *Room) Remove(id core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members {
		if m.ID == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			log.Info().Str("module", "app.room").Str("room", string(r.room.Name)).Str("sid", string(id)).Msg("member removed")
			return true
		}
	}
	return false
}

func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns a snapshot of the membership in join order.
func (r *Room) Members() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, len(r.members))
	copy(out, r.members)
	return out
}

// RoomManager is the process-wide room table. Rooms are created on first
// use and deleted eagerly as soon as their last member leaves.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]*Room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomName]*Room)}
}

func (m *RoomManager) GetOrCreate(name domain.RoomName) *Room {
	m.mu.RLock()
	room, ok := m.rooms[name]
	m.mu.RUnlock()
	if ok {
		return room
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[name]; ok {
		return room
	}
	room = newRoom(name)
	m.rooms[name] = room
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room created")
	return room
}

func (m *RoomManager) Get(name domain.RoomName) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[name]
	return room, ok
}

// RemoveMember takes the session out of its room and garbage-collects the
// room if that made it empty.
func (m *RoomManager) RemoveMember(name domain.RoomName, id core.SessionID) {
	if name == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[name]
	if !ok {
		return
	}
	room.Remove(id)
	if room.Size() == 0 {
		delete(m.rooms, name)
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("empty room deleted")
	}
}
