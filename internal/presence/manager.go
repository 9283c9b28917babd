// Package presence tracks which connections are subscribed to which rooms.
// A connection may join several rooms; each (room, connection) pair is
// counted once no matter how often join is repeated.
package presence

import (
	"sort"
	"sync"

	"github.com/moviemark/studio-chat/internal/auth"
	"github.com/moviemark/studio-chat/internal/metrics"
)

// Sender delivers a serialized frame to a connection.
type Sender interface {
	WriteMessage(data []byte) error
}

// Member is one connection subscribed to a room.
type Member struct {
	ConnID string
	User   auth.Identity
	Conn   Sender
}

// Manager is the room membership registry. It is safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Member  // room -> conn -> member
	conns map[string]map[string]struct{} // conn -> rooms
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]map[string]Member),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds m to room. It returns the room's member count afterwards and
// whether the pair was newly added.
func (p *Manager) Join(room string, m Member) (count int, added bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, ok := p.rooms[room]
	if !ok {
		members = make(map[string]Member)
		p.rooms[room] = members
		metrics.ActiveRooms.Inc()
	}
	if _, exists := members[m.ConnID]; exists {
		return len(members), false
	}
	members[m.ConnID] = m

	rooms, ok := p.conns[m.ConnID]
	if !ok {
		rooms = make(map[string]struct{})
		p.conns[m.ConnID] = rooms
	}
	rooms[room] = struct{}{}
	return len(members), true
}

// Leave removes connID from room. removed is false when the connection was
// not a member, which makes repeated leaves harmless.
func (p *Manager) Leave(room, connID string) (m Member, count int, removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, ok := p.rooms[room]
	if !ok {
		return Member{}, 0, false
	}
	m, ok = members[connID]
	if !ok {
		return Member{}, len(members), false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(p.rooms, room)
		metrics.ActiveRooms.Dec()
	}
	if rooms, ok := p.conns[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(p.conns, connID)
		}
	}
	return m, len(members), true
}

// Rooms returns the rooms connID is currently in, sorted.
func (p *Manager) Rooms(connID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rooms := make([]string, 0, len(p.conns[connID]))
	for r := range p.conns[connID] {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// Count returns the number of connections in room.
func (p *Manager) Count(room string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms[room])
}

// Members returns a snapshot of room's members.
func (p *Manager) Members(room string) []Member {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Member, 0, len(p.rooms[room]))
	for _, m := range p.rooms[room] {
		out = append(out, m)
	}
	return out
}

// IsMember reports whether connID has joined room.
func (p *Manager) IsMember(room, connID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rooms[room][connID]
	return ok
}

// RoomCount returns the number of rooms with at least one member.
func (p *Manager) RoomCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms)
}

// Snapshot returns the member count of every occupied room.
func (p *Manager) Snapshot() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]int, len(p.rooms))
	for r, members := range p.rooms {
		out[r] = len(members)
	}
	return out
}
