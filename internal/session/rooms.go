package session

import "sync"

// Rooms tracks broadcast group membership. A room is named by a conversation
// or message ID; any connection may join any number of rooms.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // room -> conn IDs
	byConn map[string]map[string]struct{} // conn ID -> rooms
}

// NewRooms creates an empty Rooms.
func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to the room. Joining twice is a no-op.
func (r *Rooms) Join(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}

	joined, ok := r.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[connID] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes the connection from one room.
func (r *Rooms) Leave(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(room, connID)
}

// LeaveAll removes the connection from every room it joined. Called on
// disconnect.
func (r *Rooms) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.byConn[connID] {
		r.leave(room, connID)
	}
	delete(r.byConn, connID)
}

// Members returns the deduplicated set of connections belonging to any of the
// given rooms.
func (r *Rooms) Members(rooms ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, room := range rooms {
		for connID := range r.rooms[room] {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			out = append(out, connID)
		}
	}
	return out
}

// IsMember reports whether the connection has joined the room.
func (r *Rooms) IsMember(room, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][connID]
	return ok
}

// leave removes a single membership. Caller holds mu.
func (r *Rooms) leave(room, connID string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}
