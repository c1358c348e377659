// Package chunkmap maps continuous coordinates onto the discrete broadcast
// grid and tracks room membership with a per-chunk occupancy cap.
package chunkmap

import (
	"fmt"
	"math"
	"sync"
)

// ID returns the chunk id for a world position. Never stored, always
// recomputed.
func ID(x, y, size float64) string {
	return fmt.Sprintf("%d:%d", int(math.Floor(x/size)), int(math.Floor(y/size)))
}

// Router owns broadcast-group membership. The cap bounds per-chunk fan-out
// deterministically: a transition into a full chunk is rejected, never
// resolved by evicting an existing member.
type Router struct {
	capacity int

	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // chunk id -> conn ids
}

func NewRouter(capacity int) *Router {
	return &Router{
		capacity: capacity,
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to a chunk room. Returns false when the chunk is at
// capacity. Re-joining the current room is a no-op success.
func (r *Router) Join(chunk, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[chunk]
	if room == nil {
		room = make(map[string]struct{})
		r.rooms[chunk] = room
	}
	if _, ok := room[connID]; ok {
		return true
	}
	if len(room) >= r.capacity {
		return false
	}
	room[connID] = struct{}{}
	return true
}

// Move transfers a connection between chunk rooms. On a full destination the
// connection stays in its old room and false is returned.
func (r *Router) Move(from, to, connID string) bool {
	if from == to {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	dest := r.rooms[to]
	if dest == nil {
		dest = make(map[string]struct{})
		r.rooms[to] = dest
	}
	if len(dest) >= r.capacity {
		return false
	}
	r.leaveLocked(from, connID)
	dest[connID] = struct{}{}
	return true
}

func (r *Router) Leave(chunk, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(chunk, connID)
}

func (r *Router) leaveLocked(chunk, connID string) {
	room := r.rooms[chunk]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, chunk)
	}
}

// Members returns the connection ids subscribed to a chunk room.
func (r *Router) Members(chunk string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[chunk]
	if len(room) == 0 {
		return nil
	}
	out := make([]string, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}

func (r *Router) Occupancy(chunk string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[chunk])
}

// ActiveChunks lists chunks with at least one subscriber.
func (r *Router) ActiveChunks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}
