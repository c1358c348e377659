// Package session tracks live connections and their volatile per-player
// state.
package session

import (
	"sync"
	"time"

	"shardworld/internal/auth"
	"shardworld/internal/protocol"
)

// Session is the ephemeral per-connection state. Position and movement
// cursors are written only by the owning connection's handlers; the mutex
// exists for the broadcast scheduler's concurrent reads.
type Session struct {
	ConnID   string
	Identity auth.Identity
	Seed     string

	out chan []byte

	mu       sync.Mutex
	pos      protocol.Position
	chunk    string
	poi      string
	lastMove time.Time
	moved    bool
}

func New(connID string, id auth.Identity, seed string, pos protocol.Position, chunk string, outBuf int) *Session {
	return &Session{
		ConnID:   connID,
		Identity: id,
		Seed:     seed,
		out:      make(chan []byte, outBuf),
		pos:      pos,
		chunk:    chunk,
		lastMove: time.Now(),
	}
}

func (s *Session) Pos() protocol.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Session) Chunk() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunk
}

func (s *Session) LastMove() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMove
}

// SetPos records a validated position. Called only from the owning
// connection's handler.
func (s *Session) SetPos(pos protocol.Position, chunk string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
	s.chunk = chunk
	s.lastMove = at
	s.moved = true
}

// TakeMoved reports and clears the moved flag. Called once per broadcast
// tick.
func (s *Session) TakeMoved() (protocol.Position, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.moved {
		return protocol.Position{}, "", false
	}
	s.moved = false
	return s.pos, s.chunk, true
}

func (s *Session) POI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poi
}

func (s *Session) SetPOI(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poi = id
}

// Out is the outbound frame channel drained by the connection's writer
// goroutine.
func (s *Session) Out() <-chan []byte { return s.out }

// TrySend queues a frame without blocking. A full buffer drops the frame: one
// slow consumer must not stall a broadcast batch.
func (s *Session) TrySend(b []byte) bool {
	select {
	case s.out <- b:
		return true
	default:
		return false
	}
}

// Registry indexes sessions by connection id and by stable user id. One user
// id may map to multiple simultaneous connections.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Session
	byUser map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[s.ConnID] = s
	conns := r.byUser[s.Identity.UserID]
	if conns == nil {
		conns = make(map[string]*Session)
		r.byUser[s.Identity.UserID] = conns
	}
	conns[s.ConnID] = s
}

// Remove drops a session and reports whether it was the user's last live
// connection; the caller then cascades presence removal and trade
// force-cancellation.
func (r *Registry) Remove(connID string) (s *Session, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s = r.byConn[connID]
	if s == nil {
		return nil, false
	}
	delete(r.byConn, connID)
	conns := r.byUser[s.Identity.UserID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, s.Identity.UserID)
		return s, true
	}
	return s, false
}

func (r *Registry) Get(connID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// UserOnline reports whether a user has at least one live connection.
func (r *Registry) UserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// UserSessions returns all live sessions for a user.
func (r *Registry) UserSessions(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(conns))
	for _, s := range conns {
		out = append(out, s)
	}
	return out
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byConn))
	for _, s := range r.byConn {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
