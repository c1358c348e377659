// Package server owns the per-process instance: the session registry, chunk
// router, dispatch table, and the periodic broadcast tasks. One instance is
// constructed per process and passed by reference into every handler.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"shardworld/internal/auth"
	"shardworld/internal/config"
	"shardworld/internal/game/chunkmap"
	"shardworld/internal/game/npc"
	"shardworld/internal/game/poi"
	"shardworld/internal/game/ratelimit"
	"shardworld/internal/game/session"
	"shardworld/internal/game/trade"
	"shardworld/internal/protocol"
	"shardworld/internal/store/durable"
	"shardworld/internal/store/fast"
	"shardworld/internal/worldgen"
)

const outBufFrames = 256

// FastStore is the slice of the fast tier the server instance touches
// directly: presence, fan-out, and the rate-limit counter.
type FastStore interface {
	SetPresence(ctx context.Context, userID, procID string, ttl time.Duration) error
	ClearPresence(ctx context.Context, userID, procID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, pattern string) <-chan fast.Message
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Server struct {
	cfg    config.Tuning
	log    *log.Logger
	procID string

	verifier *auth.Verifier
	worlds   worldgen.Provider
	sessions *session.Registry
	router   *chunkmap.Router
	limiter  *ratelimit.Limiter
	pois     *poi.Manager
	trades   *trade.Manager
	npcs     npc.Provider
	store    FastStore
	db       *durable.DB

	mu       sync.RWMutex
	poiRooms map[string]map[string]*session.Session // interest channel -> sessions

	handlers map[string]handlerFunc

	npcBusy chan struct{} // size 1; a stalled NPC sub-step is skipped, not queued

	now func() time.Time
}

type Deps struct {
	Verifier *auth.Verifier
	Worlds   worldgen.Provider
	POIs     *poi.Manager
	Trades   *trade.Manager
	NPCs     npc.Provider
	Store    FastStore
	DB       *durable.DB
}

func New(cfg config.Tuning, deps Deps, logger *log.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		log:      logger,
		procID:   uuid.NewString(),
		verifier: deps.Verifier,
		worlds:   deps.Worlds,
		sessions: session.NewRegistry(),
		router:   chunkmap.NewRouter(cfg.ChunkCapacity),
		limiter:  ratelimit.New(deps.Store),
		pois:     deps.POIs,
		trades:   deps.Trades,
		npcs:     deps.NPCs,
		store:    deps.Store,
		db:       deps.DB,
		poiRooms: make(map[string]map[string]*session.Session),
		npcBusy:  make(chan struct{}, 1),
		now:      time.Now,
	}
	s.handlers = s.dispatchTable()
	return s
}

func (s *Server) Sessions() *session.Registry { return s.sessions }

// Run starts the periodic tasks: the broadcast tick, the NPC fold-in tick,
// the pub/sub relay, and the presence heartbeat. Each isolates per-tick
// errors so one bad tick never kills its ticker. Returns when ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		s.runBroadcast(ctx)
	}()
	go func() {
		defer wg.Done()
		s.runNPCTick(ctx)
	}()
	go func() {
		defer wg.Done()
		s.runRelay(ctx)
	}()
	go func() {
		defer wg.Done()
		s.runPresence(ctx)
	}()
	wg.Wait()
}

// runPresence re-asserts this process's presence keys well inside the TTL,
// so a long-lived connection never reads as offline to other processes.
func (s *Server) runPresence(ctx context.Context) {
	ticker := time.NewTicker(presenceTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshPresence(ctx)
		}
	}
}

func (s *Server) refreshPresence(ctx context.Context) {
	seen := make(map[string]struct{})
	for _, sess := range s.sessions.All() {
		userID := sess.Identity.UserID
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		if err := s.store.SetPresence(ctx, userID, s.procID, presenceTTL); err != nil {
			s.log.Printf("presence refresh %s: %v", userID, err)
		}
	}
}

func chunkChannel(seed, chunk string) string {
	return fmt.Sprintf("room:%s:chunk:%s", seed, chunk)
}

func globalChannel(seed string) string {
	return fmt.Sprintf("room:%s:global", seed)
}

func userChannel(userID string) string { return "user:" + userID }

// Connect verifies the optional bearer token (failing open into a guest
// identity), assigns the spawn position, and registers the session. The
// returned welcome message is the first frame on the wire.
func (s *Server) Connect(ctx context.Context, connID, seed, token string) (*session.Session, *protocol.WelcomeMsg, error) {
	id, ok := s.verifier.Verify(token)
	if !ok {
		id = auth.Guest()
	}
	man, err := s.worlds.Manifest(seed)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", connID, err)
	}
	spawn := man.Spawn()
	chunk := chunkmap.ID(spawn.X, spawn.Y, s.cfg.ChunkSize)
	if !s.router.Join(chunkChannel(seed, chunk), connID) {
		return nil, nil, fmt.Errorf("connect %s: spawn chunk %s full", connID, chunk)
	}
	sess := session.New(connID, id, seed, spawn, chunk, outBufFrames)
	s.sessions.Add(sess)

	if err := s.store.SetPresence(ctx, id.UserID, s.procID, presenceTTL); err != nil {
		s.log.Printf("connect %s: presence: %v", connID, err)
	}
	if err := s.db.UpsertPlayer(ctx, id.UserID, id.Name, id.Guest); err != nil {
		s.log.Printf("connect %s: upsert player: %v", connID, err)
	}

	welcome := &protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		UserID:          id.UserID,
		Name:            id.Name,
		Guest:           id.Guest,
		Spawn:           spawn,
		World: protocol.WorldParams{
			Seed:       seed,
			TickRateHz: s.cfg.TickRateHz,
			ChunkSize:  s.cfg.ChunkSize,
			MaxSpeed:   s.cfg.MaxSpeed,
		},
	}
	return sess, welcome, nil
}

const presenceTTL = 2 * time.Minute

// Disconnect removes the session and cascades: chunk-room removal, POI group
// removal, and, when this was the user's last connection on this process,
// dropping this process's presence key. Trade force-cancellation happens only
// once no process in the cluster holds a presence key for the user: a user
// still connected elsewhere keeps their trades.
func (s *Server) Disconnect(ctx context.Context, connID string) {
	sess, last := s.sessions.Remove(connID)
	if sess == nil {
		return
	}
	s.router.Leave(chunkChannel(sess.Seed, sess.Chunk()), connID)
	s.leavePOIRoom(sess)
	if !last {
		return
	}
	userID := sess.Identity.UserID
	if err := s.store.ClearPresence(ctx, userID, s.procID); err != nil {
		s.log.Printf("disconnect %s: presence: %v", connID, err)
	}
	elsewhere, err := s.store.IsOnline(ctx, userID)
	if err != nil {
		// Unknown cluster state: leave the trades open rather than cancel
		// under a live counterparty.
		s.log.Printf("disconnect %s: presence check: %v", connID, err)
		return
	}
	if elsewhere {
		return
	}
	cancelled, err := s.trades.ForceCancelAll(ctx, userID)
	if err != nil {
		s.log.Printf("disconnect %s: force-cancel trades: %v", connID, err)
		return
	}
	for _, t := range cancelled {
		update := tradeUpdate(t)
		other := t.SellerID
		if other == userID {
			other = t.BuyerID
		}
		s.notifyUser(ctx, other, update)
	}
}

// online reports cluster-wide presence, preferring the local registry.
func (s *Server) online(userID string) bool {
	if s.sessions.UserOnline(userID) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := s.store.IsOnline(ctx, userID)
	if err != nil {
		s.log.Printf("presence check %s: %v", userID, err)
		return false
	}
	return ok
}

// OnlineFunc exposes the presence check for the trade manager.
func (s *Server) OnlineFunc() trade.OnlineFunc { return s.online }

func (s *Server) joinPOIRoom(sess *session.Session, poiID string) {
	s.leavePOIRoom(sess)
	ch := poi.InterestChannel(sess.Seed, poiID)
	s.mu.Lock()
	room := s.poiRooms[ch]
	if room == nil {
		room = make(map[string]*session.Session)
		s.poiRooms[ch] = room
	}
	room[sess.ConnID] = sess
	s.mu.Unlock()
	sess.SetPOI(poiID)
}

func (s *Server) leavePOIRoom(sess *session.Session) {
	cur := sess.POI()
	if cur == "" {
		return
	}
	ch := poi.InterestChannel(sess.Seed, cur)
	s.mu.Lock()
	if room := s.poiRooms[ch]; room != nil {
		delete(room, sess.ConnID)
		if len(room) == 0 {
			delete(s.poiRooms, ch)
		}
	}
	s.mu.Unlock()
	sess.SetPOI("")
}

func (s *Server) poiRoomSessions(channel string) []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.poiRooms[channel]
	if len(room) == 0 {
		return nil
	}
	out := make([]*session.Session, 0, len(room))
	for _, sess := range room {
		out = append(out, sess)
	}
	return out
}

// activePOIRooms snapshots the POI interest groups with subscribers.
func (s *Server) activePOIRooms() map[string][]*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*session.Session, len(s.poiRooms))
	for ch, room := range s.poiRooms {
		sessions := make([]*session.Session, 0, len(room))
		for _, sess := range room {
			sessions = append(sessions, sess)
		}
		out[ch] = sessions
	}
	return out
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
