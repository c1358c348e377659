package server

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shardworld/internal/auth"
	"shardworld/internal/config"
	"shardworld/internal/game/session"
	"shardworld/internal/game/trade"
	"shardworld/internal/protocol"
	"shardworld/internal/store/durable"
	"shardworld/internal/store/fast"
)

// fakeStore stands in for the fast tier: per-process presence keys, recorded
// publishes, and a switch for "user holds a presence key elsewhere".
type fakeStore struct {
	mu        sync.Mutex
	presence  map[string]string // userID -> procID
	elsewhere bool
	published map[string][][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		presence:  make(map[string]string),
		published: make(map[string][][]byte),
	}
}

func (f *fakeStore) SetPresence(ctx context.Context, userID, procID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence[userID] = procID
	return nil
}

func (f *fakeStore) ClearPresence(ctx context.Context, userID, procID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presence[userID] == procID {
		delete(f.presence, userID)
	}
	return nil
}

func (f *fakeStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.presence[userID]; ok {
		return true, nil
	}
	return f.elsewhere, nil
}

func (f *fakeStore) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, pattern string) <-chan fast.Message {
	return make(chan fast.Message)
}

func (f *fakeStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 1, nil
}

func (f *fakeStore) hasPresence(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.presence[userID]
	return ok
}

func newTestServer(t *testing.T, store *fakeStore) (*Server, *durable.DB) {
	t.Helper()
	db, err := durable.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := log.New(io.Discard, "", 0)
	srv := New(config.Defaults(), Deps{
		Verifier: auth.NewVerifier(""),
		Trades:   trade.NewManager(db, func(string) bool { return true }, nil),
		Store:    store,
		DB:       db,
	}, logger)
	return srv, db
}

func addSession(s *Server, connID, userID string, pos protocol.Position) *session.Session {
	chunk := "0:0"
	sess := session.New(connID, auth.Identity{UserID: userID, Name: userID}, "demo", pos, chunk, 16)
	s.sessions.Add(sess)
	s.router.Join(chunkChannel("demo", chunk), connID)
	return sess
}

func TestDisconnect_KeepsTradesWhenUserLiveElsewhere(t *testing.T) {
	store := newFakeStore()
	store.elsewhere = true
	srv, db := newTestServer(t, store)
	ctx := context.Background()

	addSession(srv, "c1", "alice", protocol.Position{X: 10, Y: 10})
	_ = store.SetPresence(ctx, "alice", srv.procID, time.Minute)
	if err := db.CreateTrade(ctx, "T1", "demo", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	srv.Disconnect(ctx, "c1")

	// This process's key is gone, but alice is live on another process: her
	// trades stay open.
	if store.hasPresence("alice") {
		t.Fatalf("local presence key not cleared")
	}
	tr, err := db.Trade(ctx, "T1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tr.Status != durable.TradePending {
		t.Fatalf("trade %s, want still pending for a user live elsewhere", tr.Status)
	}
}

func TestDisconnect_LastClusterConnectionCancelsTrades(t *testing.T) {
	store := newFakeStore()
	srv, db := newTestServer(t, store)
	ctx := context.Background()

	addSession(srv, "c1", "alice", protocol.Position{X: 10, Y: 10})
	_ = store.SetPresence(ctx, "alice", srv.procID, time.Minute)
	if err := db.CreateTrade(ctx, "T1", "demo", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	srv.Disconnect(ctx, "c1")

	tr, err := db.Trade(ctx, "T1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tr.Status != durable.TradeCancelled || tr.Reason != "party_disconnected" {
		t.Fatalf("trade not force-cancelled: %+v", tr)
	}
	// The counterparty hears about it over their user channel.
	if len(store.published[userChannel("bob")]) == 0 {
		t.Fatalf("no cancellation notice published to bob")
	}
}

func TestDisconnect_SecondLocalConnectionKeepsPresence(t *testing.T) {
	store := newFakeStore()
	srv, db := newTestServer(t, store)
	ctx := context.Background()

	addSession(srv, "c1", "alice", protocol.Position{X: 10, Y: 10})
	addSession(srv, "c2", "alice", protocol.Position{X: 10, Y: 10})
	_ = store.SetPresence(ctx, "alice", srv.procID, time.Minute)
	if err := db.CreateTrade(ctx, "T1", "demo", "alice", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	srv.Disconnect(ctx, "c1")

	if !store.hasPresence("alice") {
		t.Fatalf("presence cleared while a local connection remains")
	}
	tr, _ := db.Trade(ctx, "T1")
	if tr.Status != durable.TradePending {
		t.Fatalf("trade %s, want pending while alice still connected", tr.Status)
	}
}

func TestRefreshPresence_CoversEveryConnectedUser(t *testing.T) {
	store := newFakeStore()
	srv, _ := newTestServer(t, store)
	ctx := context.Background()

	addSession(srv, "c1", "alice", protocol.Position{X: 10, Y: 10})
	addSession(srv, "c2", "alice", protocol.Position{X: 10, Y: 10})
	addSession(srv, "c3", "bob", protocol.Position{X: 10, Y: 10})

	srv.refreshPresence(ctx)

	for _, user := range []string{"alice", "bob"} {
		if !store.hasPresence(user) {
			t.Fatalf("heartbeat did not assert presence for %s", user)
		}
		store.mu.Lock()
		proc := store.presence[user]
		store.mu.Unlock()
		if proc != srv.procID {
			t.Fatalf("presence for %s held by %q, want this process", user, proc)
		}
	}
}

func TestOnline_ConsultsClusterPresence(t *testing.T) {
	store := newFakeStore()
	srv, _ := newTestServer(t, store)

	if srv.online("carol") {
		t.Fatalf("carol should be offline")
	}
	store.elsewhere = true
	if !srv.online("carol") {
		t.Fatalf("carol is live on another process and should read online")
	}
}
