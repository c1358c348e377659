package server

import (
	"context"
	"encoding/json"
	"strings"

	"shardworld/internal/game/session"
)

// relayEnvelope wraps frames published through the fast store so a process
// can skip its own messages when they come back around.
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// sendToChannel delivers a frame to the channel's local subscribers and
// publishes it for subscribers on other processes. Per-session send failures
// (full buffers) drop that session's frame only.
func (s *Server) sendToChannel(ctx context.Context, channel string, frame []byte) {
	for _, sess := range s.localSubscribers(channel) {
		sess.TrySend(frame)
	}
	env := mustMarshal(relayEnvelope{Origin: s.procID, Frame: frame})
	if err := s.store.Publish(ctx, channel, env); err != nil {
		s.log.Printf("publish %s: %v", channel, err)
	}
}

// notifyUser sends a frame to every live connection of a user, across all
// processes.
func (s *Server) notifyUser(ctx context.Context, userID string, msg any) {
	s.sendToChannel(ctx, userChannel(userID), mustMarshal(msg))
}

func (s *Server) localSubscribers(channel string) []*session.Session {
	switch {
	case strings.HasPrefix(channel, "user:"):
		return s.sessions.UserSessions(strings.TrimPrefix(channel, "user:"))
	case strings.Contains(channel, ":poi:"):
		return s.poiRoomSessions(channel)
	case strings.HasSuffix(channel, ":global"):
		seed := strings.TrimSuffix(strings.TrimPrefix(channel, "room:"), ":global")
		var out []*session.Session
		for _, sess := range s.sessions.All() {
			if sess.Seed == seed {
				out = append(out, sess)
			}
		}
		return out
	case strings.Contains(channel, ":chunk:"):
		var out []*session.Session
		for _, connID := range s.router.Members(channel) {
			if sess := s.sessions.Get(connID); sess != nil {
				out = append(out, sess)
			}
		}
		return out
	}
	return nil
}

// runRelay folds in frames published by other processes: a room's
// subscribers may span processes, so every room channel is relayed through
// the fast store's pub/sub.
func (s *Server) runRelay(ctx context.Context) {
	rooms := s.store.Subscribe(ctx, "room:*")
	users := s.store.Subscribe(ctx, "user:*")
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-rooms:
			if !ok {
				return
			}
			s.deliverRemote(m.Channel, m.Payload)
		case m, ok := <-users:
			if !ok {
				return
			}
			s.deliverRemote(m.Channel, m.Payload)
		}
	}
}

func (s *Server) deliverRemote(channel string, payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.log.Printf("relay %s: bad envelope: %v", channel, err)
		return
	}
	if env.Origin == s.procID {
		return
	}
	for _, sess := range s.localSubscribers(channel) {
		sess.TrySend(env.Frame)
	}
}
