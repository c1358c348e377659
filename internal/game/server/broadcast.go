package server

import (
	"context"
	"strings"
	"time"

	"shardworld/internal/protocol"
)

// runBroadcast is the fixed-rate position fan-out: one size-bounded batch per
// active chunk per tick, emitted only to that chunk's subscribers.
func (s *Server) runBroadcast(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastTick(ctx)
		}
	}
}

func (s *Server) broadcastTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Printf("broadcast tick: recovered: %v", r)
		}
	}()

	byChunk := make(map[string][]protocol.PlayerDelta)
	for _, sess := range s.sessions.All() {
		pos, chunk, moved := sess.TakeMoved()
		if !moved {
			continue
		}
		ch := chunkChannel(sess.Seed, chunk)
		byChunk[ch] = append(byChunk[ch], protocol.PlayerDelta{
			UserID: sess.Identity.UserID,
			Name:   sess.Identity.Name,
			Pos:    pos,
		})
	}
	for channel, deltas := range byChunk {
		for len(deltas) > 0 {
			n := len(deltas)
			if n > s.cfg.BatchMaxPlayers {
				n = s.cfg.BatchMaxPlayers
			}
			msg := protocol.PlayersMovedMsg{
				Type:    protocol.TypePlayersMoved,
				Chunk:   chunkFromChannel(channel),
				Players: deltas[:n],
			}
			s.sendToChannel(ctx, channel, mustMarshal(msg))
			deltas = deltas[n:]
		}
	}
}

func chunkFromChannel(channel string) string {
	i := strings.LastIndex(channel, ":chunk:")
	if i < 0 {
		return channel
	}
	return channel[i+len(":chunk:"):]
}

// runNPCTick folds externally computed NPC deltas into the broadcast, fanned
// out per POI interest-group. It runs independently of the chunk sub-step: a
// stall here is logged and skipped without holding up position broadcasts.
func (s *Server) runNPCTick(ctx context.Context) {
	if s.npcs == nil {
		return
	}
	interval := s.cfg.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := s.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			elapsed := now.Sub(last)
			last = now
			select {
			case s.npcBusy <- struct{}{}:
			default:
				s.log.Printf("npc tick: previous still running, skipped")
				continue
			}
			go func() {
				defer func() { <-s.npcBusy }()
				defer func() {
					if r := recover(); r != nil {
						s.log.Printf("npc tick: recovered: %v", r)
					}
				}()
				s.npcTick(ctx, elapsed)
			}()
		}
	}
}

func (s *Server) npcTick(ctx context.Context, elapsed time.Duration) {
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickInterval()*4)
	defer cancel()
	for channel, members := range s.activePOIRooms() {
		seed, poiID, ok := parsePOIChannel(channel)
		if !ok {
			continue
		}
		nearby := make([]protocol.PlayerDelta, 0, len(members))
		for _, sess := range members {
			nearby = append(nearby, protocol.PlayerDelta{
				UserID: sess.Identity.UserID,
				Name:   sess.Identity.Name,
				Pos:    sess.Pos(),
			})
		}
		deltas, err := s.npcs.Deltas(tickCtx, seed, poiID, elapsed, nearby)
		if err != nil {
			// Per-unit failure: skip this POI, keep the batch going.
			s.log.Printf("npc tick: %s: %v", poiID, err)
			continue
		}
		if len(deltas) == 0 {
			continue
		}
		msg := protocol.EntityUpdatesMsg{
			Type:     protocol.TypeEntityUpdates,
			POIID:    poiID,
			Entities: deltas,
		}
		s.sendToChannel(tickCtx, channel, mustMarshal(msg))
	}
}

func parsePOIChannel(channel string) (seed, poiID string, ok bool) {
	rest, found := strings.CutPrefix(channel, "room:")
	if !found {
		return "", "", false
	}
	i := strings.Index(rest, ":poi:")
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+len(":poi:"):], true
}
