// Package npc consumes the entity-behavior collaborator. Behavior trees run
// elsewhere; this server only folds the resulting position deltas into the
// broadcast tick, fanned out per POI interest-group.
package npc

import (
	"context"
	"time"

	"shardworld/internal/protocol"
)

// Provider computes one tick of NPC deltas for a POI given elapsed time and
// nearby-player context.
type Provider interface {
	Deltas(ctx context.Context, seed, poiID string, elapsed time.Duration, nearby []protocol.PlayerDelta) ([]protocol.EntityDelta, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, seed, poiID string, elapsed time.Duration, nearby []protocol.PlayerDelta) ([]protocol.EntityDelta, error)

func (f ProviderFunc) Deltas(ctx context.Context, seed, poiID string, elapsed time.Duration, nearby []protocol.PlayerDelta) ([]protocol.EntityDelta, error) {
	return f(ctx, seed, poiID, elapsed, nearby)
}
