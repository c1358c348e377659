// Package movement validates proposed position updates. The validator is pure
// and never fails: its output is always a valid, assignable position.
package movement

import (
	"math"
	"time"

	"shardworld/internal/protocol"
)

// WalkableFunc reports static terrain passability for a world position.
type WalkableFunc func(x, y float64) bool

type Params struct {
	MaxSpeed   float64       // world units per second
	MinElapsed time.Duration // elapsed-time floor; avoids division blow-ups after a stall
}

// Validate clamps the proposed displacement to the speed budget, then checks
// terrain. Elapsed time comes from the server clock only. When the clamped
// destination is blocked, the horizontal-only and vertical-only components are
// tried in turn so players slide along obstacles; if both are blocked the
// previous position is returned unchanged.
func Validate(prev protocol.Position, last time.Time, proposed protocol.Position, now time.Time, p Params, walkable WalkableFunc) protocol.Position {
	elapsed := now.Sub(last)
	if elapsed < p.MinElapsed {
		elapsed = p.MinElapsed
	}
	budget := p.MaxSpeed * elapsed.Seconds()

	dx := proposed.X - prev.X
	dy := proposed.Y - prev.Y
	dist := math.Hypot(dx, dy)
	if dist > budget && dist > 0 {
		scale := budget / dist
		dx *= scale
		dy *= scale
	}
	target := protocol.Position{X: prev.X + dx, Y: prev.Y + dy}

	if walkable == nil || walkable(target.X, target.Y) {
		return target
	}
	if walkable(target.X, prev.Y) {
		return protocol.Position{X: target.X, Y: prev.Y}
	}
	if walkable(prev.X, target.Y) {
		return protocol.Position{X: prev.X, Y: target.Y}
	}
	return prev
}
