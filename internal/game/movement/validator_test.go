package movement

import (
	"math"
	"testing"
	"time"

	"shardworld/internal/protocol"
)

var params = Params{MaxSpeed: 100, MinElapsed: 10 * time.Millisecond}

func dist(a, b protocol.Position) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func TestValidate_ClampsToSpeedBudget(t *testing.T) {
	last := time.Now()
	prev := protocol.Position{X: 100, Y: 100}
	proposed := protocol.Position{X: 1000, Y: 1000}
	now := last.Add(16 * time.Millisecond)

	got := Validate(prev, last, proposed, now, params, nil)
	budget := 100 * 0.016
	if d := dist(prev, got); d > budget+1e-9 {
		t.Fatalf("moved %.4f, budget %.4f", d, budget)
	}
	if d := dist(prev, got); d < budget-1e-9 {
		t.Fatalf("expected full budget move toward target, got %.4f", d)
	}
}

func TestValidate_ElapsedFloor(t *testing.T) {
	last := time.Now()
	prev := protocol.Position{X: 0, Y: 0}
	// Zero (even negative) elapsed must clamp to the floor, not divide away.
	got := Validate(prev, last, protocol.Position{X: 500, Y: 0}, last, params, nil)
	budget := 100 * 0.010
	if d := dist(prev, got); d > budget+1e-9 {
		t.Fatalf("moved %.4f with zero elapsed, budget %.4f", d, budget)
	}
}

func TestValidate_WithinBudgetPassesThrough(t *testing.T) {
	last := time.Now()
	prev := protocol.Position{X: 10, Y: 10}
	proposed := protocol.Position{X: 11, Y: 10}
	got := Validate(prev, last, proposed, last.Add(time.Second), params, nil)
	if got != proposed {
		t.Fatalf("expected %+v, got %+v", proposed, got)
	}
}

func TestValidate_BlockedSlidesHorizontal(t *testing.T) {
	last := time.Now()
	prev := protocol.Position{X: 0, Y: 0}
	proposed := protocol.Position{X: 3, Y: 3}
	walkable := func(x, y float64) bool { return y < 1 } // everything north of y=1 blocked
	got := Validate(prev, last, proposed, last.Add(time.Second), params, walkable)
	if got.Y != 0 || got.X != 3 {
		t.Fatalf("expected horizontal slide to (3,0), got %+v", got)
	}
}

func TestValidate_BlockedSlidesVertical(t *testing.T) {
	last := time.Now()
	prev := protocol.Position{X: 0, Y: 0}
	proposed := protocol.Position{X: 3, Y: 3}
	walkable := func(x, y float64) bool { return x < 1 }
	got := Validate(prev, last, proposed, last.Add(time.Second), params, walkable)
	if got.X != 0 || got.Y != 3 {
		t.Fatalf("expected vertical slide to (0,3), got %+v", got)
	}
}

func TestValidate_FullyBlockedReturnsPrev(t *testing.T) {
	last := time.Now()
	prev := protocol.Position{X: 0, Y: 0}
	walkable := func(x, y float64) bool { return x == 0 && y == 0 }
	got := Validate(prev, last, protocol.Position{X: 5, Y: 5}, last.Add(time.Second), params, walkable)
	if got != prev {
		t.Fatalf("expected unchanged position, got %+v", got)
	}
}

func TestValidate_NeverReturnsNonWalkable(t *testing.T) {
	walkable := func(x, y float64) bool { return int(x)%2 == 0 }
	last := time.Now()
	prev := protocol.Position{X: 0, Y: 0}
	for i := 0; i < 50; i++ {
		proposed := protocol.Position{X: float64(i%7) * 3, Y: float64(i%5) * 2}
		got := Validate(prev, last, proposed, last.Add(100*time.Millisecond), params, walkable)
		if got != prev && !walkable(got.X, got.Y) {
			t.Fatalf("returned non-walkable %+v", got)
		}
		prev = got
		last = last.Add(100 * time.Millisecond)
	}
}
