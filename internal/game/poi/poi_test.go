package poi

import (
	"testing"

	"shardworld/internal/protocol"
	"shardworld/internal/worldgen"
)

type staticProvider struct{ m *worldgen.Manifest }

func (p staticProvider) Manifest(seed string) (*worldgen.Manifest, error) { return p.m, nil }

func testManager() *Manager {
	m := &worldgen.Manifest{
		Seed: "demo",
		POIs: []worldgen.POI{
			{ID: "mill", Type: "landmark", X: 100, Y: 100, ContentHash: "abc"},
			{ID: "crypt", Type: "dungeon", X: 500, Y: 500, ContentHash: "def", ApproachSide: "north"},
		},
	}
	return NewManager(nil, nil, nil, staticProvider{m}, nil, 48)
}

func TestCheckEntry_Proximity(t *testing.T) {
	m := testManager()
	if code, _ := m.CheckEntry("demo", "mill", protocol.Position{X: 110, Y: 110}); code != "" {
		t.Fatalf("near entry rejected: %s", code)
	}
	if code, _ := m.CheckEntry("demo", "mill", protocol.Position{X: 400, Y: 400}); code != protocol.ErrTooFar {
		t.Fatalf("far entry should be E_TOO_FAR, got %s", code)
	}
}

func TestCheckEntry_ApproachSide(t *testing.T) {
	m := testManager()
	// Crypt requires approach from the north (smaller y).
	if code, _ := m.CheckEntry("demo", "crypt", protocol.Position{X: 500, Y: 470}); code != "" {
		t.Fatalf("north approach rejected: %s", code)
	}
	if code, _ := m.CheckEntry("demo", "crypt", protocol.Position{X: 500, Y: 530}); code != protocol.ErrWrongApproach {
		t.Fatalf("south approach should be E_WRONG_APPROACH, got %s", code)
	}
}

func TestCheckEntry_UnknownPOI(t *testing.T) {
	m := testManager()
	if code, _ := m.CheckEntry("demo", "nope", protocol.Position{}); code != protocol.ErrInvalidTarget {
		t.Fatalf("unknown poi should be E_INVALID_TARGET, got %s", code)
	}
}

func TestApply_Actions(t *testing.T) {
	st := newState()
	if code := apply(st, "u1", "discover"); code != "" {
		t.Fatalf("discover: %s", code)
	}
	if !st.Discovered["u1"] {
		t.Fatalf("discover did not record user")
	}

	if code := apply(st, "u1", "loot"); code != protocol.ErrConflict {
		t.Fatalf("looting an empty poi should conflict, got %s", code)
	}
	st.Entities = []Entity{{EntityID: "e1"}, {EntityID: "e2"}}
	if code := apply(st, "u1", "loot"); code != "" {
		t.Fatalf("loot: %s", code)
	}
	if len(st.Entities) != 1 || st.Entities[0].EntityID != "e2" {
		t.Fatalf("loot did not consume first entity: %+v", st.Entities)
	}

	if code := apply(st, "u1", "activate"); code != "" {
		t.Fatalf("activate: %s", code)
	}
	if st.Fields["activated_by"] != "u1" {
		t.Fatalf("activate did not record user")
	}

	if code := apply(st, "u1", "explode"); code != protocol.ErrBadRequest {
		t.Fatalf("unknown action should be E_BAD_REQUEST, got %s", code)
	}
}

func TestInterestChannel(t *testing.T) {
	if got := InterestChannel("demo", "crypt"); got != "room:demo:poi:crypt" {
		t.Fatalf("channel = %q", got)
	}
}
