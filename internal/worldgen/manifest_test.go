package worldgen

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
seed: demo
spawn_x: 100
spawn_y: 100
pois:
  - id: mill
    type: landmark
    x: 320
    y: 180
    content_hash: abc123
  - id: crypt
    type: dungeon
    x: 760
    y: 540
    content_hash: def456
    approach_side: north
terrain:
  cell_size: 64
  rows:
    - "...."
    - ".##."
    - "...."
`

func writeManifest(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "demo.yaml"), []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDirProvider_Load(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)
	p := NewDirProvider(dir)

	m, err := p.Manifest("demo")
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.Spawn().X != 100 || m.Spawn().Y != 100 {
		t.Fatalf("spawn = %+v", m.Spawn())
	}
	if poi := m.POIByID("crypt"); poi == nil || poi.ApproachSide != "north" {
		t.Fatalf("crypt poi wrong: %+v", poi)
	}
	if m.POIByID("nope") != nil {
		t.Fatalf("unknown poi should be nil")
	}
}

func TestDirProvider_MemoizesPerSeed(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)
	p := NewDirProvider(dir)

	m1, err := p.Manifest("demo")
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	// Removing the file must not matter: manifests are cached per seed.
	if err := os.Remove(filepath.Join(dir, "demo.yaml")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	m2, err := p.Manifest("demo")
	if err != nil {
		t.Fatalf("manifest after remove: %v", err)
	}
	if m1 != m2 {
		t.Fatalf("expected cached manifest pointer")
	}
}

func TestDirProvider_MissingSeed(t *testing.T) {
	p := NewDirProvider(t.TempDir())
	if _, err := p.Manifest("absent"); err == nil {
		t.Fatalf("expected error for missing manifest")
	}
}

func TestTerrain_Walkable(t *testing.T) {
	tr := Terrain{
		CellSize: 64,
		Rows:     []string{"....", ".##.", "...."},
	}
	if !tr.Walkable(10, 10) {
		t.Fatalf("(10,10) should be walkable")
	}
	if tr.Walkable(70, 70) {
		t.Fatalf("(70,70) falls in a blocked cell")
	}
	if tr.Walkable(130, 100) {
		t.Fatalf("(130,100) falls in a blocked cell")
	}
	// Outside the grid is open.
	if !tr.Walkable(-50, -50) || !tr.Walkable(10000, 10000) {
		t.Fatalf("out-of-grid positions should be walkable")
	}
}

func TestTerrain_NegativeCoordsAreOutsideGrid(t *testing.T) {
	tr := Terrain{
		CellSize: 64,
		Rows:     []string{"#..."},
	}
	// The open half-cell just left/above the origin must not round onto
	// cell (0,0).
	if !tr.Walkable(-1, -1) {
		t.Fatalf("(-1,-1) is outside the grid and must be walkable")
	}
	if !tr.Walkable(-1, 10) || !tr.Walkable(10, -1) {
		t.Fatalf("positions left or above the origin must be walkable")
	}
	if tr.Walkable(1, 1) {
		t.Fatalf("(1,1) falls in the blocked origin cell")
	}
}

func TestTerrain_EmptyGridAlwaysWalkable(t *testing.T) {
	var tr Terrain
	if !tr.Walkable(0, 0) {
		t.Fatalf("empty terrain should be fully walkable")
	}
}
