// Package worldgen consumes the generation collaborator's static outputs.
// Generation itself happens elsewhere; this package only loads and caches the
// per-seed manifest (spawn point, POI list, terrain classification).
package worldgen

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"shardworld/internal/protocol"
)

type POI struct {
	ID           string            `yaml:"id"`
	Type         string            `yaml:"type"`
	X            float64           `yaml:"x"`
	Y            float64           `yaml:"y"`
	ContentHash  string            `yaml:"content_hash"`
	ApproachSide string            `yaml:"approach_side,omitempty"`
	Fields       map[string]string `yaml:"fields,omitempty"`
}

func (p POI) Pos() protocol.Position { return protocol.Position{X: p.X, Y: p.Y} }

// Terrain is a static classification grid. Cells outside the grid are open.
type Terrain struct {
	CellSize float64  `yaml:"cell_size"`
	OriginX  float64  `yaml:"origin_x"`
	OriginY  float64  `yaml:"origin_y"`
	Rows     []string `yaml:"rows"` // one rune per cell; '#' = blocked
}

func (t Terrain) Walkable(x, y float64) bool {
	if t.CellSize <= 0 || len(t.Rows) == 0 {
		return true
	}
	// Floor, not truncate: positions just left/above the origin are outside
	// the grid, not in cell (0,0).
	cx := int(math.Floor((x - t.OriginX) / t.CellSize))
	cy := int(math.Floor((y - t.OriginY) / t.CellSize))
	if cy < 0 || cy >= len(t.Rows) {
		return true
	}
	row := t.Rows[cy]
	if cx < 0 || cx >= len(row) {
		return true
	}
	return row[cx] != '#'
}

type Manifest struct {
	Seed    string  `yaml:"seed"`
	SpawnX  float64 `yaml:"spawn_x"`
	SpawnY  float64 `yaml:"spawn_y"`
	POIs    []POI   `yaml:"pois"`
	Terrain Terrain `yaml:"terrain"`
}

func (m *Manifest) Spawn() protocol.Position {
	return protocol.Position{X: m.SpawnX, Y: m.SpawnY}
}

func (m *Manifest) POIByID(id string) *POI {
	for i := range m.POIs {
		if m.POIs[i].ID == id {
			return &m.POIs[i]
		}
	}
	return nil
}

// Provider returns the static manifest for a seed.
type Provider interface {
	Manifest(seed string) (*Manifest, error)
}

// DirProvider loads <dir>/<seed>.yaml, memoized per seed: manifests are
// immutable for the lifetime of a seed.
type DirProvider struct {
	dir string

	mu    sync.Mutex
	cache map[string]*Manifest
}

func NewDirProvider(dir string) *DirProvider {
	return &DirProvider{dir: dir, cache: make(map[string]*Manifest)}
}

func (p *DirProvider) Manifest(seed string) (*Manifest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.cache[seed]; ok {
		return m, nil
	}
	raw, err := os.ReadFile(filepath.Join(p.dir, seed+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", seed, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", seed, err)
	}
	if m.Seed == "" {
		m.Seed = seed
	}
	p.cache[seed] = &m
	return &m, nil
}
