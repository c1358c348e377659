// Package poi manages shared point-of-interest state. State lives in the
// fast tier, is mutated only inside a held lock, and is flushed to the
// durable tier by the background flush task.
package poi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"shardworld/internal/audit"
	"shardworld/internal/game/lock"
	"shardworld/internal/protocol"
	"shardworld/internal/store/durable"
	"shardworld/internal/store/fast"
	"shardworld/internal/worldgen"
)

// State is the mutable shared state of one POI, keyed by seed + poi id.
type State struct {
	Discovered map[string]bool `json:"discovered"`
	Entities   []Entity        `json:"entities"`
	Fields     map[string]any  `json:"fields"`
}

type Entity struct {
	EntityID string            `json:"entity_id"`
	Kind     string            `json:"kind"`
	Pos      protocol.Position `json:"pos"`
}

func newState() *State {
	return &State{
		Discovered: make(map[string]bool),
		Fields:     make(map[string]any),
	}
}

// AsMap renders the state for the wire.
func (s *State) AsMap() map[string]any {
	discovered := make([]string, 0, len(s.Discovered))
	for id := range s.Discovered {
		discovered = append(discovered, id)
	}
	return map[string]any{
		"discovered": discovered,
		"entities":   s.Entities,
		"fields":     s.Fields,
	}
}

type Manager struct {
	store    *fast.Client
	db       *durable.DB
	locks    *lock.Manager
	worlds   worldgen.Provider
	auditLog *audit.Logger

	enterRadius float64
}

func NewManager(store *fast.Client, db *durable.DB, locks *lock.Manager, worlds worldgen.Provider, auditLog *audit.Logger, enterRadius float64) *Manager {
	return &Manager{
		store:       store,
		db:          db,
		locks:       locks,
		worlds:      worlds,
		auditLog:    auditLog,
		enterRadius: enterRadius,
	}
}

func stateKey(seed, poiID string) string { return fmt.Sprintf("poi:%s:%s", seed, poiID) }
func lockKey(seed, poiID string) string  { return fmt.Sprintf("%s:poi:%s", seed, poiID) }

// InterestChannel names the pub/sub group for a POI's entity updates.
func InterestChannel(seed, poiID string) string {
	return fmt.Sprintf("room:%s:poi:%s", seed, poiID)
}

// load reads the working state, falling back to the durable tier for settled
// state and finally creating it lazily.
func (m *Manager) load(ctx context.Context, seed, poiID string) (*State, error) {
	var st State
	err := m.store.GetJSON(ctx, stateKey(seed, poiID), &st)
	if err == nil {
		return &st, nil
	}
	if !errors.Is(err, fast.ErrNotFound) {
		return nil, err
	}
	raw, err := m.db.POIState(ctx, seed, poiID)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, err
		}
		return &st, nil
	}
	return newState(), nil
}

// Interact runs a read-modify-write on POI state under the key's lock. The
// returned code is an enumerated client-facing keyword; "" means success.
// err is reserved for infrastructure failures.
func (m *Manager) Interact(ctx context.Context, seed, userID, poiID, action, templateHash string) (*State, string, error) {
	man, err := m.worlds.Manifest(seed)
	if err != nil {
		return nil, protocol.ErrInternal, err
	}
	p := man.POIByID(poiID)
	if p == nil {
		return nil, protocol.ErrInvalidTarget, nil
	}
	// A client-held template fingerprint must match the server-computed
	// content hash; a mismatch means the client rendered stale content.
	if templateHash != "" && templateHash != p.ContentHash {
		return nil, protocol.ErrStaleTemplate, nil
	}

	var out *State
	err = m.locks.WithLock(ctx, lockKey(seed, poiID), func(ctx context.Context) error {
		st, err := m.load(ctx, seed, poiID)
		if err != nil {
			return err
		}
		if code := apply(st, userID, action); code != "" {
			return applyErr(code)
		}
		if err := m.store.SetJSON(ctx, stateKey(seed, poiID), st); err != nil {
			return err
		}
		if err := m.store.MarkDirty(ctx, seed, stateKey(seed, poiID)); err != nil {
			return err
		}
		out = st
		return nil
	})
	if errors.Is(err, lock.ErrLocked) {
		return nil, protocol.ErrLocked, nil
	}
	var ae applyErr
	if errors.As(err, &ae) {
		return nil, string(ae), nil
	}
	if err != nil {
		return nil, protocol.ErrUnavailable, err
	}
	if m.auditLog != nil {
		_ = m.auditLog.Write(audit.Entry{
			At: time.Now(), Kind: "poi_mutation",
			Seed: seed, UserID: userID, POIID: poiID,
			Detail: map[string]string{"action": action},
		})
	}
	return out, "", nil
}

type applyErr string

func (e applyErr) Error() string { return string(e) }

func apply(st *State, userID, action string) (code string) {
	switch action {
	case "discover":
		st.Discovered[userID] = true
	case "loot":
		if len(st.Entities) == 0 {
			return protocol.ErrConflict
		}
		st.Entities = st.Entities[1:]
	case "activate":
		st.Fields["activated_by"] = userID
	default:
		return protocol.ErrBadRequest
	}
	return ""
}

// CheckEntry validates an ENTER_POI request: the server re-checks proximity
// against the POI's published position, and POIs that declare an approach
// side additionally require the player on that side. Returns "" when entry is
// allowed.
func (m *Manager) CheckEntry(seed, poiID string, playerPos protocol.Position) (string, error) {
	man, err := m.worlds.Manifest(seed)
	if err != nil {
		return protocol.ErrInternal, err
	}
	p := man.POIByID(poiID)
	if p == nil {
		return protocol.ErrInvalidTarget, nil
	}
	dx := playerPos.X - p.X
	dy := playerPos.Y - p.Y
	if math.Hypot(dx, dy) > m.enterRadius {
		return protocol.ErrTooFar, nil
	}
	if p.ApproachSide != "" && !onSide(p.ApproachSide, dx, dy) {
		return protocol.ErrWrongApproach, nil
	}
	return "", nil
}

func onSide(side string, dx, dy float64) bool {
	switch side {
	case "north":
		return dy < 0
	case "south":
		return dy > 0
	case "west":
		return dx < 0
	case "east":
		return dx > 0
	}
	return true
}
