package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	ChunkSize     float64 `yaml:"chunk_size"`
	ChunkCapacity int     `yaml:"chunk_capacity"`

	MaxSpeed       float64 `yaml:"max_speed"`        // world units per second
	MinMoveElapsed int     `yaml:"min_move_elapsed"` // ms floor for elapsed-time clamping

	LockTTLMs       int `yaml:"lock_ttl_ms"`
	FlushIntervalMs int `yaml:"flush_interval_ms"`

	BatchMaxPlayers int `yaml:"batch_max_players"`

	POIEnterRadius float64 `yaml:"poi_enter_radius"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

// RateLimits holds one independently tuned window per mutating action.
// Position updates are throttled per-connection instead (see session).
type RateLimits struct {
	Chat          Limit `yaml:"chat"`
	DirectMessage Limit `yaml:"direct_message"`
	InteractPOI   Limit `yaml:"interact_poi"`
	EnterPOI      Limit `yaml:"enter_poi"`
	Trade         Limit `yaml:"trade"`
}

type Limit struct {
	Max           int `yaml:"max"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (l Limit) Window() time.Duration { return time.Duration(l.WindowSeconds) * time.Second }

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t.withDefaults(), nil
}

func Defaults() Tuning { return Tuning{}.withDefaults() }

func (t Tuning) withDefaults() Tuning {
	if t.TickRateHz <= 0 {
		t.TickRateHz = 12
	}
	if t.ChunkSize <= 0 {
		t.ChunkSize = 512
	}
	if t.ChunkCapacity <= 0 {
		t.ChunkCapacity = 64
	}
	if t.MaxSpeed <= 0 {
		t.MaxSpeed = 100
	}
	if t.MinMoveElapsed <= 0 {
		t.MinMoveElapsed = 10
	}
	if t.LockTTLMs <= 0 {
		t.LockTTLMs = 3000
	}
	if t.FlushIntervalMs <= 0 {
		t.FlushIntervalMs = 5000
	}
	if t.BatchMaxPlayers <= 0 {
		t.BatchMaxPlayers = 128
	}
	if t.POIEnterRadius <= 0 {
		t.POIEnterRadius = 48
	}
	def := func(l *Limit, max, window int) {
		if l.Max <= 0 {
			l.Max = max
		}
		if l.WindowSeconds <= 0 {
			l.WindowSeconds = window
		}
	}
	def(&t.RateLimits.Chat, 10, 10)
	def(&t.RateLimits.DirectMessage, 8, 10)
	def(&t.RateLimits.InteractPOI, 20, 10)
	def(&t.RateLimits.EnterPOI, 6, 10)
	def(&t.RateLimits.Trade, 10, 30)
	return t
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}

func (t Tuning) LockTTL() time.Duration {
	return time.Duration(t.LockTTLMs) * time.Millisecond
}

func (t Tuning) FlushInterval() time.Duration {
	return time.Duration(t.FlushIntervalMs) * time.Millisecond
}
