package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds deployment configuration: endpoints and secrets that vary per
// environment and never belong in tuning.yaml.
type Env struct {
	RedisAddr     string `env:"SHARDWORLD_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"SHARDWORLD_REDIS_PASSWORD"`
	DBPath        string `env:"SHARDWORLD_DB_PATH" envDefault:"./data/shardworld.db"`
	AuditDir      string `env:"SHARDWORLD_AUDIT_DIR" envDefault:"./data/audit"`
	JWTSecret     string `env:"SHARDWORLD_JWT_SECRET"`
}

func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
