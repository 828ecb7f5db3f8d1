package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Server configures the relay. Values come from the environment only.
type Server struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	MetricsPort  int    `env:"METRICS_PORT" envDefault:"0"`
	Secret       string `env:"ROOMLINK_SECRET"`
	MaxRoomPeers int    `env:"MAX_ROOM_PEERS" envDefault:"32"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadServer parses the relay configuration from the environment.
func LoadServer() (Server, error) {
	cfg, err := env.ParseAs[Server]()
	if err != nil {
		return Server{}, fmt.Errorf("parse server config: %w", err)
	}
	if cfg.MaxRoomPeers < 2 {
		return Server{}, fmt.Errorf("MAX_ROOM_PEERS must be at least 2, got %d", cfg.MaxRoomPeers)
	}
	return cfg, nil
}
