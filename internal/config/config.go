package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBPath   string `envconfig:"KASMIX_DB_PATH" default:"./data/kasmix.sqlite"`
	Port     int    `envconfig:"KASMIX_PORT" default:"8080"`
	LogLevel string `envconfig:"KASMIX_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"KASMIX_LOG_DIR" default:"./logs"`
	Network  string `envconfig:"KASMIX_NETWORK" default:"testnet"`

	NodeURL          string        `envconfig:"KASMIX_NODE_URL" default:"ws://127.0.0.1:17110"`
	NodeReconnectMin time.Duration `envconfig:"KASMIX_NODE_RECONNECT_MIN" default:"1s"`
	NodeReconnectMax time.Duration `envconfig:"KASMIX_NODE_RECONNECT_MAX" default:"30s"`

	BridgePort        int           `envconfig:"KASMIX_BRIDGE_PORT" default:"8080"`
	BridgePath        string        `envconfig:"KASMIX_BRIDGE_PATH" default:"/ws/coinjoin"`
	BridgeIdleTimeout time.Duration `envconfig:"KASMIX_BRIDGE_IDLE_TIMEOUT" default:"10m"`

	// AllowedHost is the Host header the Control Surface API and Bridge
	// accept requests for. kasmixd has no auth layer of its own, so the
	// daemon leans on this being a loopback interface; operators fronting
	// it with a reverse proxy must set this to the proxy's Host value.
	AllowedHost string `envconfig:"KASMIX_ALLOWED_HOST" default:"localhost"`

	IntermediateDelay time.Duration `envconfig:"KASMIX_INTERMEDIATE_DELAY" default:"90s"`

	ParticipantCount int `envconfig:"KASMIX_PARTICIPANT_COUNT" default:"10"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// Load .env file if it exists. godotenv does NOT override already-set env vars,
	// so real environment variables take precedence over .env values.
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("%w: network must be \"mainnet\" or \"testnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.IntermediateDelay < 60*time.Second || c.IntermediateDelay > 10*time.Minute {
		return fmt.Errorf("%w: intermediate delay must be within [60s, 10m], got %s", ErrInvalidConfig, c.IntermediateDelay)
	}
	if c.ParticipantCount != 10 {
		return fmt.Errorf("%w: participant count is fixed at 10, got %d", ErrInvalidConfig, c.ParticipantCount)
	}
	return nil
}
