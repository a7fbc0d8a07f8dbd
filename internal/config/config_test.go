package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Network:           "testnet",
		Port:              8080,
		IntermediateDelay: 90 * time.Second,
		ParticipantCount:  10,
	}
}

func TestValidate_ValidMainnet(t *testing.T) {
	cfg := validConfig()
	cfg.Network = "mainnet"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_ValidTestnet(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_InvalidNetwork(t *testing.T) {
	tests := []struct {
		name    string
		network string
	}{
		{"empty", ""},
		{"foobar", "foobar"},
		{"Mainnet case sensitive", "Mainnet"},
		{"devnet", "devnet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Network = tt.network
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() expected error for network=%q, got nil", tt.network)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too high", 65536},
		{"way too high", 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Port = tt.port
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() expected error for port=%d, got nil", tt.port)
			}
		})
	}
}

func TestValidate_ValidPortBoundaries(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"minimum valid", 1},
		{"maximum valid", 65535},
		{"common port", 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Port = tt.port
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v for port=%d, want nil", err, tt.port)
			}
		})
	}
}

func TestValidate_IntermediateDelayBounds(t *testing.T) {
	tests := []struct {
		name    string
		delay   time.Duration
		wantErr bool
	}{
		{"too short", 30 * time.Second, true},
		{"minimum valid", 60 * time.Second, false},
		{"default", 90 * time.Second, false},
		{"maximum valid", 10 * time.Minute, false},
		{"too long", 11 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.IntermediateDelay = tt.delay
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("Validate() expected error for delay=%s, got nil", tt.delay)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() error = %v for delay=%s, want nil", err, tt.delay)
			}
		})
	}
}

func TestValidate_ParticipantCountFixed(t *testing.T) {
	cfg := validConfig()
	cfg.ParticipantCount = 9
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for non-10 participant count, got nil")
	}
}

func TestConfig_DefaultValues(t *testing.T) {
	cfg := validConfig()
	cfg.DBPath = "./data/kasmix.sqlite"
	cfg.LogLevel = "info"
	cfg.LogDir = "./logs"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on default-like config: %v", err)
	}
}
