// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads furrow settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Server
	ServerPort string `env:"PORT" envDefault:"3001"`
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Simulation
	TickPeriod     time.Duration `env:"SIMULATION_UPDATE_RATE" envDefault:"100ms"`
	HardwareMode   bool          `env:"HARDWARE_MODE" envDefault:"false"`
	SnapshotMaxAge time.Duration `env:"SNAPSHOT_MAX_AGE" envDefault:"500ms"`
	NoiseSeed      int64         `env:"NOISE_SEED" envDefault:"0"`
	MapWidth       float64       `env:"MAP_WIDTH" envDefault:"10000"`
	MapHeight      float64       `env:"MAP_HEIGHT" envDefault:"8000"`
	RouteCatalog   string        `env:"ROUTE_CATALOG"`

	// Hardware link
	SerialPort        string `env:"SERIAL_PORT"`
	SerialBaud        int    `env:"SERIAL_BAUD" envDefault:"115200"`
	DecoderBufferSize int    `env:"DECODER_BUFFER_SIZE" envDefault:"4096"`
	CSVLogPath        string `env:"CSV_LOG_PATH"`

	// Events
	EventBuffer     int    `env:"EVENT_BUFFER" envDefault:"256"`
	MQTTBroker      string `env:"MQTT_BROKER"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"furrow"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"furrow"`
}

// Load reads .env if present, then the environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the environment without touching .env
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.TickPeriod <= 0:
		return fmt.Errorf("%w: SIMULATION_UPDATE_RATE must be positive, got %s", ErrInvalid, c.TickPeriod)
	case c.SnapshotMaxAge <= 0:
		return fmt.Errorf("%w: SNAPSHOT_MAX_AGE must be positive, got %s", ErrInvalid, c.SnapshotMaxAge)
	case c.MapWidth <= 0 || c.MapHeight <= 0:
		return fmt.Errorf("%w: map size %gx%g", ErrInvalid, c.MapWidth, c.MapHeight)
	case c.SerialBaud <= 0:
		return fmt.Errorf("%w: SERIAL_BAUD %d", ErrInvalid, c.SerialBaud)
	case c.DecoderBufferSize < 128:
		return fmt.Errorf("%w: DECODER_BUFFER_SIZE must hold two frames, got %d", ErrInvalid, c.DecoderBufferSize)
	case c.EventBuffer <= 0:
		return fmt.Errorf("%w: EVENT_BUFFER %d", ErrInvalid, c.EventBuffer)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: LOG_LEVEL %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}
