// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.ServerPort != "3001" || cfg.Addr() != ":3001" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
	if cfg.TickPeriod != 100*time.Millisecond {
		t.Errorf("TickPeriod = %s", cfg.TickPeriod)
	}
	if cfg.SnapshotMaxAge != 500*time.Millisecond {
		t.Errorf("SnapshotMaxAge = %s", cfg.SnapshotMaxAge)
	}
	if cfg.SerialBaud != 115200 || cfg.DecoderBufferSize != 4096 || cfg.EventBuffer != 256 {
		t.Errorf("Link defaults %d %d %d", cfg.SerialBaud, cfg.DecoderBufferSize, cfg.EventBuffer)
	}
	if cfg.MapWidth != 10000 || cfg.MapHeight != 8000 {
		t.Errorf("Map %gx%g", cfg.MapWidth, cfg.MapHeight)
	}
	if cfg.MQTTBroker != "" || cfg.MQTTClientID != "furrow" || cfg.MQTTTopicPrefix != "furrow" {
		t.Errorf("MQTT defaults %q %q %q", cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
	}
	if cfg.HardwareMode || cfg.Debug {
		t.Error("Hardware mode or debug on by default")
	}
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("SIMULATION_UPDATE_RATE", "50ms")
	t.Setenv("HARDWARE_MODE", "true")
	t.Setenv("NOISE_SEED", "42")
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ServerPort != "8080" || cfg.TickPeriod != 50*time.Millisecond || !cfg.HardwareMode || cfg.NoiseSeed != 42 {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
	if cfg.MQTTBroker != "tcp://localhost:1883" {
		t.Errorf("MQTTBroker = %q", cfg.MQTTBroker)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		invalid bool
	}{
		{"bad duration", "SIMULATION_UPDATE_RATE", "fast", false},
		{"bad int", "SERIAL_BAUD", "lots", false},
		{"zero tick", "SIMULATION_UPDATE_RATE", "0s", true},
		{"small buffer", "DECODER_BUFFER_SIZE", "64", true},
		{"log level", "LOG_LEVEL", "verbose", true},
		{"map size", "MAP_WIDTH", "-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Parse()
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.invalid && !errors.Is(err, ErrInvalid) {
				t.Errorf("Error %v is not ErrInvalid", err)
			}
			if !tt.invalid && !strings.Contains(err.Error(), "parse env:") {
				t.Errorf("Expected parse env prefix, got %v", err)
			}
		})
	}
}
