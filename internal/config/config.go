// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the voltstat YAML configuration.
//
// Loading is split in three stages: Load parses the file over Default,
// Validate checks it without mutating anything and Normalize fills the
// remaining defaults. Command-line flags are applied by cmd after Load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/voltstat/internal/export"
	"github.com/Thermoquad/voltstat/internal/logging"
	"github.com/Thermoquad/voltstat/internal/transport"
)

// Transport names
const (
	TransportBLE       = "ble"
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
	TransportSim       = "sim"
)

// Export format names
const (
	FormatCSV     = export.FormatCSV
	FormatParquet = export.FormatParquet
	FormatCBOR    = export.FormatCBOR
)

// Config is the top-level configuration file
type Config struct {
	Transport string              `yaml:"transport"`
	Log       logging.Config      `yaml:"log"`
	BLE       transport.BLEConfig `yaml:"ble"`
	Serial    SerialConfig        `yaml:"serial"`
	WebSocket WebSocketConfig     `yaml:"websocket"`
	Sim       transport.SimConfig `yaml:"sim"`
	Metrics   MetricsConfig       `yaml:"metrics"`
	Redis     RedisConfig         `yaml:"redis"`
	Export    ExportConfig        `yaml:"export"`
	Reconnect ReconnectConfig     `yaml:"reconnect"`
}

// SerialConfig selects a bridge on a serial port
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// WebSocketConfig selects a bridge behind a WebSocket endpoint. The
// password is never read from the file; it comes from the environment or
// a prompt.
type WebSocketConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	SkipVerify bool   `yaml:"skip_verify"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RedisConfig controls the Redis sample sink
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	Channel    string `yaml:"channel"`
	ListLength int64  `yaml:"list_length"`
}

// ExportConfig controls what a finished run is written to
type ExportConfig struct {
	Dir     string   `yaml:"dir"`
	Formats []string `yaml:"formats"`
}

// ReconnectConfig bounds the connection manager backoff
type ReconnectConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Transport: TransportBLE,
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
		BLE: transport.DefaultBLEConfig(),
		Serial: SerialConfig{
			Baud: 115200,
		},
		Sim: transport.DefaultSimConfig(),
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			Channel:    "voltstat:samples",
			ListLength: 1000,
		},
		Export: ExportConfig{
			Dir:     ".",
			Formats: []string{FormatCSV},
		},
		Reconnect: ReconnectConfig{
			Initial: time.Second,
			Max:     30 * time.Second,
		},
	}
}

// Load reads a configuration file over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Options converts the section to sink options
func (r RedisConfig) Options() export.RedisOptions {
	return export.RedisOptions{
		Addr:       r.Addr,
		Password:   r.Password,
		DB:         r.DB,
		PoolSize:   r.PoolSize,
		Channel:    r.Channel,
		ListLength: r.ListLength,
	}
}
