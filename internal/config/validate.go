// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ------------------------------------------------------------
	// LOGGING
	// ------------------------------------------------------------

	if cfg.Log.Level != "" {
		if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: use text or json", cfg.Log.Format)
	}

	// ------------------------------------------------------------
	// TRANSPORT
	// ------------------------------------------------------------

	switch strings.ToLower(cfg.Transport) {
	case "", TransportBLE:
		if err := cfg.BLE.Validate(); err != nil {
			return err
		}
	case TransportSerial:
		if cfg.Serial.Port == "" {
			return fmt.Errorf("transport %q requires serial.port", cfg.Transport)
		}
	case TransportWebSocket:
		if cfg.WebSocket.URL == "" {
			return fmt.Errorf("transport %q requires websocket.url", cfg.Transport)
		}
	case TransportSim:
	default:
		return fmt.Errorf("unknown transport %q (use ble, serial, websocket or sim)", cfg.Transport)
	}

	if cfg.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must not be negative")
	}

	if cfg.WebSocket.URL != "" {
		u, err := url.Parse(cfg.WebSocket.URL)
		if err != nil {
			return fmt.Errorf("websocket.url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("websocket.url %q: scheme must be ws or wss", cfg.WebSocket.URL)
		}
	}

	if cfg.Sim.Samples < 0 || cfg.Sim.MaxChunk < 0 || cfg.Sim.Interval < 0 {
		return fmt.Errorf("sim: samples, max_chunk and interval must not be negative")
	}

	if cfg.Reconnect.Initial < 0 || cfg.Reconnect.Max < 0 {
		return fmt.Errorf("reconnect: durations must not be negative")
	}
	if cfg.Reconnect.Max > 0 && cfg.Reconnect.Initial > cfg.Reconnect.Max {
		return fmt.Errorf("reconnect.initial %s exceeds reconnect.max %s", cfg.Reconnect.Initial, cfg.Reconnect.Max)
	}

	// ------------------------------------------------------------
	// SINKS
	// ------------------------------------------------------------

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis is enabled but redis.addr is empty")
	}
	if cfg.Redis.PoolSize < 0 || cfg.Redis.ListLength < 0 {
		return fmt.Errorf("redis: pool_size and list_length must not be negative")
	}

	seen := make(map[string]bool)
	for _, f := range cfg.Export.Formats {
		name := strings.ToLower(f)
		switch name {
		case FormatCSV, FormatParquet, FormatCBOR:
		default:
			return fmt.Errorf("export.formats: unknown format %q (use csv, parquet or cbor)", f)
		}
		if seen[name] {
			return fmt.Errorf("export.formats: %q listed twice", f)
		}
		seen[name] = true
	}

	return nil
}
